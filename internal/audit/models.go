// Package audit records one structured event per access decision. Recording
// is fire-and-forget from the pipeline's perspective; a lost event never
// fails a request but is always counted, because silently losing audit trail
// is itself a compliance failure.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a request ended.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Event is one append-only audit record. Created at decision time, written
// once, never mutated. Parameter values are deliberately absent: search
// values are personal data, names are not.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`

	Subject   string `json:"subject"`
	Dataset   string `json:"dataset"`
	Operation string `json:"operation,omitempty"`

	// GrantedScopes are the caller scopes that contributed to the decision.
	GrantedScopes []string `json:"granted_scopes,omitempty"`

	// Parameters lists the requested search parameter names.
	Parameters []string `json:"parameters,omitempty"`

	// DeniedParameters names parameters that caused a denial, if any.
	DeniedParameters []string `json:"denied_parameters,omitempty"`

	// FieldCount is the number of leaf fields in the filtered response.
	FieldCount int `json:"field_count"`

	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Store persists audit events. Implementations must be safe for use by the
// single worker goroutine plus tests.
type Store interface {
	Append(ctx context.Context, event Event) error
}
