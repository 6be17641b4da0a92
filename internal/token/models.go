// Package token validates bearer tokens against the currently published key
// set and derives the caller context used by the authorization resolver.
package token

import "time"

// Caller is the per-request context derived from a validated token. It is
// owned by the request that computed it: never persisted, never cached keyed
// by token.
type Caller struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time

	scopeSet map[string]struct{}
}

// HasScope reports whether the caller holds the given scope.
func (c *Caller) HasScope(scope string) bool {
	_, ok := c.scopeSet[scope]
	return ok
}

// NewCaller builds a caller context from normalized scopes. Exposed for tests
// and for the resolver's own unit tests; production callers come out of
// Validator.Validate.
func NewCaller(subject string, scopes []string, expiresAt time.Time) *Caller {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &Caller{Subject: subject, Scopes: scopes, ExpiresAt: expiresAt, scopeSet: set}
}
