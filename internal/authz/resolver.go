package authz

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Amsterdam/haal-centraal-proxy/internal/policy"
	"github.com/Amsterdam/haal-centraal-proxy/internal/token"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
)

// PolicySource is the read side of the policy store.
type PolicySource interface {
	Lookup(datasetID string) (*policy.Document, error)
}

// Resolver computes effective permissions from the policy store.
type Resolver struct {
	policies PolicySource
	logger   *slog.Logger
}

// NewResolver builds a resolver over the given policy source.
func NewResolver(policies PolicySource, logger *slog.Logger) *Resolver {
	return &Resolver{policies: policies, logger: logger}
}

// Resolve computes the caller's effective permission for one dataset and
// operation.
//
// Grants union permissively: a caller with multiple scopes sees the superset
// each scope allows. Zero matching grants is NoGrantedScope, kept distinct
// from UnknownDataset so "authenticated but no rights here" and "no such
// dataset" stay separate failure classes.
func (r *Resolver) Resolve(ctx context.Context, caller *token.Caller, datasetID, operation string) (*EffectivePermission, error) {
	doc, err := r.policies.Lookup(datasetID)
	if err != nil {
		return nil, err
	}

	if !doc.SupportsOperation(operation) {
		return nil, dErrors.NewParam(dErrors.CodeBadRequest, "type",
			"one or more parameters are incorrect")
	}

	perm := &EffectivePermission{
		Dataset:    datasetID,
		Operation:  operation,
		fields:     make(map[string]struct{}),
		parameters: make(map[string]policy.ValueRule),
	}

	for _, scope := range caller.Scopes {
		grant, ok := doc.Grants[scope]
		if !ok {
			continue
		}
		perm.GrantingScopes = append(perm.GrantingScopes, scope)
		for _, fieldPath := range grant.Fields {
			perm.fields[fieldPath] = struct{}{}
		}
		for name, rule := range grant.Parameters {
			perm.parameters[name] = perm.parameters[name].Union(rule)
		}
	}

	if len(perm.GrantingScopes) == 0 {
		if r.logger != nil {
			r.logger.InfoContext(ctx, "access denied, no granted scope",
				"dataset", datasetID,
				"subject", caller.Subject,
				"granted_scopes", caller.Scopes,
			)
		}
		return nil, dErrors.Newf(dErrors.CodeNoGrantedScope,
			"no granted scope for dataset %q", datasetID)
	}

	// Operation-level scope requirements come on top of holding any grant.
	for _, required := range doc.Operations[operation] {
		if !caller.HasScope(required) {
			if r.logger != nil {
				r.logger.InfoContext(ctx, "access denied, operation requires missing scope",
					"dataset", datasetID,
					"operation", operation,
					"subject", caller.Subject,
				)
			}
			return nil, dErrors.Newf(dErrors.CodeNoGrantedScope,
				"not authorized for operation %q", operation)
		}
	}

	sort.Strings(perm.GrantingScopes)
	return perm, nil
}
