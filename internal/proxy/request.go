// Package proxy implements the request pipeline: validate the caller's query
// against their effective permission, forward it, and filter the response
// down to the granted fields.
package proxy

import (
	"sort"
	"strings"

	"github.com/Amsterdam/haal-centraal-proxy/internal/authz"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
)

// Request is the decoded inbound query, already lifted out of HTTP by the
// transport layer.
type Request struct {
	Dataset   string
	Operation string

	// Parameters holds every search parameter from the request body. Multiple
	// values per name are possible (the BRP API accepts arrays for some).
	Parameters map[string][]string

	// Fields is the caller's requested field selection; empty means "whatever
	// I am allowed to see".
	Fields []string
}

// ValidatedRequest is the rewritten request that goes upstream. Its field
// selection is always explicit: the proxy never forwards an open-ended query.
type ValidatedRequest struct {
	Operation  string
	Parameters map[string][]string
	Fields     []string
}

// Body builds the upstream JSON body.
func (v *ValidatedRequest) Body() map[string]any {
	body := make(map[string]any, len(v.Parameters)+2)
	body["type"] = v.Operation
	body["fields"] = v.Fields
	for name, values := range v.Parameters {
		if len(values) == 1 {
			body[name] = values[0]
		} else {
			body[name] = values
		}
	}
	return body
}

// ValidateRequest checks the query against the effective permission.
//
// The asymmetry is deliberate: an ungranted parameter is a hard failure
// (likely a client bug or probing), while an over-broad field selection is
// silently trimmed (clients routinely ask for more than they may see). Only
// when nothing of the selection survives does validation fail.
func ValidateRequest(req Request, perm *authz.EffectivePermission) (*ValidatedRequest, error) {
	var disallowed []string
	for name := range req.Parameters {
		if _, ok := perm.ParameterRule(name); !ok {
			disallowed = append(disallowed, name)
		}
	}
	if len(disallowed) > 0 {
		sort.Strings(disallowed)
		return nil, dErrors.NewParam(dErrors.CodeDisallowedParameter,
			strings.Join(disallowed, ", "),
			"one or more parameters are not permitted")
	}

	for name, values := range req.Parameters {
		rule, _ := perm.ParameterRule(name)
		for _, value := range values {
			if !rule.Allows(value) {
				return nil, dErrors.NewParam(dErrors.CodeDisallowedParameterValue,
					name, "parameter value not permitted")
			}
		}
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = perm.AllowedFields()
	} else {
		kept := make([]string, 0, len(fields))
		for _, f := range fields {
			if perm.FieldGranted(f) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			return nil, dErrors.New(dErrors.CodeNoFieldsPermitted,
				"none of the requested fields are permitted")
		}
		fields = kept
	}

	params := make(map[string][]string, len(req.Parameters))
	for name, values := range req.Parameters {
		params[name] = append([]string{}, values...)
	}

	return &ValidatedRequest{
		Operation:  req.Operation,
		Parameters: params,
		Fields:     fields,
	}, nil
}
