// Package authz computes the effective permission of a caller for one
// dataset: the union of every grant their scopes unlock, strictly bounded by
// the policy (default-deny).
package authz

import (
	"strings"

	"github.com/Amsterdam/haal-centraal-proxy/internal/policy"
	strutil "github.com/Amsterdam/haal-centraal-proxy/pkg/platform/strings"
)

// EffectivePermission is the per-request union of all field and parameter
// grants a caller holds for one dataset. It is owned by the request that
// computed it and never cached across requests.
type EffectivePermission struct {
	Dataset   string
	Operation string

	// GrantingScopes lists the caller scopes that contributed a grant,
	// sorted. Recorded in the audit trail.
	GrantingScopes []string

	fields     map[string]struct{}
	parameters map[string]policy.ValueRule
}

// AllowedFields returns the granted field paths, sorted.
func (p *EffectivePermission) AllowedFields() []string {
	return strutil.SortedKeys(p.fields)
}

// ParameterRule returns the value rule for a granted parameter name.
func (p *EffectivePermission) ParameterRule(name string) (policy.ValueRule, bool) {
	rule, ok := p.parameters[name]
	return rule, ok
}

// AllowedParameters returns the granted parameter names, sorted.
func (p *EffectivePermission) AllowedParameters() []string {
	names := make(map[string]struct{}, len(p.parameters))
	for name := range p.parameters {
		names[name] = struct{}{}
	}
	return strutil.SortedKeys(names)
}

// FieldGranted reports whether the exact path, or any ancestor of it, is
// granted. A grant on "adres" unlocks the whole subtree beneath it.
func (p *EffectivePermission) FieldGranted(path string) bool {
	if _, ok := p.fields[path]; ok {
		return true
	}
	for i := len(path) - 1; i > 0; i-- {
		if path[i] != '.' {
			continue
		}
		if _, ok := p.fields[path[:i]]; ok {
			return true
		}
	}
	return false
}

// SubtreeGranted reports whether any granted path lies strictly under the
// given container path. Used to keep container objects whose children are
// (partially) granted.
func (p *EffectivePermission) SubtreeGranted(path string) bool {
	prefix := path + "."
	for granted := range p.fields {
		if strings.HasPrefix(granted, prefix) {
			return true
		}
	}
	return false
}

// FieldCount returns the number of granted field paths.
func (p *EffectivePermission) FieldCount() int { return len(p.fields) }
