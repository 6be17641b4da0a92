// Package policy loads and indexes the declarative access profile documents
// ("Amsterdam Schema") that map datasets and scopes to permitted fields and
// search parameters.
//
// Documents are flattened at load time into plain lookup tables; the request
// hot path never resolves includes or compiles patterns.
package policy

import "strings"

// Classification tags a field for default-deny reasoning. Every field needs an
// explicit grant regardless of classification; the tag drives logging and
// policy review, not runtime shortcuts.
type Classification string

const (
	ClassificationBasic      Classification = "basic"
	ClassificationRestricted Classification = "restricted"
	ClassificationSensitive  Classification = "sensitive"
)

// FieldDefinition declares one dotted path into the upstream response
// structure. Arrays and nested objects are addressed uniformly: the path of an
// array element is the path of the array itself.
type FieldDefinition struct {
	Path           string
	Classification Classification
}

// ValueRule constrains which values a granted search parameter may carry.
// The zero value denies everything; a rule with AllowAll set permits any
// value. Exact matches and wildcard prefixes ("19*") union together.
type ValueRule struct {
	AllowAll bool
	Exact    map[string]struct{}
	Prefixes []string
}

// Allows reports whether the rule permits the given parameter value.
func (r ValueRule) Allows(value string) bool {
	if r.AllowAll {
		return true
	}
	if _, ok := r.Exact[value]; ok {
		return true
	}
	for _, p := range r.Prefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

// Union merges another rule into a copy of this one, permissively.
func (r ValueRule) Union(other ValueRule) ValueRule {
	if r.AllowAll || other.AllowAll {
		return ValueRule{AllowAll: true}
	}
	merged := ValueRule{Exact: make(map[string]struct{}, len(r.Exact)+len(other.Exact))}
	for v := range r.Exact {
		merged.Exact[v] = struct{}{}
	}
	for v := range other.Exact {
		merged.Exact[v] = struct{}{}
	}
	merged.Prefixes = append(append([]string{}, r.Prefixes...), other.Prefixes...)
	return merged
}

// ScopeGrant lists what one scope unlocks within a dataset: response field
// paths and search parameters with their value rules. A field or parameter
// absent from every grant a caller holds is never returned or accepted.
type ScopeGrant struct {
	Scope      string
	Fields     []string
	Parameters map[string]ValueRule
}

// Document is the flattened, immutable access profile for one dataset.
// It is never mutated after Load; reloads build a complete replacement.
type Document struct {
	ID      string
	Version string

	// Operations maps each supported operation name ("type" in Haal Centraal
	// terms) to extra scopes required on top of holding any grant. An empty
	// slice means any grant suffices.
	Operations map[string][]string

	// Fields indexes every declared field definition by dotted path,
	// including definitions pulled in through includes.
	Fields map[string]FieldDefinition

	// Grants indexes scope grants by scope name.
	Grants map[string]ScopeGrant
}

// SupportsOperation reports whether the document declares the operation.
func (d *Document) SupportsOperation(name string) bool {
	_, ok := d.Operations[name]
	return ok
}
