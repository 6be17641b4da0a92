package proxy

import (
	"strings"

	"github.com/Amsterdam/haal-centraal-proxy/internal/authz"
)

// Filter strips every field from the upstream payload whose dotted path is
// outside the effective permission's allowed set. It is purely structural:
// values are never renamed or transformed, array element order is preserved,
// and a payload with zero surviving fields comes back as an empty object
// rather than an error (the all-denied case was already rejected before the
// upstream call was made).
//
// HAL envelope keys (leading underscore) are passed through: "_links" is kept
// whole for later rewriting, other envelope keys are filtered as if their
// children sat at the envelope's own level.
func Filter(payload map[string]any, perm *authz.EffectivePermission) map[string]any {
	out, _ := filterObject(payload, "", perm)
	if out == nil {
		return map[string]any{}
	}
	return out
}

// CountLeaves counts the scalar leaves in a filtered payload, ignoring HAL
// envelope keys. Audit records carry this as the returned field count.
func CountLeaves(node any) int {
	switch v := node.(type) {
	case map[string]any:
		count := 0
		for key, child := range v {
			if strings.HasPrefix(key, "_") {
				continue
			}
			count += CountLeaves(child)
		}
		return count
	case []any:
		count := 0
		for _, child := range v {
			count += CountLeaves(child)
		}
		return count
	default:
		return 1
	}
}

func filterObject(obj map[string]any, path string, perm *authz.EffectivePermission) (map[string]any, bool) {
	out := make(map[string]any, len(obj))
	for key, value := range obj {
		if strings.HasPrefix(key, "_") {
			if key == "_links" {
				out[key] = value
				continue
			}
			// Envelope container: children keep the current path root.
			if kept, ok := filterValue(value, path, perm); ok {
				out[key] = kept
			}
			continue
		}

		childPath := joinPath(path, key)
		if perm.FieldGranted(childPath) {
			out[key] = value
			continue
		}
		if perm.SubtreeGranted(childPath) {
			if kept, ok := filterValue(value, childPath, perm); ok {
				out[key] = kept
			}
		}
	}
	return out, len(out) > 0
}

func filterValue(value any, path string, perm *authz.EffectivePermission) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return filterObject(v, path, perm)
	case []any:
		// Array elements share the array's path: the element pattern is the
		// unit of authorization, not the index.
		out := make([]any, 0, len(v))
		for _, elem := range v {
			if kept, ok := filterValue(elem, path, perm); ok {
				out = append(out, kept)
			}
		}
		return out, len(out) > 0
	default:
		// A bare scalar at a container path: only an explicit grant keeps it,
		// and that case was handled by the caller.
		return nil, false
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
