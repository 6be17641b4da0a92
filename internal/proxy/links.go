package proxy

// RewriteLinks replaces href values under _links sections that point at the
// upstream base URL with the proxy's own base, so pagination links returned
// by the registry keep working for the caller. The payload is modified in
// place; everything outside _links sections is left untouched.
func RewriteLinks(data any, upstreamBase, proxyBase string) {
	if upstreamBase == "" || proxyBase == "" {
		return
	}
	rewriteLinks(data, upstreamBase, proxyBase, false)
}

func rewriteLinks(data any, find, replace string, inLinks bool) {
	switch v := data.(type) {
	case []any:
		for _, child := range v {
			rewriteLinks(child, find, replace, inLinks)
		}
	case map[string]any:
		if inLinks {
			if href, ok := v["href"].(string); ok && len(href) >= len(find) && href[:len(find)] == find {
				v["href"] = replace + href[len(find):]
			}
		}
		if links, ok := v["_links"]; ok {
			rewriteLinks(links, find, replace, true)
			// Siblings of _links may still contain nested _links sections.
		}
		for key, child := range v {
			if key == "_links" {
				continue
			}
			rewriteLinks(child, find, replace, inLinks)
		}
	}
}
