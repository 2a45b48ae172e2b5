package storage

import "strings"

// MatchesFilter reports whether a server record satisfies the capability
// portion of a filter: tags and tools are intersection matches, resource
// prefixes are a union match. Tenant and health are assumed to be checked
// by the caller (or pushed into the query).
func MatchesFilter(rec *ServerRecord, filter ServerFilter) bool {
	if len(filter.Tags) > 0 {
		have := make(map[string]struct{}, len(rec.Tags))
		for _, t := range rec.Tags {
			have[t] = struct{}{}
		}
		for _, want := range filter.Tags {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}

	if len(filter.Tools) > 0 {
		have := effectiveTools(rec)
		for _, want := range filter.Tools {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}

	if len(filter.ResourcePrefixes) > 0 {
		patterns := effectiveResources(rec)
		matched := false
	outer:
		for _, prefix := range filter.ResourcePrefixes {
			for _, pat := range patterns {
				if MatchesResourcePrefix(pat, prefix) {
					matched = true
					break outer
				}
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// effectiveTools is the union of the advertised capability descriptor and
// the discovered tool rows.
func effectiveTools(rec *ServerRecord) map[string]struct{} {
	out := make(map[string]struct{}, len(rec.Capabilities.Tools)+len(rec.Tools))
	for _, t := range rec.Capabilities.Tools {
		out[t] = struct{}{}
	}
	for _, t := range rec.Tools {
		out[t.Name] = struct{}{}
	}
	return out
}

func effectiveResources(rec *ServerRecord) []string {
	out := make([]string, 0, len(rec.Capabilities.Resources)+len(rec.Resources))
	out = append(out, rec.Capabilities.Resources...)
	for _, r := range rec.Resources {
		out = append(out, r.URITemplate)
	}
	return out
}

// MatchesResourcePrefix reports whether a requested URI prefix falls under
// an advertised resource pattern. A trailing "*" on the pattern matches any
// continuation; otherwise either side may be a prefix of the other, since a
// client asking for "config://" should match a server advertising
// "config://app/settings".
func MatchesResourcePrefix(pattern, prefix string) bool {
	if base, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(prefix, base) || strings.HasPrefix(base, prefix)
	}
	return strings.HasPrefix(pattern, prefix) || strings.HasPrefix(prefix, pattern)
}
