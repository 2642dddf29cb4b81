// Package safety provides UPS name filtering and audit logging for the
// nut-mcp tool surface.
package safety

import "path/filepath"

// Filter decides which UPS names the tools may expose, using an allowlist
// and a denylist of filepath.Match glob patterns.
//
// Rules:
//   - A nil Filter, or one with both lists empty, allows every name.
//   - Denylist always takes priority over the allowlist.
//   - If a non-empty allowlist is present, a name must match at least one
//     allowlist pattern to be permitted.
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter constructs a Filter from the provided allowlist and denylist
// pattern slices. Either or both may be nil or empty.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: allowlist,
		denylist:  denylist,
	}
}

// IsAllowed reports whether the UPS called name may be exposed.
func (f *Filter) IsAllowed(name string) bool {
	if f == nil {
		return true
	}
	if matchAny(f.denylist, name) {
		return false
	}
	return len(f.allowlist) == 0 || matchAny(f.allowlist, name)
}

// matchAny reports whether name matches any pattern. Malformed patterns never
// match.
func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
