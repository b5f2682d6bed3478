package domain

import (
	"path"
	"strings"
)

// NormalizePath returns the canonical slash-separated form used as a path-lock key.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSuffix(p, "/")
}

// NormalizePaths cleans, drops empties and dedupes while keeping first-seen order.
func NormalizePaths(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		p := NormalizePath(raw)
		if p == "" || p == "." {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
