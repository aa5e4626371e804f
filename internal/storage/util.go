package storage

import (
	"os"
	"sort"
	"strings"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// NormalizeHostnames lowercases, trims, de-duplicates and sorts hostnames.
// Empty entries are dropped.
func NormalizeHostnames(hostnames []string) []string {
	seen := make(map[string]struct{}, len(hostnames))
	out := make([]string, 0, len(hostnames))
	for _, h := range hostnames {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
