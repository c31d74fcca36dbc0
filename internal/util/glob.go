package util

import (
	"path"
	"strings"
)

// MatchIndex reports whether an index name matches a multi-target pattern
// such as "events*" or "events*,audit-*". Each comma-separated element uses
// path.Match syntax; index names never contain '/', so '*' spans the name.
func MatchIndex(pattern, name string) bool {
	for _, p := range strings.Split(pattern, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if matched, _ := path.Match(p, name); matched {
			return true
		}
	}
	return false
}
