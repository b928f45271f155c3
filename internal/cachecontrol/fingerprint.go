package cachecontrol

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Fingerprint computes a deterministic entity tag for the given content using
// FNV-1a, returned in quoted strong-validator form (`"16 hex digits"`).
func Fingerprint(content string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", h.Sum64()))
}

// etagMatches evaluates an If-None-Match header value against the computed
// entity tag. The header may carry a list of tags or the "*" wildcard; weak
// validator prefixes are stripped before comparison since a byte-identical
// body satisfies weak comparison too.
func etagMatches(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
