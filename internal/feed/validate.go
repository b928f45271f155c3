package feed

import (
	"fmt"
	"regexp"
	"strings"
)

var guidPattern = regexp.MustCompile(`<guid[^>]*>([^<]+)</guid>`)

// ValidateDocument performs a structural sanity check on a rendered feed
// before it is cached or persisted. It is intentionally shallow; full XML
// parsing belongs to the consuming client, this guards against rendering
// bugs that would produce truncated or duplicated output.
func ValidateDocument(doc string) error {
	if !strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`) {
		return fmt.Errorf("feed: validate: missing XML declaration")
	}
	for _, marker := range []string{`<rss version="2.0"`, "</rss>", "<channel>", "</channel>"} {
		if !strings.Contains(doc, marker) {
			return fmt.Errorf("feed: validate: missing %s", marker)
		}
	}

	seen := make(map[string]struct{})
	for _, match := range guidPattern.FindAllStringSubmatch(doc, -1) {
		guid := match[1]
		if _, dup := seen[guid]; dup {
			return fmt.Errorf("feed: validate: duplicate guid %s", guid)
		}
		seen[guid] = struct{}{}
	}
	return nil
}
