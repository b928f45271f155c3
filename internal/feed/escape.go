package feed

import "strings"

// escaper rewrites the five reserved markup characters. Every user- or
// metadata-derived string inserted into the document goes through this, no
// exceptions.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// escapeXML renders s safe for XML content and attribute positions.
func escapeXML(s string) string {
	return escaper.Replace(s)
}

// truncate shortens s to at most limit runes, appending an ellipsis when
// anything was cut. A non-positive limit disables truncation.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
