package cachecontrol

import (
	"strconv"
	"strings"
)

// RequestDirective represents parsed Cache-Control header directives from an
// inbound request. Client intent overrides server policy: a request carrying
// no-store forces the response directive to exactly "no-store".
type RequestDirective struct {
	MaxAge  *int // max-age directive value in seconds
	NoCache bool // no-cache directive present
	NoStore bool // no-store directive present
}

// ParseRequestDirective parses a Cache-Control header string.
//
// Format: Cache-Control: directive1, directive2=value, directive3
//
// Unknown directives are silently ignored.
func ParseRequestDirective(header string) RequestDirective {
	directive := RequestDirective{}

	if header == "" {
		return directive
	}

	parts := strings.Split(header, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			key := strings.TrimSpace(strings.ToLower(kv[0]))
			value := strings.TrimSpace(kv[1])

			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.MaxAge = &seconds
				}
			}
		} else {
			switch strings.ToLower(part) {
			case "no-cache":
				directive.NoCache = true
			case "no-store":
				directive.NoStore = true
			}
		}
	}

	return directive
}
