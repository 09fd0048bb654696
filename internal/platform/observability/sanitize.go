package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLength      = 180
	maxIdentifierLength = 64
	maxAnnotationLength = 128
)

// sanitizeString drops control characters, newlines included, so a client supplied value
// cannot forge a log line, and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	cleaned := make([]rune, 0, min(len(value), limit))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if len(cleaned) == limit {
			break
		}
		cleaned = append(cleaned, r)
	}
	return string(cleaned)
}

// SanitizeRoute prepares a chi route pattern for logs and span names.
func SanitizeRoute(route string) string {
	route = sanitizeString(route, maxRouteLength)
	if route == "" {
		return "/"
	}
	return route
}

// SanitizeMethod upper-cases the method and rejects anything that is not a token.
func SanitizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" || len(method) > 10 {
		return "OTHER"
	}
	for _, r := range method {
		if r < 'A' || r > 'Z' {
			return "OTHER"
		}
	}
	return method
}

// SanitizeIdentifier keeps the characters order ids, operator ids, provider references and
// actor strings are made of and drops the rest.
func SanitizeIdentifier(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		if b.Len() == maxIdentifierLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.' || r == ':':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// identifierKeys are annotation keys whose values are ids rather than free text.
var identifierKeys = map[string]struct{}{
	"order_id":          {},
	"actor":             {},
	"payment_reference": {},
	"product_id":        {},
}

func sanitizeAnnotation(key, value string) string {
	if _, ok := identifierKeys[key]; ok {
		return SanitizeIdentifier(value)
	}
	return sanitizeString(value, maxAnnotationLength)
}
