package observability

import "unicode"

const maxFieldRunes = 256

// clean strips control characters (except common whitespace) and caps the
// rune count so attacker-supplied values cannot break log lines apart.
func clean(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldRunes
	}

	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

// SanitizeRoute normalises a route template for log and trace attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

// SanitizeMethod bounds the HTTP method string.
func SanitizeMethod(method string) string {
	return clean(method, 10)
}

// SanitizeUserID caps user identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return clean(uid, 64)
}
