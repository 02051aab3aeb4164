// internal/handlers/utils.go
package handlers

import "strings"

// extractCookieToken extracts a named cookie value from a "Cookie" header,
// or returns empty if not found. Only whole cookie names match, so a cookie
// like "x_session_token" never satisfies a lookup for "session_token".
func extractCookieToken(cookieHeader, cookieName string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if val, ok := strings.CutPrefix(part, cookieName+"="); ok {
			return val
		}
	}
	return ""
}
