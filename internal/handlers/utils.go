package handlers

import "strings"

// extractCookieToken pulls a named cookie's value out of a raw Cookie header.
// Returns "" when the cookie is absent. Used where the request arrives outside
// net/http's cookie parsing (websocket upgrade headers).
func extractCookieToken(cookieHeader, cookieName string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if val, ok := strings.CutPrefix(part, cookieName+"="); ok {
			return val
		}
	}
	return ""
}
