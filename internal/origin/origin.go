// Package origin validates browser Origin headers for the WebSocket and HTTP
// surfaces.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header and returns it in canonical
// scheme://host[:port] form, with default ports stripped. The special value
// "null" (sandboxed frames, file:// pages) is allowed and returned as-is.
func Normalize(originHeader string) (string, bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if !((scheme == "http" && n == 80) || (scheme == "https" && n == 443)) {
			host = host + ":" + p
		}
	}

	return scheme + "://" + host, true
}

// Allowed reports whether a normalized origin may use the service.
//
// With a non-empty allowlist, each entry must be "*" or a normalized origin.
// With an empty allowlist the policy is same-host: the origin's host[:port]
// must match the request's Host header (scheme is deliberately not compared,
// since a TLS-terminating proxy makes the backend see http for an https page).
func Allowed(normalizedOrigin, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, rest, ok := strings.Cut(normalizedOrigin, "://")
	if !ok {
		// "null" and anything unnormalized can never match a host.
		return false
	}

	host := strings.ToLower(strings.TrimSpace(requestHost))
	if h, p, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && p == "80") || (scheme == "https" && p == "443") {
			host = h
			if strings.Contains(h, ":") && !strings.HasPrefix(h, "[") {
				host = "[" + h + "]"
			}
		}
	}
	return rest == host
}
