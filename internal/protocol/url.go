package protocol

import (
	"net"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// NormalizeURL canonicalizes a page URI for use as an I/i anchor. It returns
// the scheme-stripped form (lowercase host, no default port, no fragment, no
// trailing slash) and the scheme, which travels separately in K/k tags.
// Input that does not parse as an absolute URL is returned unchanged with an
// empty protocol.
func NormalizeURL(raw string) (normalized, protocol string) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw, ""
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && defaultPorts[scheme] != port {
		host = net.JoinHostPort(host, port)
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.WriteString(host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String(), scheme
}

// DocumentTitle derives a display title from a URI: its hostname, or "" when
// the URI does not parse or points at localhost.
func DocumentTitle(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "localhost" {
		return ""
	}
	return host
}
