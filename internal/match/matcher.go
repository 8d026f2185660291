// Package match decides whether a stored entry URL legitimately matches a
// requested page URL, using registrable-domain comparison with a restricted
// wildcard for subdomains.
package match

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// illegalChars are rejected anywhere in a stored entry URL.
const illegalChars = "<>^`{|}"

// defaultScheme is assumed for entry URLs written without one.
const defaultScheme = "https"

// maxShortenSteps bounds the iterative hostname-shortening search.
const maxShortenSteps = 32

// Matches reports whether entryURL is a legitimate match for the page at
// pageURL (form submitted to submitURL). Unparseable or empty entry URLs
// fail closed.
func Matches(entryURL, pageURL, submitURL string, matchScheme bool) bool {
	if entryURL == "" {
		return false
	}

	entry, err := parseEntryURL(entryURL, matchScheme)
	if err != nil {
		return false
	}

	// Local files carry no domain: degrade to exact comparison.
	if strings.Contains(pageURL, "file://") {
		return entryURL == submitURL
	}

	if entry.Hostname() == "" {
		return false
	}

	page, err := url.Parse(pageURL)
	if err != nil {
		return false
	}

	// An explicit entry port must agree with the page's effective port.
	if entry.Port() != "" && entry.Port() != effectivePort(page) {
		return false
	}

	if matchScheme && entry.Scheme != "" && entry.Scheme != page.Scheme {
		return false
	}

	if strings.ContainsAny(entryURL, illegalChars) {
		return false
	}

	if BaseDomain(page.Hostname()) != BaseDomain(entry.Hostname()) {
		return false
	}

	// Restricted wildcard: a parent-domain entry matches any subdomain
	// page within the same registrable domain.
	return strings.HasSuffix(page.Hostname(), entry.Hostname())
}

// effectivePort returns the explicit page port, or the default port of its
// scheme when none is given.
func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}

// parseEntryURL parses a stored entry URL, defaulting the scheme when the
// user wrote a bare hostname.
func parseEntryURL(entryURL string, matchScheme bool) (*url.URL, error) {
	if strings.Contains(entryURL, "://") {
		return url.Parse(entryURL)
	}
	u, err := url.Parse(defaultScheme + "://" + entryURL)
	if err != nil {
		return nil, err
	}
	if !matchScheme {
		u.Scheme = ""
	}
	return u, nil
}

// BaseDomain returns the registrable domain of a hostname, e.g.
// "another.example.co.uk" -> "example.co.uk". Literal IP addresses are
// returned unchanged.
func BaseDomain(hostname string) string {
	if ip := net.ParseIP(hostname); ip != nil {
		return hostname
	}

	host := strings.TrimSuffix(hostname, ".")
	if host == "" {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(host)
	if suffix == "" || len(suffix) >= len(host) {
		return host
	}

	// Strip the public suffix, keep the last remaining label, append the
	// suffix back.
	rest := strings.TrimSuffix(strings.TrimSuffix(host, suffix), ".")
	labels := strings.Split(rest, ".")
	return labels[len(labels)-1] + "." + suffix
}

// ShortenHost drops the leftmost label of hostname for retrying a search on
// a broader suffix. It reports false once fewer than three labels remain:
// the final two-label domain is never shortened further.
func ShortenHost(hostname string) (string, bool) {
	if strings.Count(hostname, ".") < 2 {
		return hostname, false
	}
	idx := strings.Index(hostname, ".")
	shortened := hostname[idx+1:]
	if shortened == "" {
		return hostname, false
	}
	return shortened, true
}

// MaxShortenSteps is the hard bound on shortening iterations, guarding
// against pathological label structures.
func MaxShortenSteps() int {
	return maxShortenSteps
}
