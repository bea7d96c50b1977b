// Package domain provides hostname extraction and registrable-root
// derivation used by the delegation engine.
package domain

import (
	"errors"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// ErrInvalidURL is returned when a hostname cannot be extracted from a URL
var ErrInvalidURL = errors.New("invalid URL")

// ExtractHostname parses a URL string and returns its normalized hostname.
// Returns ErrInvalidURL if the string is not a well-formed URL with a host.
func ExtractHostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrInvalidURL
	}

	host := u.Hostname()
	if host == "" {
		return "", ErrInvalidURL
	}

	return Normalize(host), nil
}

// Normalize lowercases a hostname and strips any trailing dot.
func Normalize(hostname string) string {
	return strings.TrimSuffix(dns.CanonicalName(hostname), ".")
}

// Root returns the registrable root domain of a hostname: the last two
// dot-separated labels. A hostname with two or fewer labels is its own
// root. Multi-label public suffixes (co.uk and friends) are not modeled;
// the comparison logic upstream tolerates the resulting false roots.
func Root(hostname string) string {
	hostname = Normalize(hostname)

	labels := strings.Split(hostname, ".")
	if len(labels) <= 2 {
		return hostname
	}

	return strings.Join(labels[len(labels)-2:], ".")
}
