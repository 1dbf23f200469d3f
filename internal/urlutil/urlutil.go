// Package urlutil derives the URLs probed during favicon discovery.
package urlutil

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// IsHTTP reports whether u uses the http or https scheme.
func IsHTTP(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// SiteRoot returns "/" resolved against u: same scheme and host, no path
// below the root, no query or fragment.
func SiteRoot(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	return u.ResolveReference(&url.URL{Path: "/"})
}

// RootDomainURL strips every subdomain label from u's host down to the
// registrable domain (eTLD+1) and drops path, query, fragment and user info.
// Scheme and port are kept.
//
// The second return value is false when no registrable domain can be
// derived: no host, an IP literal, or a host that is itself a public suffix
// (localhost, co.uk). A host that is already registrable is returned as is.
func RootDomainURL(u *url.URL) (*url.URL, bool) {
	if u == nil {
		return nil, false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || net.ParseIP(host) != nil {
		return nil, false
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || domain == "" {
		return nil, false
	}
	if port := u.Port(); port != "" {
		domain = net.JoinHostPort(domain, port)
	}
	return &url.URL{Scheme: u.Scheme, Host: domain, Path: "/"}, true
}

// ResolveCandidate resolves candidatePath (a relative path, an absolute path
// or a full URL) against base.
func ResolveCandidate(base *url.URL, candidatePath string) (*url.URL, error) {
	if base == nil || base.Host == "" {
		return nil, errors.New("base URL has no host")
	}
	candidatePath = strings.TrimSpace(candidatePath)
	if candidatePath == "" {
		return nil, errors.New("empty candidate path")
	}
	ref, err := url.Parse(candidatePath)
	if err != nil {
		return nil, fmt.Errorf("parse candidate %q: %w", candidatePath, err)
	}
	resolved := base.ResolveReference(ref)
	if resolved.Host == "" {
		return nil, fmt.Errorf("candidate %q resolves without a host", candidatePath)
	}
	return resolved, nil
}
