// Package domain validates candidate Fediverse instance hostnames.
//
// Validation is intentionally shallow: it rejects IP literals, names whose
// last label is all digits, syntactically invalid names, and names that are
// themselves a public suffix according to the bundled, generated copy of the
// Public Suffix List. A name under a top-level label the list doesn't know is
// accepted, since the list's default rule treats that label as its suffix.
// It does not fetch a live list and does not attempt to resolve the name;
// reachability is the checker subprocess's job.
package domain

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Domain is a validated hostname. Zero value is invalid; always construct
// via Parse so callers can't pass an unvalidated string into the registry.
type Domain struct {
	host string
}

// String returns the validated hostname.
func (d Domain) String() string {
	return d.host
}

// IsZero reports whether d is the zero value.
func (d Domain) IsZero() bool {
	return d.host == ""
}

// Parse validates s as a Fediverse-instance-worthy hostname and returns a Domain.
func Parse(s string) (Domain, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	lower := strings.ToLower(s)

	if lower == "" {
		return Domain{}, fmt.Errorf("empty hostname")
	}
	if strings.Contains(lower, "://") {
		return Domain{}, fmt.Errorf("%q looks like a URL, not a hostname", s)
	}

	host := lower
	if h, _, err := net.SplitHostPort(lower); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")

	if ip := net.ParseIP(host); ip != nil {
		return Domain{}, fmt.Errorf("%q is an IP literal, not a domain", s)
	}

	if !isValidLabelSyntax(host) {
		return Domain{}, fmt.Errorf("%q is not a syntactically valid hostname", s)
	}
	if tld := host[strings.LastIndex(host, ".")+1:]; strings.Trim(tld, "0123456789") == "" {
		return Domain{}, fmt.Errorf("%q looks like an IP address, not a domain", s)
	}

	suffix, icann := publicsuffix.PublicSuffix(host)
	if suffix == host {
		return Domain{}, fmt.Errorf("%q is itself a public suffix", s)
	}
	if !icann && suffix == "" {
		return Domain{}, fmt.Errorf("%q has no recognized public suffix", s)
	}

	return Domain{host: host}, nil
}

// IsValid reports whether s would be accepted by Parse.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func isValidLabelSyntax(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if len(l) == 0 || len(l) > 63 {
			return false
		}
		for i, r := range l {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
			isHyphen := r == '-'
			if !isAlnum && !isHyphen {
				return false
			}
			if isHyphen && (i == 0 || i == len(l)-1) {
				return false
			}
		}
	}
	return true
}
