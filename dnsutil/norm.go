// Package dnsutil provides domain-name canonicalization shared by the
// DNSSEC validator, the DIME record cache, and the DMTP transport selector.
//
// Adapted from foxcpp-maddy's dns.ForLookup/dns.Equal.
package dnsutil

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// ForLookup converts domain into the canonical form used for cache keys and
// table lookups: Unicode, NFC-normalized, lower-cased, with any trailing
// root dot stripped.
//
// Domains containing invalid UTF-8 or an invalid A-label are still
// lower-cased and returned, alongside the conversion error, rather than
// rejected outright — callers decide whether that's fatal.
func ForLookup(domain string) (string, error) {
	uDomain, err := idna.ToUnicode(domain)
	if err != nil {
		return strings.ToLower(domain), err
	}

	uDomain = norm.NFC.String(uDomain)
	uDomain = strings.ToLower(uDomain)
	uDomain = strings.TrimSuffix(uDomain, ".")
	return uDomain, nil
}

// Equal reports whether domain1 and domain2 denote the same DNS name under
// IDNA2008 equivalence, used instead of strings.EqualFold whenever domains
// (not arbitrary strings) are being compared.
func Equal(domain1, domain2 string) bool {
	if domain1 == domain2 {
		return true
	}
	u1, _ := ForLookup(domain1)
	u2, _ := ForLookup(domain2)
	return u1 == u2
}

// ToASCII converts domain to its A-label (punycode) form, the form DNS
// queries and RRSIG owner-name packing operate on.
func ToASCII(domain string) (string, error) {
	return idna.ToASCII(domain)
}
