package tlsbind

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"strings"
)

// subjectDNSNames extracts the SAN dnsName entries from cert's
// subjectAltName extension directly from the raw ASN.1, rather than via
// x509.Certificate.DNSNames, so that a name whose ASN.1-declared length
// does not match its Go string length (a classic null-byte poisoning
// trick — "good.example.com\x00evil.example.com") is rejected outright
// instead of silently truncated by the standard library's C-string-style
// parsing.
func subjectDNSNames(cert *x509.Certificate) ([]string, error) {
	var raw []byte
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidSubjectAltName) {
			raw = ext.Value
			break
		}
	}
	if raw == nil {
		return nil, nil
	}

	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(raw, &seq); err != nil {
		return nil, err
	}

	var names []string
	rest := seq.Bytes
	for len(rest) > 0 {
		var v asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return nil, err
		}
		// dNSName [2] IA5String, context-specific primitive tag 2.
		if v.Class != asn1.ClassContextSpecific || v.Tag != 2 {
			continue
		}
		// The ASN.1-declared length of an IA5String is its full byte
		// count; a C string's length stops at the first NUL. A name
		// like "good.example.com\x00evil.example.com" has an ASN.1
		// length longer than its strlen — reject it rather than let a
		// caller that later treats it as a C string see only the
		// prefix before the embedded NUL.
		if bytes.IndexByte(v.Bytes, 0) >= 0 {
			return nil, errNullBytePoison
		}
		names = append(names, string(v.Bytes))
	}
	return names, nil
}

var errNullBytePoison = errPoison{}

type errPoison struct{}

func (errPoison) Error() string { return "tlsbind: certificate name contains embedded NUL byte" }

// matchesHostname reports whether candidate (a SAN dnsName or subject CN)
// matches host, applying the spec's wildcard left-label rule:
// "*.example.com" matches "a.example.com" but neither "example.com" nor
// "a.b.example.com". Comparison is case-insensitive.
func matchesHostname(candidate, host string) bool {
	candidate = strings.ToLower(strings.TrimSuffix(candidate, "."))
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if !strings.HasPrefix(candidate, "*.") {
		return candidate == host
	}

	suffix := candidate[1:] // ".example.com"
	if !strings.HasSuffix(host, suffix) {
		return false
	}
	label := strings.TrimSuffix(host, suffix)
	return label != "" && !strings.Contains(label, ".")
}

// hostnameMatches checks cert against host per step 4 of the ladder: SAN
// dnsName entries take precedence; the subject CN is consulted only when
// the certificate carries no dnsName SANs at all (RFC 6125 §6.4.4).
func hostnameMatches(cert *x509.Certificate, host string) (bool, error) {
	names, err := subjectDNSNames(cert)
	if err != nil {
		return false, err
	}
	if len(names) > 0 {
		for _, n := range names {
			if matchesHostname(n, host) {
				return true, nil
			}
		}
		return false, nil
	}
	return matchesHostname(cert.Subject.CommonName, host), nil
}
