package tlsbind

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/lavabitllc/dimeresolve/resolver/mrec"
)

func selfSignedCert(t *testing.T, dnsNames []string, cn string) *x509.Certificate {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     dnsNames,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert
}

func TestMatchesHostnameWildcard(t *testing.T) {
	cases := []struct {
		candidate, host string
		want            bool
	}{
		{"*.example.com", "a.example.com", true},
		{"*.example.com", "A.Example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "a.b.example.com", false},
		{"example.com", "example.com", true},
		{"example.com", "Example.COM", true},
		{"example.com", "other.com", false},
	}
	for _, c := range cases {
		if got := matchesHostname(c.candidate, c.host); got != c.want {
			t.Errorf("matchesHostname(%q, %q) = %v, want %v", c.candidate, c.host, got, c.want)
		}
	}
}

func TestIsSelfSigned(t *testing.T) {
	cert := selfSignedCert(t, []string{"mail.example.com"}, "mail.example.com")
	if !isSelfSigned(cert) {
		t.Fatalf("expected self-signed certificate to be detected as such")
	}
}

func TestHostnameMatchesPrefersSANOverCN(t *testing.T) {
	cert := selfSignedCert(t, []string{"mail.example.com"}, "wrong-cn.example.com")
	ok, err := hostnameMatches(cert, "mail.example.com")
	if err != nil {
		t.Fatalf("hostnameMatches: %v", err)
	}
	if !ok {
		t.Fatalf("expected SAN dnsName match to take precedence over CN mismatch")
	}
}

func TestHostnameMatchesFallsBackToCNWithNoSAN(t *testing.T) {
	cert := selfSignedCert(t, nil, "mail.example.com")
	ok, err := hostnameMatches(cert, "mail.example.com")
	if err != nil {
		t.Fatalf("hostnameMatches: %v", err)
	}
	if !ok {
		t.Fatalf("expected CN fallback match when certificate carries no SAN")
	}
}

func TestTLSBoundMatchesSignature(t *testing.T) {
	cert := selfSignedCert(t, []string{"mail.example.com"}, "mail.example.com")
	digest := sha512.Sum512(cert.Raw)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sig := ed25519.Sign(priv, digest[:])

	var pok [32]byte
	copy(pok[:], pub)
	var sigArr [64]byte
	copy(sigArr[:], sig)

	rec := &mrec.Record{POK: [][32]byte{pok}, TLSSignatures: [][64]byte{sigArr}}
	if !tlsBound(cert, rec) {
		t.Fatalf("expected matching TLS signature to bind")
	}
}

func TestTLSBoundRejectsWrongKey(t *testing.T) {
	cert := selfSignedCert(t, []string{"mail.example.com"}, "mail.example.com")
	digest := sha512.Sum512(cert.Raw)

	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	sig := ed25519.Sign(priv, digest[:])

	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	var pok [32]byte
	copy(pok[:], otherPub)
	var sigArr [64]byte
	copy(sigArr[:], sig)

	rec := &mrec.Record{POK: [][32]byte{pok}, TLSSignatures: [][64]byte{sigArr}}
	if tlsBound(cert, rec) {
		t.Fatalf("expected signature verified under an unrelated POK to fail")
	}
}

func TestSubjectDNSNamesRejectsEmbeddedNUL(t *testing.T) {
	cert := selfSignedCert(t, []string{"good.example.com\x00evil.example.com"}, "good.example.com")
	_, err := subjectDNSNames(cert)
	if err == nil {
		t.Fatalf("expected embedded NUL byte in SAN dnsName to be rejected")
	}
}

func TestClassifyOCSPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ocspOutcome
	}{
		{ocsp.Good, ocspPass},
		{ocsp.Revoked, ocspHardFail},
		{ocsp.Unknown, ocspSoftFail},
	}
	for _, c := range cases {
		if got := classifyOCSPStatus(c.status); got != c.want {
			t.Errorf("classifyOCSPStatus(%d) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestReasonPass(t *testing.T) {
	passReasons := []Reason{ReasonPass, ReasonPassDNSSECAnchored, ReasonPassChainNoOCSP}
	for _, r := range passReasons {
		if !r.Pass() {
			t.Errorf("Reason %v should be a pass", r)
		}
	}
	failReasons := []Reason{ReasonFailSelfSigned, ReasonFailTLSSignatureMismatch, ReasonFailHostname, ReasonFailChain, ReasonFailRevoked}
	for _, r := range failReasons {
		if r.Pass() {
			t.Errorf("Reason %v should not be a pass", r)
		}
	}
}
