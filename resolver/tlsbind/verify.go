package tlsbind

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"github.com/lavabitllc/dimeresolve/log"
	"github.com/lavabitllc/dimeresolve/resolver/cache"
	"github.com/lavabitllc/dimeresolve/resolver/dnssec"
	"github.com/lavabitllc/dimeresolve/resolver/mrec"
)

// Reason identifies which rung of the ladder produced a fail verdict, or
// the accept verdict: ReasonPassDNSSECAnchored and ReasonPassChainNoOCSP
// for the two short-circuit accept rungs, ReasonPass otherwise.
type Reason int

const (
	ReasonPass Reason = iota
	ReasonPassDNSSECAnchored
	ReasonPassChainNoOCSP
	ReasonFailSelfSigned
	ReasonFailTLSSignatureMismatch
	ReasonFailHostname
	ReasonFailChain
	ReasonFailRevoked
)

func (r Reason) String() string {
	switch r {
	case ReasonPass:
		return "pass"
	case ReasonPassDNSSECAnchored:
		return "pass: tls-bound and DNSSEC-anchored"
	case ReasonPassChainNoOCSP:
		return "pass: tls-bound, chain verified, OCSP skipped"
	case ReasonFailSelfSigned:
		return "fail: self-signed certificate has no DIME TLS binding"
	case ReasonFailTLSSignatureMismatch:
		return "fail: no DIME TLS signature matched the peer certificate"
	case ReasonFailHostname:
		return "fail: certificate name does not match delivery host"
	case ReasonFailChain:
		return "fail: x509 chain verification failed"
	case ReasonFailRevoked:
		return "fail: certificate revoked (OCSP)"
	default:
		return "fail: unknown"
	}
}

func (r Reason) Pass() bool {
	return r == ReasonPass || r == ReasonPassDNSSECAnchored || r == ReasonPassChainNoOCSP
}

// Verifier applies the TLS binding acceptance ladder (spec §4.D) to an
// established TLS connection and its peer's DIME management record.
type Verifier struct {
	Roots      *x509.CertPool
	Cache      *cache.Cache
	HTTPClient *http.Client
	Logger     log.Logger
}

// NewVerifier constructs a Verifier against the system root pool and the
// shared object cache's OCSP store.
func NewVerifier(c *cache.Cache) (*Verifier, error) {
	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}
	return &Verifier{
		Roots:      roots,
		Cache:      c,
		HTTPClient: http.DefaultClient,
		Logger:     log.Logger{Name: "tlsbind"},
	}, nil
}

// Verify runs the full ladder against state, the handshake result for a
// DMTP connection to host, with rec the peer domain's DIME record.
func (v *Verifier) Verify(ctx context.Context, state tls.ConnectionState, host string, rec *mrec.Record) Reason {
	if len(state.PeerCertificates) == 0 {
		return ReasonFailChain
	}
	cert := state.PeerCertificates[0]

	// Step 1: self-signed requires DIME binding.
	selfSigned := isSelfSigned(cert)
	if selfSigned && len(rec.TLSSignatures) == 0 {
		return ReasonFailSelfSigned
	}

	// Step 2: DIME TLS-signature binding.
	bound := false
	if len(rec.TLSSignatures) > 0 {
		if !tlsBound(cert, rec) {
			return ReasonFailTLSSignatureMismatch
		}
		bound = true
	}

	// Step 3: DNSSEC-anchored binding short-circuits the rest.
	if bound && rec.DNSSECOutcome == dnssec.StateValidated {
		return ReasonPassDNSSECAnchored
	}

	// Step 4: hostname check.
	ok, err := hostnameMatches(cert, host)
	if err != nil || !ok {
		return ReasonFailHostname
	}

	// Step 5: x509 chain verification.
	intermediates := x509.NewCertPool()
	for _, c := range state.PeerCertificates[1:] {
		intermediates.AddCert(c)
	}
	chains, err := cert.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         v.Roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil || len(chains) == 0 {
		return ReasonFailChain
	}

	// Step 6: tls-bound but not DNSSEC-anchored, chain passed — skip OCSP.
	if bound {
		return ReasonPassChainNoOCSP
	}

	// Step 7: OCSP.
	issuer := issuerFromChain(chains[0], cert)
	if issuer == nil {
		return ReasonPass
	}
	switch checkOCSP(ctx, v.Cache, cert, issuer, v.HTTPClient) {
	case ocspHardFail:
		return ReasonFailRevoked
	default: // ocspPass or ocspSoftFail both accept per spec §4.D step 7
		return ReasonPass
	}
}

// issuerFromChain returns the certificate in chain that directly issued
// cert, or nil if cert is alone in its own chain (self-signed, already
// handled by step 1).
func issuerFromChain(chain []*x509.Certificate, cert *x509.Certificate) *x509.Certificate {
	for _, c := range chain {
		if c == cert {
			continue
		}
		if c.Subject.String() == cert.Issuer.String() {
			return c
		}
	}
	return nil
}
