// Package tlsbind implements the TLS certificate binding verifier
// (component D): it reconciles a DMTP server's x509 certificate against
// the peer domain's DIME management record via an ordered acceptance
// ladder — DIME TLS-signature binding, hostname matching, PKI chain
// verification, and OCSP revocation checking.
package tlsbind

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"

	"github.com/lavabitllc/dimeresolve/resolver/mrec"
)

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// isSelfSigned reports whether cert's issuer equals its own subject and
// its signature verifies against its own public key — a self-issued
// certificate is only acceptable when the DIME record binds it directly
// via a TLS signature (step 1 of the ladder).
func isSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

// tlsBound implements step 2: for each TLS signature in rec, verify it as
// an Ed25519 signature over SHA-512(DER cert) under each POK in turn. Any
// matching (signature, POK) pair marks the connection tls-bound.
func tlsBound(cert *x509.Certificate, rec *mrec.Record) bool {
	if len(rec.TLSSignatures) == 0 {
		return false
	}
	digest := sha512.Sum512(cert.Raw)
	for _, sig := range rec.TLSSignatures {
		for _, pok := range rec.POK {
			if ed25519.Verify(pok[:], digest[:], sig[:]) {
				return true
			}
		}
	}
	return false
}
