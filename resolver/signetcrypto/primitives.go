// Package signetcrypto provides the cryptographic collaborators the
// resolver treats as external primitives (spec §6): Ed25519/ECDSA
// sign-verify, the ECDH key-encrypting-key derivation, AES-256-CBC with
// no padding, the three SHA digest widths, and a signet
// deserialize/validate-all reference implementation. These are real,
// working implementations behind the interface boundary — not mocks —
// so that a production signet library can be substituted later without
// touching any caller.
package signetcrypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
)

// Ed25519Sign signs msg with sk, returning a 64-byte signature.
func Ed25519Sign(msg []byte, sk ed25519.PrivateKey) []byte {
	return ed25519.Sign(sk, msg)
}

// Ed25519Verify reports whether sig is a valid signature over msg by pk.
func Ed25519Verify(msg, sig []byte, pk ed25519.PublicKey) bool {
	return ed25519.Verify(pk, msg, sig)
}

// ECDSASign signs a pre-computed hash with sk, returning a DER-encoded
// signature (RFC 3279 Dss-Sig-Value / SEC1).
func ECDSASign(hash []byte, sk *ecdsa.PrivateKey) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, sk, hash)
}

// ECDSAVerify reports whether sig (DER-encoded) is a valid signature
// over hash by pk.
func ECDSAVerify(hash, sig []byte, pk *ecdsa.PublicKey) bool {
	return ecdsa.VerifyASN1(pk, hash, sig)
}

// ECDHKEK derives a 48-byte key-encrypting-key from an ECDH shared
// secret on the P-256 curve: hash the shared secret with SHA-512 into a
// 64-byte envelope, XOR-fold the first 32 bytes down to 16, and append
// the last 32 bytes of the envelope, per spec §6.
func ECDHKEK(pub *ecdsa.PublicKey, priv *ecdsa.PrivateKey) ([]byte, error) {
	privECDH, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("signetcrypto: converting private key to ECDH form: %w", err)
	}
	pubECDH, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("signetcrypto: converting public key to ECDH form: %w", err)
	}

	shared, err := privECDH.ECDH(pubECDH)
	if err != nil {
		return nil, fmt.Errorf("signetcrypto: ECDH key agreement failed: %w", err)
	}

	envelope := sha512.Sum512(shared)

	kek := make([]byte, 48)
	for i := 0; i < 16; i++ {
		kek[i] = envelope[i] ^ envelope[i+16]
	}
	copy(kek[16:], envelope[32:64])
	return kek, nil
}

// GenerateP256Key is a convenience constructor used by tests and by
// armored-key-file loading to materialize an *ecdsa.PrivateKey.
func GenerateP256Key() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// SHA160 returns the SHA-1 digest of buf.
func SHA160(buf []byte) []byte {
	h := sha1.Sum(buf)
	return h[:]
}

// SHA256 returns the SHA-256 digest of buf.
func SHA256(buf []byte) []byte {
	h := sha256.Sum256(buf)
	return h[:]
}

// SHA512 returns the SHA-512 digest of buf.
func SHA512(buf []byte) []byte {
	h := sha512.Sum512(buf)
	return h[:]
}
