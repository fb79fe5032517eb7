package signetcrypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// Strength is signet_validate_all's discrete result (spec §6): how much
// of a signet's chain of custody was actually verified.
type Strength int

const (
	StrengthNone Strength = iota
	StrengthCore
	StrengthFull
)

func (s Strength) String() string {
	switch s {
	case StrengthCore:
		return "core"
	case StrengthFull:
		return "full"
	default:
		return "none"
	}
}

// Signet is the minimal reference representation this package deals in:
// a payload and a trailing Ed25519 signature over it. The full signet
// wire format is out of this resolver's scope (spec §1) — this is the
// narrow shape the resolver's own validate-all call needs, designed to
// be swapped for a real signet library's richer type without changing
// the SignetVerifier interface below.
type Signet struct {
	Raw       []byte
	Payload   []byte
	Signature [ed25519.SignatureSize]byte
}

// DeserializeB64 decodes a base64 signet payload (as returned by the
// DMTP SGNT command) into a Signet, splitting the trailing 64-byte
// Ed25519 signature from the preceding payload.
func DeserializeB64(s string) (*Signet, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signetcrypto: base64 decode: %w", err)
	}
	if len(raw) <= ed25519.SignatureSize {
		return nil, fmt.Errorf("signetcrypto: signet too short (%d bytes)", len(raw))
	}
	sig := &Signet{Raw: raw}
	split := len(raw) - ed25519.SignatureSize
	sig.Payload = raw[:split]
	copy(sig.Signature[:], raw[split:])
	return sig, nil
}

// EncodeB64 renders the signet back to the base64 form DeserializeB64
// accepts, for cache persistence.
func (s *Signet) EncodeB64() string {
	return base64.StdEncoding.EncodeToString(s.Raw)
}

// SignetVerifier validates a signet's chain of custody, per spec §6's
// `signet_validate_all(signet, prev_coc?, org_signet?, pok_list?)`
// contract: prevCoC is the previous chain-of-custody signet (for
// rotation continuity, optional), orgSignet is the already-validated
// organizational signet a user signet must chain to (optional, nil when
// validating an org signet directly), and pokList anchors trust for a
// direct org-signet validation.
type SignetVerifier interface {
	ValidateAll(signet *Signet, prevCoC, orgSignet *Signet, pokList [][32]byte) Strength
}

// ReferenceVerifier is a working, non-mock SignetVerifier. A signet that
// verifies directly against a trust root — the POK list for an
// organizational signet, or an already-validated org signet's key for a
// user signet — is Full: the resolver never has to take anything on
// faith beyond that one anchor. A signet that only verifies against
// prevCoC, its immediate predecessor in a rotation chain, without being
// anchored to either of those roots, is merely Core: it is internally
// consistent but the chain hasn't been walked back to a trust root.
type ReferenceVerifier struct{}

// ValidateAll implements SignetVerifier.
func (ReferenceVerifier) ValidateAll(signet *Signet, prevCoC, orgSignet *Signet, pokList [][32]byte) Strength {
	if signet == nil || len(signet.Payload) == 0 {
		return StrengthNone
	}

	var anchors [][32]byte
	switch {
	case orgSignet != nil:
		var key [32]byte
		copy(key[:], orgSignet.Payload)
		anchors = [][32]byte{key}
	default:
		anchors = pokList
	}

	for _, pok := range anchors {
		if ed25519.Verify(pok[:], signet.Payload, signet.Signature[:]) {
			return StrengthFull
		}
	}

	if prevCoC != nil {
		var prevKey [32]byte
		copy(prevKey[:], prevCoC.Payload)
		if ed25519.Verify(prevKey[:], signet.Payload, signet.Signature[:]) {
			return StrengthCore
		}
	}

	return StrengthNone
}
