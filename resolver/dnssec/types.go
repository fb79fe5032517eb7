package dnssec

import (
	"fmt"

	"github.com/miekg/dns"
)

// Algorithm is the closed set of signing algorithms this validator
// accepts; the spec scopes DNSSEC validation to RSA-family algorithms
// only.
type Algorithm uint8

const (
	AlgRSASHA1   Algorithm = dns.RSASHA1
	AlgRSASHA256 Algorithm = dns.RSASHA256
	AlgRSASHA512 Algorithm = dns.RSASHA512
)

func (a Algorithm) valid() bool {
	switch a {
	case AlgRSASHA1, AlgRSASHA256, AlgRSASHA512:
		return true
	default:
		return false
	}
}

// DigestType is the closed set of DS digest algorithms accepted.
type DigestType uint8

const (
	DigestSHA1   DigestType = dns.SHA1
	DigestSHA256 DigestType = dns.SHA256
)

func digestLen(t DigestType) int {
	switch t {
	case DigestSHA1:
		return 20
	case DigestSHA256:
		return 32
	default:
		return 0
	}
}

// ValidationState is the tri-state outcome of DNSSEC evaluation, carried
// on DIME records and TXT lookups alike.
type ValidationState int

const (
	StateUnsigned ValidationState = iota
	StateValidated
	StateSignatureFailed
)

func (s ValidationState) String() string {
	switch s {
	case StateValidated:
		return "validated"
	case StateSignatureFailed:
		return "signature-failed"
	default:
		return "unsigned"
	}
}

const (
	flagZoneBit = 1 << 8 // bit 7 of the 16-bit flags field, network order
	flagSEPBit  = 1
)

// DNSKey is a cached DNSKEY entry (spec §3 "DNSKEY entry").
type DNSKey struct {
	Owner     string
	Algorithm Algorithm
	Zone      bool
	SEP       bool
	RDATA     []byte // flags ‖ protocol ‖ algorithm ‖ public-key, as on the wire
	Keytag    uint16

	SigningKeys []*DNSKey
	DS          []*DS

	Validated bool
	DoCache   bool

	rr *dns.DNSKEY
}

// NewDNSKeyFromRR builds a DNSKey from a parsed miekg/dns answer RR,
// rejecting algorithms outside the accepted RSA-SHA1/256/512 set.
func NewDNSKeyFromRR(rr *dns.DNSKEY) (*DNSKey, error) {
	alg := Algorithm(rr.Algorithm)
	if !alg.valid() {
		return nil, fmt.Errorf("dnssec: unsupported DNSKEY algorithm %d", rr.Algorithm)
	}

	rdata, err := dnskeyRDATA(rr)
	if err != nil {
		return nil, err
	}

	return &DNSKey{
		Owner:     dns.Fqdn(rr.Hdr.Name),
		Algorithm: alg,
		Zone:      rr.Flags&flagZoneBit != 0,
		SEP:       rr.Flags&flagSEPBit != 0,
		RDATA:     rdata,
		Keytag:    Keytag(rdata),
		rr:        rr,
	}, nil
}

func dnskeyRDATA(rr *dns.DNSKEY) ([]byte, error) {
	pub, err := decodeBase64(rr.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("dnssec: decoding DNSKEY public key: %w", err)
	}
	buf := make([]byte, 4, 4+len(pub))
	buf[0] = byte(rr.Flags >> 8)
	buf[1] = byte(rr.Flags)
	buf[2] = rr.Protocol
	buf[3] = rr.Algorithm
	return append(buf, pub...), nil
}

// IsTransitivelyValidated reports whether a DNSKEY is validated directly
// (a trust anchor) or via a DS record whose referenced signing key is
// itself transitively validated. Cyclic DS/DNSKEY graphs terminate safely
// because a walk never revisits an already-validated key's signing chain
// twice: seen tracks keytags visited in the current walk.
func (k *DNSKey) IsTransitivelyValidated() bool {
	return k.transitivelyValidated(map[uint16]bool{})
}

func (k *DNSKey) transitivelyValidated(seen map[uint16]bool) bool {
	if k.Validated {
		return true
	}
	if seen[k.Keytag] {
		return false
	}
	seen[k.Keytag] = true

	for _, ds := range k.DS {
		for _, sk := range ds.SigningKeys {
			if sk.transitivelyValidated(seen) {
				return true
			}
		}
	}
	return false
}

// DS is a cached DS entry (spec §3 "DS entry").
type DS struct {
	Owner       string
	KeyTag      uint16
	Algorithm   Algorithm
	DigestType  DigestType
	Digest      []byte
	SigningKeys []*DNSKey
}

// NewDSFromRR builds a DS from a parsed answer RR, rejecting a digest
// whose length does not match its declared digest type exactly.
func NewDSFromRR(rr *dns.DS) (*DS, error) {
	digestType := DigestType(rr.DigestType)
	digest, err := decodeHex(rr.Digest)
	if err != nil {
		return nil, fmt.Errorf("dnssec: decoding DS digest: %w", err)
	}
	want := digestLen(digestType)
	if want == 0 || len(digest) != want {
		return nil, fmt.Errorf("dnssec: DS digest length %d does not match digest type %d", len(digest), rr.DigestType)
	}
	return &DS{
		Owner:      dns.Fqdn(rr.Hdr.Name),
		KeyTag:     rr.KeyTag,
		Algorithm:  Algorithm(rr.Algorithm),
		DigestType: digestType,
		Digest:     digest,
	}, nil
}

// MatchesDNSKey reports whether ds's digest equals
// SHA(digest-type)(canonical-owner ‖ DNSKEY-rdata), per the spec's DS/DNSKEY
// binding check.
func (ds *DS) MatchesDNSKey(k *DNSKey) (bool, error) {
	owner, err := CanonicalOwnerName(k.Owner)
	if err != nil {
		return false, err
	}
	got, err := digestOf(ds.DigestType, append(owner, k.RDATA...))
	if err != nil {
		return false, err
	}
	return bytesEqual(got, ds.Digest), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
