// Package cache implements the unified, disk-backed object cache (spec
// component A): a typed, multi-store key→entry map with TTL/expiration
// eviction, shadow-entry persistence, and a length-prefixed on-disk format.
//
// Modeled on foxcpp-maddy's mtasts.Cache (disk-backed TTL cache with a
// refresh policy) generalized from a single JSON-per-domain file into a
// typed, multi-kind binary store, since the DIME cache must hold five
// different payload shapes behind one eviction/persistence policy.
package cache

import "fmt"

// Kind is the closed set of data classes the cache can hold.
type Kind uint8

const (
	KindDIMERecord Kind = iota
	KindDNSKey
	KindDS
	KindOCSP
	KindSignet

	numKinds = KindSignet + 1
)

func (k Kind) String() string {
	switch k {
	case KindDIMERecord:
		return "dime-record"
	case KindDNSKey:
		return "dnskey"
	case KindDS:
		return "ds"
	case KindOCSP:
		return "ocsp"
	case KindSignet:
		return "signet"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// internal reports whether a store of this kind returns shared references
// (DNSKEY, DS, OCSP — entries cross-referenced by content-addressed id and
// owned by the cache) rather than deep copies (DIME record, Signet —
// owned by the caller once returned).
func (k Kind) internal() bool {
	switch k {
	case KindDNSKey, KindDS, KindOCSP:
		return true
	default:
		return false
	}
}
