package cache

import "io"

// Payload is the per-kind data a cache Entry owns. Each of the five closed
// Kind variants implements this with its own concrete type (DIME record,
// DNSKEY, DS, OCSP response, Signet); the store itself stays kind-agnostic.
type Payload interface {
	// Kind identifies which store this payload belongs in.
	Kind() Kind

	// Serialize renders the payload to its on-disk form (§4.A persistence
	// format: caller-specific payload bytes following the fixed header).
	Serialize() ([]byte, error)

	// Clone returns an owned deep copy, used to satisfy the non-internal
	// stores' "every returned entry is a deep copy" invariant without a
	// full serialize/deserialize round-trip.
	Clone() Payload

	// Dump writes a human-readable description, used by the optional
	// per-store debug listing (cmd/dimectl cache dump).
	Dump(w io.Writer)
}

// Deserializer reconstructs a Payload of a specific Kind from its on-disk
// bytes. One is registered per Kind at init time by the owning package
// (mrec, dnssec, tlsbind, and resolver for signets) so that resolver/cache itself never
// needs to import those packages.
type Deserializer func(data []byte) (Payload, error)

var deserializers [numKinds]Deserializer

// RegisterDeserializer wires a Kind's on-disk decoder into the cache
// package. Called from each payload-owning package's init().
func RegisterDeserializer(k Kind, fn Deserializer) {
	deserializers[k] = fn
}

func deserialize(k Kind, data []byte) (Payload, error) {
	fn := deserializers[k]
	if fn == nil {
		return nil, ErrNoDeserializer{Kind: k}
	}
	return fn(data)
}

// ErrNoDeserializer is returned when a Kind has no registered Deserializer.
type ErrNoDeserializer struct{ Kind Kind }

func (e ErrNoDeserializer) Error() string {
	return "cache: no deserializer registered for kind " + e.Kind.String()
}
