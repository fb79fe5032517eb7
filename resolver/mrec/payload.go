package mrec

import (
	"fmt"
	"io"

	"github.com/lavabitllc/dimeresolve/resolver/cache"
	"github.com/lavabitllc/dimeresolve/resolver/dnssec"
)

func init() {
	cache.RegisterDeserializer(cache.KindDIMERecord, deserializeRecord)
}

func (r *Record) Kind() cache.Kind { return cache.KindDIMERecord }

func (r *Record) Serialize() ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(r.Version))

	pokItems := make([][]byte, len(r.POK))
	for i, p := range r.POK {
		pokItems[i] = append([]byte(nil), p[:]...)
	}
	var err error
	buf, err = cache.PutFixedArray(buf, 32, pokItems)
	if err != nil {
		return nil, err
	}

	tlsItems := make([][]byte, len(r.TLSSignatures))
	for i, s := range r.TLSSignatures {
		tlsItems[i] = append([]byte(nil), s[:]...)
	}
	buf, err = cache.PutFixedArray(buf, 64, tlsItems)
	if err != nil {
		return nil, err
	}

	buf = append(buf, byte(r.Policy))
	buf = cache.PutString(buf, r.Syndicates)
	buf = cache.PutStringArray(buf, r.DeliveryHosts)

	var expiry [4]byte
	putUint32(expiry[:], uint32(r.ExpiryDays))
	buf = append(buf, expiry[:]...)

	buf = append(buf, byte(r.Subdomain))
	buf = append(buf, byte(r.DNSSECOutcome))
	return buf, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func takeUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func deserializeRecord(data []byte) (cache.Payload, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("mrec: truncated record")
	}
	r := &Record{Version: int(data[0])}
	rest := data[1:]

	pokItems, rest, err := cache.TakeFixedArray(rest, 32)
	if err != nil {
		return nil, err
	}
	for _, it := range pokItems {
		var p [32]byte
		copy(p[:], it)
		r.POK = append(r.POK, p)
	}

	tlsItems, rest, err := cache.TakeFixedArray(rest, 64)
	if err != nil {
		return nil, err
	}
	for _, it := range tlsItems {
		var s [64]byte
		copy(s[:], it)
		r.TLSSignatures = append(r.TLSSignatures, s)
	}

	if len(rest) < 1 {
		return nil, fmt.Errorf("mrec: truncated record (policy)")
	}
	r.Policy = Policy(rest[0])
	rest = rest[1:]

	syn, rest, err := cache.TakeString(rest)
	if err != nil {
		return nil, err
	}
	r.Syndicates = syn

	hosts, rest, err := cache.TakeStringArray(rest)
	if err != nil {
		return nil, err
	}
	r.DeliveryHosts = hosts

	if len(rest) < 4 {
		return nil, fmt.Errorf("mrec: truncated record (expiry)")
	}
	r.ExpiryDays = int(takeUint32(rest[:4]))
	rest = rest[4:]

	if len(rest) < 2 {
		return nil, fmt.Errorf("mrec: truncated record (subdomain/dnssec)")
	}
	r.Subdomain = Subdomain(rest[0])
	r.DNSSECOutcome = dnssec.ValidationState(rest[1])

	return r, nil
}

func (r *Record) Clone() cache.Payload {
	cp := *r
	cp.POK = append([][32]byte(nil), r.POK...)
	cp.TLSSignatures = append([][64]byte(nil), r.TLSSignatures...)
	cp.DeliveryHosts = append([]string(nil), r.DeliveryHosts...)
	return &cp
}

func (r *Record) Dump(w io.Writer) {
	fmt.Fprintf(w, "DIME record ver=%d pok=%d tls=%d policy=%s dx=%v dnssec=%s",
		r.Version, len(r.POK), len(r.TLSSignatures), r.Policy, r.DeliveryHosts, r.DNSSECOutcome)
}
