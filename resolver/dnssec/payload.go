package dnssec

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/lavabitllc/dimeresolve/resolver/cache"
)

func init() {
	cache.RegisterDeserializer(cache.KindDNSKey, deserializeDNSKey)
	cache.RegisterDeserializer(cache.KindDS, deserializeDS)
}

func decodeBase64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
func decodeHex(s string) ([]byte, error)    { return hex.DecodeString(s) }

func digestOf(t DigestType, data []byte) ([]byte, error) {
	switch t {
	case DigestSHA1:
		sum := sha1.Sum(data)
		return sum[:], nil
	case DigestSHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("dnssec: unsupported digest type %d", t)
	}
}

// Kind, Serialize, Clone and Dump make DNSKey satisfy cache.Payload.
// DNSKEY entries live in an "internal" store (cache.Kind.internal), so
// Clone is only exercised by tests and by the rare caller that copies an
// entry explicitly; the live cache hands back shared references.

func (k *DNSKey) Kind() cache.Kind { return cache.KindDNSKey }

func (k *DNSKey) Serialize() ([]byte, error) {
	var buf []byte
	buf = cache.PutString(buf, k.Owner)
	buf = append(buf, byte(k.Algorithm))
	if k.Zone {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if k.SEP {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = cache.PutChunk(buf, k.RDATA)
	if k.Validated {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if k.DoCache {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

func deserializeDNSKey(data []byte) (cache.Payload, error) {
	owner, rest, err := cache.TakeString(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 2 {
		return nil, fmt.Errorf("dnssec: truncated DNSKEY record")
	}
	alg := Algorithm(rest[0])
	zone := rest[1] != 0
	rest = rest[2:]
	if len(rest) < 1 {
		return nil, fmt.Errorf("dnssec: truncated DNSKEY record")
	}
	sep := rest[0] != 0
	rest = rest[1:]

	rdata, rest, err := cache.TakeChunk(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 2 {
		return nil, fmt.Errorf("dnssec: truncated DNSKEY record")
	}
	validated := rest[0] != 0
	doCache := rest[1] != 0

	return &DNSKey{
		Owner:     owner,
		Algorithm: alg,
		Zone:      zone,
		SEP:       sep,
		RDATA:     rdata,
		Keytag:    Keytag(rdata),
		Validated: validated,
		DoCache:   doCache,
	}, nil
}

func (k *DNSKey) Clone() cache.Payload {
	cp := *k
	cp.RDATA = append([]byte(nil), k.RDATA...)
	cp.SigningKeys = append([]*DNSKey(nil), k.SigningKeys...)
	cp.DS = append([]*DS(nil), k.DS...)
	return &cp
}

func (k *DNSKey) Dump(w io.Writer) {
	fmt.Fprintf(w, "DNSKEY owner=%s alg=%d keytag=%d zone=%v sep=%v validated=%v",
		k.Owner, k.Algorithm, k.Keytag, k.Zone, k.SEP, k.Validated)
}

func (ds *DS) Kind() cache.Kind { return cache.KindDS }

func (ds *DS) Serialize() ([]byte, error) {
	var buf []byte
	buf = cache.PutString(buf, ds.Owner)
	buf = append(buf, byte(ds.KeyTag>>8), byte(ds.KeyTag))
	buf = append(buf, byte(ds.Algorithm), byte(ds.DigestType))
	buf = cache.PutChunk(buf, ds.Digest)
	return buf, nil
}

func deserializeDS(data []byte) (cache.Payload, error) {
	owner, rest, err := cache.TakeString(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 4 {
		return nil, fmt.Errorf("dnssec: truncated DS record")
	}
	keytag := uint16(rest[0])<<8 | uint16(rest[1])
	alg := Algorithm(rest[2])
	digestType := DigestType(rest[3])
	rest = rest[4:]

	digest, _, err := cache.TakeChunk(rest)
	if err != nil {
		return nil, err
	}
	return &DS{
		Owner:      owner,
		KeyTag:     keytag,
		Algorithm:  alg,
		DigestType: digestType,
		Digest:     digest,
	}, nil
}

func (ds *DS) Clone() cache.Payload {
	cp := *ds
	cp.Digest = append([]byte(nil), ds.Digest...)
	cp.SigningKeys = append([]*DNSKey(nil), ds.SigningKeys...)
	return &cp
}

func (ds *DS) Dump(w io.Writer) {
	fmt.Fprintf(w, "DS owner=%s keytag=%d alg=%d digest-type=%d", ds.Owner, ds.KeyTag, ds.Algorithm, ds.DigestType)
}
