package resolver

import (
	"fmt"
	"io"

	"github.com/lavabitllc/dimeresolve/resolver/cache"
)

func init() {
	cache.RegisterDeserializer(cache.KindSignet, deserializeCachedSignet)
}

// cachedSignet is the Signet store's payload: the raw base64 signet
// blob exactly as SGNT returned it, keyed (via cache.ID) by the name the
// caller originally asked get_signet for. This is a non-internal store
// (spec §5 memory ownership), so Find/Add hand back deep copies.
type cachedSignet struct {
	Name string
	Blob string
}

func (c *cachedSignet) Kind() cache.Kind { return cache.KindSignet }

func (c *cachedSignet) Serialize() ([]byte, error) {
	return append([]byte(c.Name+"\x00"), c.Blob...), nil
}

func (c *cachedSignet) Clone() cache.Payload {
	return &cachedSignet{Name: c.Name, Blob: c.Blob}
}

func (c *cachedSignet) Dump(w io.Writer) {
	fmt.Fprintf(w, "signet %s (%d bytes)", c.Name, len(c.Blob))
}

func deserializeCachedSignet(data []byte) (cache.Payload, error) {
	for i, b := range data {
		if b == 0 {
			return &cachedSignet{Name: string(data[:i]), Blob: string(data[i+1:])}, nil
		}
	}
	return nil, fmt.Errorf("resolver: malformed signet cache record")
}
