package cache

import (
	"encoding/binary"
	"fmt"
)

// This file implements the length-prefixed binary primitives shared by the
// cache's own persistence header and by the mrec and dnssec payloads'
// Serialize/Deserializer pairs. The tlsbind OCSP payload stores its raw
// DER bytes and the resolver's signet payload uses its own framing.

// putUint32 appends a big-endian uint32 length/count prefix.
func putUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func takeUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("cache: truncated uint32")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

// PutChunk appends a length-prefixed variable-length byte chunk.
func PutChunk(buf []byte, chunk []byte) []byte {
	buf = putUint32(buf, uint32(len(chunk)))
	return append(buf, chunk...)
}

// TakeChunk reads a length-prefixed chunk, returning the chunk and the
// remaining data.
func TakeChunk(data []byte) (chunk []byte, rest []byte, err error) {
	n, rest, err := takeUint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < uint64(n) {
		return nil, nil, fmt.Errorf("cache: chunk length %d exceeds remaining %d bytes", n, len(rest))
	}
	return rest[:n], rest[n:], nil
}

// PutString appends a NUL-terminated string. An empty string is encoded as
// a single zero byte, the same as any other string — the encoding does not
// distinguish "empty" from "absent"; callers that need that distinction
// carry a separate presence flag.
func PutString(buf []byte, s string) []byte {
	buf = append(buf, []byte(s)...)
	return append(buf, 0)
}

// TakeString reads a NUL-terminated string.
func TakeString(data []byte) (s string, rest []byte, err error) {
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), data[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("cache: unterminated string")
}

// PutFixedArray appends a length-prefixed array of fixed-size items, each
// already encoded to itemSize bytes by the caller.
func PutFixedArray(buf []byte, itemSize int, items [][]byte) ([]byte, error) {
	buf = putUint32(buf, uint32(len(items)))
	for _, it := range items {
		if len(it) != itemSize {
			return nil, fmt.Errorf("cache: fixed array item size %d, want %d", len(it), itemSize)
		}
		buf = append(buf, it...)
	}
	return buf, nil
}

// TakeFixedArray reads a length-prefixed array of fixed-size items.
func TakeFixedArray(data []byte, itemSize int) (items [][]byte, rest []byte, err error) {
	n, rest, err := takeUint32(data)
	if err != nil {
		return nil, nil, err
	}
	items = make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(rest) < itemSize {
			return nil, nil, fmt.Errorf("cache: truncated fixed array item %d/%d", i, n)
		}
		items = append(items, rest[:itemSize])
		rest = rest[itemSize:]
	}
	return items, rest, nil
}

// PutStringArray appends a length-prefixed array of NUL-terminated strings.
func PutStringArray(buf []byte, items []string) []byte {
	buf = putUint32(buf, uint32(len(items)))
	for _, s := range items {
		buf = PutString(buf, s)
	}
	return buf
}

// TakeStringArray reads a length-prefixed array of NUL-terminated strings.
func TakeStringArray(data []byte) (items []string, rest []byte, err error) {
	n, rest, err := takeUint32(data)
	if err != nil {
		return nil, nil, err
	}
	items = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		var s string
		s, rest, err = TakeString(rest)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: string array item %d/%d: %w", i, n, err)
		}
		items = append(items, s)
	}
	return items, rest, nil
}

// PutCustomArray appends a length-prefixed array where each item is
// serialized by enc and framed as its own length-prefixed chunk, for
// payloads whose elements are themselves variable-length (e.g. a DIME
// record's list of subsigil strings encoded with extra metadata, or a
// signet's extension fields).
func PutCustomArray[T any](buf []byte, items []T, enc func(T) []byte) []byte {
	buf = putUint32(buf, uint32(len(items)))
	for _, it := range items {
		buf = PutChunk(buf, enc(it))
	}
	return buf
}

// TakeCustomArray reads a length-prefixed array of length-prefixed
// caller-decoded items.
func TakeCustomArray[T any](data []byte, dec func([]byte) (T, error)) (items []T, rest []byte, err error) {
	n, rest, err := takeUint32(data)
	if err != nil {
		return nil, nil, err
	}
	items = make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		var chunk []byte
		chunk, rest, err = TakeChunk(rest)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: custom array item %d/%d: %w", i, n, err)
		}
		v, err2 := dec(chunk)
		if err2 != nil {
			return nil, nil, fmt.Errorf("cache: custom array item %d/%d: %w", i, n, err2)
		}
		items = append(items, v)
	}
	return items, rest, nil
}
