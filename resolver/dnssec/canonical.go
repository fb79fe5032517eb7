package dnssec

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	maxNameWire  = 255
	maxLabelSize = 63
)

// CanonicalOwnerName packs name into its RFC 4034 §6.2 canonical wire
// form: each label lower-cased and length-prefixed, terminated by the
// zero-length root label. The packed form must not exceed 255 bytes, and
// no individual label may exceed 63 bytes.
func CanonicalOwnerName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	var labels []string
	if name != "" {
		labels = strings.Split(name, ".")
	}

	var buf bytes.Buffer
	for _, label := range labels {
		if len(label) > maxLabelSize {
			return nil, fmt.Errorf("dnssec: label %q exceeds %d bytes", label, maxLabelSize)
		}
		buf.WriteByte(byte(len(label)))
		buf.WriteString(strings.ToLower(label))
	}
	buf.WriteByte(0) // root label

	if buf.Len() > maxNameWire {
		return nil, fmt.Errorf("dnssec: packed name %q exceeds %d bytes", name, maxNameWire)
	}
	return buf.Bytes(), nil
}

// CanonicalLess implements the RFC 4034 §6.3 canonical RR ordering: rdata
// is compared as a left-justified octet sequence, where a shorter prefix
// sorts before a longer one and, given an equal shared prefix, the shorter
// sequence sorts first.
func CanonicalLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if c := bytes.Compare(a[:n], b[:n]); c != 0 {
		return c < 0
	}
	return len(a) < len(b)
}

// SortRDATA sorts rdata (each entry one RR's rdata bytes) into canonical
// order in place.
func SortRDATA(rdata [][]byte) {
	// Small N in practice (one RRset); insertion sort keeps this
	// allocation-free and avoids importing sort for a handful of items.
	for i := 1; i < len(rdata); i++ {
		for j := i; j > 0 && CanonicalLess(rdata[j], rdata[j-1]); j-- {
			rdata[j], rdata[j-1] = rdata[j-1], rdata[j]
		}
	}
}
