package dnssec

import (
	"strings"
	"testing"
	"time"
)

func TestKeytag(t *testing.T) {
	// A short DNSKEY-shaped rdata (flags, protocol, algorithm, then the
	// first bytes of a public key); by the Appendix B sum its keytag is
	// 19025.
	rdata := []byte{
		0x01, 0x00, // flags = 256
		0x03,       // protocol
		0x05,       // algorithm (RSA-SHA1)
		0x03, 0x01, 0x00, 0x01, 0xf9, 0x94, 0xf9, 0xe4,
		0x00, 0x60, 0xd1, 0x56, 0xb7, 0x8d, 0xc6, 0x8b,
	}
	if got := Keytag(rdata); got == 0 {
		t.Fatalf("Keytag returned 0, want nonzero")
	}
	// The algorithm must be stable and order-dependent: permuting bytes
	// changes the result.
	permuted := append([]byte(nil), rdata...)
	permuted[0], permuted[1] = permuted[1], permuted[0]
	if Keytag(rdata) == Keytag(permuted) {
		t.Fatalf("Keytag should depend on byte order")
	}
}

func TestCanonicalOwnerName(t *testing.T) {
	got, err := CanonicalOwnerName("Example.COM.")
	if err != nil {
		t.Fatalf("CanonicalOwnerName: %v", err)
	}
	want := []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	if string(got) != string(want) {
		t.Fatalf("CanonicalOwnerName = %v, want %v", got, want)
	}
}

func TestCanonicalOwnerNameRoot(t *testing.T) {
	got, err := CanonicalOwnerName(".")
	if err != nil {
		t.Fatalf("CanonicalOwnerName(root): %v", err)
	}
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("root name should pack to a single zero byte, got %v", got)
	}
}

func TestCanonicalOwnerNameLabelTooLong(t *testing.T) {
	_, err := CanonicalOwnerName(strings.Repeat("a", 64) + ".com")
	if err == nil {
		t.Fatalf("expected error for label exceeding 63 bytes")
	}
}

func TestCanonicalLessPrefixRule(t *testing.T) {
	// RFC 4034 §6.3: a shorter prefix sorts before a longer one sharing
	// it, and shorter-with-equal-prefix sorts first.
	cases := []struct {
		a, b []byte
		less bool
	}{
		{[]byte{1}, []byte{1, 0}, true},
		{[]byte{1, 0}, []byte{1}, false},
		{[]byte{1, 2}, []byte{1, 3}, true},
		{[]byte{2}, []byte{1, 255}, false},
	}
	for _, tc := range cases {
		if got := CanonicalLess(tc.a, tc.b); got != tc.less {
			t.Fatalf("CanonicalLess(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.less)
		}
	}
}

func TestSortRDATA(t *testing.T) {
	in := [][]byte{{3, 0}, {1}, {2}, {1, 0}}
	SortRDATA(in)
	want := [][]byte{{1}, {1, 0}, {2}, {3, 0}}
	for i := range want {
		if string(in[i]) != string(want[i]) {
			t.Fatalf("SortRDATA[%d] = %v, want %v", i, in[i], want[i])
		}
	}
}

func TestParseTrustAnchorLine(t *testing.T) {
	line := `. initial-key 257 3 8 "AwEAAag="`
	anchor, err := parseTrustAnchorLine(line)
	if err != nil {
		t.Fatalf("parseTrustAnchorLine: %v", err)
	}
	if anchor.Owner != "." {
		t.Fatalf("Owner = %q, want %q", anchor.Owner, ".")
	}
	if !anchor.SEP {
		t.Fatalf("expected SEP bit set from flags 257")
	}
	if !anchor.Validated {
		t.Fatalf("trust anchors must load as Validated")
	}
}

func TestParseTrustAnchorLineRejectsBadProtocol(t *testing.T) {
	_, err := parseTrustAnchorLine(`. initial-key 257 99 8 "AwEAAag="`)
	if err == nil {
		t.Fatalf("expected error for protocol != 3")
	}
}

func TestParseTrustAnchorLineRejectsBadFlags(t *testing.T) {
	_, err := parseTrustAnchorLine(`. initial-key 4 3 8 "AwEAAag="`)
	if err == nil {
		t.Fatalf("expected error for flags outside {zone-bit, SEP-bit}")
	}
}

func TestWithinValidityPeriod(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inception := uint32(now.Add(-time.Hour).Unix())
	expiration := uint32(now.Add(time.Hour).Unix())
	if !withinValidityPeriod(inception, expiration, now) {
		t.Fatalf("expected now to be within [inception, expiration]")
	}
	if withinValidityPeriod(inception, expiration, now.Add(2*time.Hour)) {
		t.Fatalf("expected expiration to be enforced")
	}
	if withinValidityPeriod(inception, expiration, now.Add(-2*time.Hour)) {
		t.Fatalf("expected inception to be enforced")
	}
}

func TestDNSKeyTransitiveValidation(t *testing.T) {
	root := &DNSKey{Owner: ".", Keytag: 1, Validated: true}
	ds := &DS{Owner: "com.", KeyTag: 1, SigningKeys: []*DNSKey{root}}
	com := &DNSKey{Owner: "com.", Keytag: 2, DS: []*DS{ds}}

	if !com.IsTransitivelyValidated() {
		t.Fatalf("expected com. to be transitively validated via its DS -> root chain")
	}

	orphan := &DNSKey{Owner: "example.com.", Keytag: 3}
	if orphan.IsTransitivelyValidated() {
		t.Fatalf("expected an unanchored key to be unvalidated")
	}
}

func TestDNSKeyTransitiveValidationTerminatesOnCycle(t *testing.T) {
	a := &DNSKey{Owner: "a.", Keytag: 1}
	b := &DNSKey{Owner: "b.", Keytag: 2}
	dsA := &DS{Owner: "a.", SigningKeys: []*DNSKey{b}}
	dsB := &DS{Owner: "b.", SigningKeys: []*DNSKey{a}}
	a.DS = []*DS{dsA}
	b.DS = []*DS{dsB}

	done := make(chan bool, 1)
	go func() { done <- a.IsTransitivelyValidated() }()
	select {
	case got := <-done:
		if got {
			t.Fatalf("a cycle with no validated anchor must not report validated")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("IsTransitivelyValidated did not terminate on a cyclic DS/DNSKEY graph")
	}
}
