package dnssec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/lavabitllc/dimeresolve/errs"
)

// LoadTrustAnchors reads the root trust anchor file: one entry per line,
// `<label> initial-key <flags> <proto> <alg> "<base64-DNSKEY-public-material>"`.
// Every entry is returned with Validated set (it is, by definition, a
// trust anchor). Failing to load at least one entry is fatal, per spec.
func LoadTrustAnchors(path string) ([]*DNSKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.SyscallFailure, "dnssec: opening trust anchor file", err)
	}
	defer f.Close()

	anchors, err := parseTrustAnchors(f)
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, errs.New(errs.ResolverFailure, "dnssec: trust anchor file contains no usable entries")
	}
	return anchors, nil
}

func parseTrustAnchors(r io.Reader) ([]*DNSKey, error) {
	var anchors []*DNSKey

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		anchor, err := parseTrustAnchorLine(line)
		if err != nil {
			return nil, fmt.Errorf("dnssec: trust anchor file line %d: %w", lineNo, err)
		}
		anchors = append(anchors, anchor)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return anchors, nil
}

func parseTrustAnchorLine(line string) (*DNSKey, error) {
	quoteStart := strings.IndexByte(line, '"')
	if quoteStart < 0 || !strings.HasSuffix(line, `"`) || quoteStart == len(line)-1 {
		return nil, fmt.Errorf("missing quoted key material")
	}
	head := strings.Fields(line[:quoteStart])
	keyMaterial := line[quoteStart+1 : len(line)-1]

	if len(head) != 5 || head[1] != "initial-key" {
		return nil, fmt.Errorf("expected '<label> initial-key <flags> <proto> <alg>', got %q", line[:quoteStart])
	}

	label := dns.Fqdn(head[0])
	flags, err := strconv.ParseUint(head[2], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("bad flags: %w", err)
	}
	proto, err := strconv.ParseUint(head[3], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("bad protocol: %w", err)
	}
	if proto != 3 {
		return nil, fmt.Errorf("protocol must be 3, got %d", proto)
	}
	algNum, err := strconv.ParseUint(head[4], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("bad algorithm: %w", err)
	}
	alg := Algorithm(algNum)
	if !alg.valid() {
		return nil, fmt.Errorf("unsupported algorithm %d", algNum)
	}
	if flags&^(flagZoneBit|flagSEPBit) != 0 {
		return nil, fmt.Errorf("flags %d outside {zone-bit, SEP-bit}", flags)
	}

	pub, err := decodeBase64(strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("bad base64 key material: %w", err)
	}

	rdata := make([]byte, 4, 4+len(pub))
	rdata[0] = byte(flags >> 8)
	rdata[1] = byte(flags)
	rdata[2] = byte(proto)
	rdata[3] = byte(algNum)
	rdata = append(rdata, pub...)

	return &DNSKey{
		Owner:     label,
		Algorithm: alg,
		Zone:      flags&flagZoneBit != 0,
		SEP:       flags&flagSEPBit != 0,
		RDATA:     rdata,
		Keytag:    Keytag(rdata),
		Validated: true,
		DoCache:   true,
	}, nil
}
