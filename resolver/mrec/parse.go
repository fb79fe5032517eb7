package mrec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/lavabitllc/dimeresolve/log"
)

// Parse reads a TXT record payload as a sequence of `key=value` pairs
// separated by spaces or semicolons, per spec §4.C. Unrecognized keys are
// logged via logger and ignored, not treated as a parse failure.
func Parse(payload string, logger log.Logger) (*Record, error) {
	rec := &Record{Policy: PolicyExperimental, Subdomain: SubdomainStrict}
	sawVersion := false

	for _, tok := range tokenize(payload) {
		if tok == "" {
			continue
		}
		key, value, err := splitPair(tok)
		if err != nil {
			return nil, fmt.Errorf("mrec: %w", err)
		}
		key = strings.ToLower(key)

		switch key {
		case "ver", "version":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("mrec: %s: not an integer: %w", key, err)
			}
			if n != 1 {
				return nil, fmt.Errorf("mrec: unsupported version %d", n)
			}
			rec.Version = n
			sawVersion = true

		case "pok", "primary":
			b, err := decodeFixed(value, 43, 32)
			if err != nil {
				return nil, fmt.Errorf("mrec: pok: %w", err)
			}
			var pok [32]byte
			copy(pok[:], b)
			rec.POK = append(rec.POK, pok)

		case "tls":
			b, err := decodeFixed(value, 86, 64)
			if err != nil {
				return nil, fmt.Errorf("mrec: tls: %w", err)
			}
			var sig [64]byte
			copy(sig[:], b)
			rec.TLSSignatures = append(rec.TLSSignatures, sig)

		case "pol", "policy":
			p, ok := parsePolicy(value)
			if !ok {
				return nil, fmt.Errorf("mrec: unrecognized policy %q", value)
			}
			rec.Policy = p

		case "syn", "syndicates":
			rec.Syndicates = value

		case "dx", "deliver":
			rec.DeliveryHosts = append(rec.DeliveryHosts, value)

		case "exp", "expiry":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("mrec: expiry: not an integer: %w", err)
			}
			rec.ExpiryDays = n

		case "sub", "subdomain":
			s, ok := parseSubdomain(value)
			if !ok {
				return nil, fmt.Errorf("mrec: unrecognized subdomain policy %q", value)
			}
			rec.Subdomain = s

		default:
			logger.Debugf("mrec: ignoring unrecognized key %q", key)
		}
	}

	if !sawVersion {
		return nil, fmt.Errorf("mrec: missing ver/version key")
	}
	if len(rec.POK) == 0 {
		return nil, fmt.Errorf("mrec: at least one pok/primary key is required")
	}
	return rec, nil
}

// tokenize splits payload on runs of spaces and semicolons.
func tokenize(payload string) []string {
	return strings.FieldsFunc(payload, func(r rune) bool {
		return r == ' ' || r == ';'
	})
}

// splitPair splits tok into key and value at the first '='. An '=' inside
// the value is tolerated only as part of a trailing base64-padding run —
// immediately followed by another '=' or by the end of the token; any
// other embedded '=' is a parse failure.
func splitPair(tok string) (key, value string, err error) {
	i := strings.IndexByte(tok, '=')
	if i < 0 {
		return "", "", fmt.Errorf("missing '=' in %q", tok)
	}
	key, value = tok[:i], tok[i+1:]

	for j := 0; j < len(value); j++ {
		if value[j] != '=' {
			continue
		}
		last := j == len(value)-1
		nextIsEquals := !last && value[j+1] == '='
		if !last && !nextIsEquals {
			return "", "", fmt.Errorf("unescaped '=' within value of %q", tok)
		}
	}
	return key, value, nil
}

// decodeFixed base64-nopad decodes value, failing unless the encoded form
// is exactly charLen characters and the decoded length is exactly
// byteLen.
func decodeFixed(value string, charLen, byteLen int) ([]byte, error) {
	if len(value) != charLen {
		return nil, fmt.Errorf("expected %d base64 characters, got %d", charLen, len(value))
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return nil, err
	}
	if len(b) != byteLen {
		return nil, fmt.Errorf("decoded length %d, expected %d", len(b), byteLen)
	}
	return b, nil
}
