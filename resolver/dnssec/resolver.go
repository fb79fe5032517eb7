package dnssec

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/lavabitllc/dimeresolve/errs"
	"github.com/lavabitllc/dimeresolve/log"
	"github.com/lavabitllc/dimeresolve/resolver/cache"
)

// Validator performs DNSSEC-aware lookups against a configured set of
// nameservers, maintaining a DNSKEY/DS cache and running the validation
// fixup pass described in the spec after every DNSKEY/DS/RRSIG sweep.
//
// Modeled on foxcpp-maddy/framework/dns.ExtResolver, generalized from
// "trust the resolver's AD bit" to doing the RRSIG verification itself,
// since this client cannot assume a validating local resolver.
type Validator struct {
	Client  *dns.Client
	Servers []string // host:port, tried in order
	Cache   *cache.Cache
	Logger  log.Logger
}

// NewValidator builds a Validator reading nameservers from the system
// resolv.conf, the same source foxcpp-maddy's NewExtResolver uses.
func NewValidator(c *cache.Cache, anchors []*DNSKey) (*Validator, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, errs.Wrap(errs.ResolverFailure, "dnssec: reading resolv.conf", err)
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	if len(servers) == 0 {
		servers = []string{"127.0.0.1:53"}
	}

	v := &Validator{
		Client:  &dns.Client{Timeout: 5 * time.Second},
		Servers: servers,
		Cache:   c,
		Logger:  log.Logger{Name: "dnssec"},
	}

	store := c.Store(cache.KindDNSKey)
	for _, a := range anchors {
		id := cacheID(a.Owner + "/" + fmt.Sprint(a.Keytag))
		store.AddForced(id, 0, 0, a, true, false)
	}
	return v, nil
}

func cacheID(label string) cache.ID {
	return cache.ID(sha256.Sum256([]byte(label)))
}

func (v *Validator) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, srv := range v.Servers {
		resp, _, err := v.Client.ExchangeContext(ctx, msg, srv)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dnssec: rcode %s looking up %s", dns.RcodeToString[resp.Rcode], msg.Question[0].Name)
			continue
		}
		return resp, nil
	}
	return nil, errs.Wrap(errs.ResolverFailure, "dnssec: exchange failed against all configured servers", lastErr)
}

func signedQuery(name string, qtype uint16) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.SetEdns0(4096, true) // DNSSEC-OK
	return msg
}

// LookupDNSKEY implements the DNSKEY half of the spec's "Lookup flow":
// query, build a DNSKey per answer, verify any covering RRSIG, add to the
// cache, then run the validation fixup pass.
func (v *Validator) LookupDNSKEY(ctx context.Context, zone string) ([]*DNSKey, error) {
	resp, err := v.exchange(ctx, signedQuery(zone, dns.TypeDNSKEY))
	if err != nil {
		return nil, err
	}

	var keys []*DNSKey
	store := v.Cache.Store(cache.KindDNSKey)
	for _, rr := range resp.Answer {
		dk, ok := rr.(*dns.DNSKEY)
		if !ok {
			continue
		}
		key, err := NewDNSKeyFromRR(dk)
		if err != nil {
			v.Logger.Debugf("dnssec: skipping DNSKEY for %s: %v", zone, err)
			continue
		}
		id := cacheID(key.Owner + "/" + fmt.Sprint(key.Keytag))
		stored := store.AddForced(id, rr.Header().Ttl, 0, key, false, true)
		keys = append(keys, stored.Payload.(*DNSKey))
	}

	if _, err := v.verifyRRSIGs(resp.Answer, dns.TypeDNSKEY); err != nil {
		v.Logger.Debugf("dnssec: DNSKEY RRSIG verification for %s: %v", zone, err)
	}

	v.fixup()
	return keys, nil
}

// LookupDS implements the DS half of the lookup flow.
func (v *Validator) LookupDS(ctx context.Context, zone string) ([]*DS, error) {
	resp, err := v.exchange(ctx, signedQuery(zone, dns.TypeDS))
	if err != nil {
		return nil, err
	}

	var entries []*DS
	dsStore := v.Cache.Store(cache.KindDS)
	dnskeyStore := v.Cache.Store(cache.KindDNSKey)
	for _, rr := range resp.Answer {
		rrDS, ok := rr.(*dns.DS)
		if !ok {
			continue
		}
		ds, err := NewDSFromRR(rrDS)
		if err != nil {
			v.Logger.Debugf("dnssec: skipping DS for %s: %v", zone, err)
			continue
		}

		matched := dnskeyStore.FindBy(fmt.Sprint(ds.KeyTag), func(p cache.Payload, key string) bool {
			dk := p.(*DNSKey)
			return dk.Owner == ds.Owner && fmt.Sprint(dk.Keytag) == key
		})
		if matched != nil {
			dk := matched.Payload.(*DNSKey)
			ok, err := ds.MatchesDNSKey(dk)
			if err != nil {
				v.Logger.Debugf("dnssec: DS digest check for %s: %v", zone, err)
			} else if !ok {
				v.Logger.Debugf("dnssec: DS digest mismatch for %s keytag %d", zone, ds.KeyTag)
			} else {
				// dk is the child key this DS covers, not the parent key
				// that signs the DS RRset; record that structural link on
				// the child regardless of whether the RRSIG below
				// verifies. The crypto trust link (ds.SigningKeys) is
				// wired separately from the verified signer.
				dk.DS = append(dk.DS, ds)
			}
		}

		id := cacheID(fmt.Sprintf("%s/ds/%d", ds.Owner, ds.KeyTag))
		stored := dsStore.AddForced(id, rr.Header().Ttl, 0, ds, false, true)
		entries = append(entries, stored.Payload.(*DS))
	}

	signingKey, err := v.verifyRRSIGs(resp.Answer, dns.TypeDS)
	if err != nil {
		v.Logger.Debugf("dnssec: DS RRSIG verification for %s: %v", zone, err)
	} else {
		// signingKey is the parent-zone key that signed this DS RRset and
		// is itself already validated (verifyRRSIGs enforces that); this
		// is the trust link IsTransitivelyValidated walks from each
		// covered DS entry to its child DNSKEY.
		for _, ds := range entries {
			ds.SigningKeys = append(ds.SigningKeys, signingKey)
		}
	}

	v.fixup()
	return entries, nil
}

// verifyRRSIGs runs the spec's RRSIG verification construction (canonical
// RRset, signer lookup by name+keytag, verification) for every RRSIG in
// answer covering qtype, and returns the DNSKEY that successfully signed
// it. A signature that cryptographically verifies is not enough on its
// own: the signing key must itself already be a trust anchor
// (signingKey.Validated) or transitively validated via an already-wired
// DS chain (signingKey.IsTransitivelyValidated()), otherwise any attacker
// who can inject a self-consistent but unanchored DNSKEY/RRSIG pair could
// forge a "validated" result. Without this gate the zone bit and a
// passing signature alone prove only that some key signed the set, not
// that the key is trusted.
func (v *Validator) verifyRRSIGs(answer []dns.RR, qtype uint16) (*DNSKey, error) {
	var sigs []*dns.RRSIG
	var covered []dns.RR
	for _, rr := range answer {
		if sig, ok := rr.(*dns.RRSIG); ok && sig.TypeCovered == qtype {
			sigs = append(sigs, sig)
			continue
		}
		if rr.Header().Rrtype == qtype {
			covered = append(covered, rr)
		}
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no RRSIG covering type %s present", dns.TypeToString[qtype])
	}
	if len(covered) == 0 {
		return nil, fmt.Errorf("signed set of size zero for type %s", dns.TypeToString[qtype])
	}

	sortRRsetCanonical(covered)

	var lastErr error
	dnskeyStore := v.Cache.Store(cache.KindDNSKey)
	for _, sig := range sigs {
		now := time.Now().UTC()
		if !withinValidityPeriod(sig.Inception, sig.Expiration, now) {
			lastErr = fmt.Errorf("RRSIG for %s outside validity window", dns.TypeToString[qtype])
			continue
		}

		signer := dns.Fqdn(sig.SignerName)
		found := dnskeyStore.FindBy(fmt.Sprint(sig.KeyTag), func(p cache.Payload, key string) bool {
			dk := p.(*DNSKey)
			return dk.Owner == signer && fmt.Sprint(dk.Keytag) == key
		})
		if found == nil {
			lastErr = fmt.Errorf("no cached DNSKEY for signer %s keytag %d", signer, sig.KeyTag)
			continue
		}
		signingKey := found.Payload.(*DNSKey)
		if !signingKey.Zone {
			lastErr = fmt.Errorf("signing key %s/%d lacks the zone bit", signer, sig.KeyTag)
			continue
		}

		rr, err := reconstructDNSKeyRR(signingKey)
		if err != nil {
			lastErr = err
			continue
		}
		if err := sig.Verify(rr, covered); err != nil {
			lastErr = fmt.Errorf("RRSIG verify failed for %s via %s/%d: %w", dns.TypeToString[qtype], signer, sig.KeyTag, err)
			continue
		}
		if !signingKey.Validated && !signingKey.IsTransitivelyValidated() {
			lastErr = fmt.Errorf("signing key %s/%d verified the signature but is not itself validated", signer, sig.KeyTag)
			continue
		}

		return signingKey, nil
	}
	return nil, lastErr
}

func sortRRsetCanonical(rrs []dns.RR) {
	packed := make(map[int][]byte, len(rrs))
	for i, rr := range rrs {
		buf := make([]byte, dns.MaxMsgSize)
		n, err := dns.PackRR(rr, buf, 0, nil, false)
		if err != nil {
			continue
		}
		packed[i] = buf[:n]
	}
	for i := 1; i < len(rrs); i++ {
		for j := i; j > 0; j-- {
			if !CanonicalLess(packed[j], packed[j-1]) {
				break
			}
			rrs[j], rrs[j-1] = rrs[j-1], rrs[j]
			packed[j], packed[j-1] = packed[j-1], packed[j]
		}
	}
}

func reconstructDNSKeyRR(k *DNSKey) (*dns.DNSKEY, error) {
	if len(k.RDATA) < 4 {
		return nil, fmt.Errorf("dnssec: malformed cached DNSKEY rdata for %s", k.Owner)
	}
	flags := uint16(k.RDATA[0])<<8 | uint16(k.RDATA[1])
	return &dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: k.Owner, Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET},
		Flags:     flags,
		Protocol:  k.RDATA[2],
		Algorithm: k.RDATA[3],
		PublicKey: encodeBase64(k.RDATA[4:]),
	}, nil
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func withinValidityPeriod(inception, expiration uint32, now time.Time) bool {
	nowTS := uint32(now.Unix())
	// RFC 2845-style serial arithmetic handles the 2038 wraparound the
	// same way miekg/dns's own RRSIG.ValidityPeriod does.
	return serialBefore(inception, nowTS+1) && serialBefore(nowTS-1, expiration)
}

func serialBefore(a, b uint32) bool {
	return a != b && (b-a) < (1<<31)
}

// fixup re-evaluates transitive validation for every cached DNSKEY, per
// spec §4.B step 4: validated-and-cacheable keys become persistent, the
// rest lose persistence.
func (v *Validator) fixup() {
	v.Cache.Store(cache.KindDNSKey).Each(func(e *cache.Entry) {
		dk := e.Payload.(*DNSKey)
		if dk.IsTransitivelyValidated() && dk.DoCache {
			e.Persistent = true
		} else {
			e.Persistent = false
		}
	})
}

// TXT retrieves the first TXT RR matching name, returning the
// concatenated fragments, TTL, and DNSSEC outcome. A TXT response is only
// considered DNSSEC-protected when the additional section carries an
// EDNS0 OPT RR with the DO flag set and at least one RRSIG covering TXT
// accompanied the answer; otherwise any validation outcome is downgraded
// to unsigned.
func (v *Validator) TXT(ctx context.Context, name string) (text string, ttl uint32, state ValidationState, err error) {
	resp, err := v.exchange(ctx, signedQuery(name, dns.TypeTXT))
	if err != nil {
		return "", 0, StateUnsigned, err
	}

	dnssecOK := false
	if opt := resp.IsEdns0(); opt != nil {
		dnssecOK = opt.Do()
	}

	var fragments []string
	var foundTTL uint32
	var hasRRSIG, foundTXT bool
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok && !foundTXT && strings.EqualFold(dns.Fqdn(txt.Hdr.Name), dns.Fqdn(name)) {
			fragments = append(fragments, strings.Join(txt.Txt, ""))
			foundTTL = txt.Hdr.Ttl
			foundTXT = true
		}
		if sig, ok := rr.(*dns.RRSIG); ok && sig.TypeCovered == dns.TypeTXT {
			hasRRSIG = true
		}
	}
	if len(fragments) == 0 {
		return "", 0, StateUnsigned, errs.New(errs.ResolverFailure, "dnssec: no TXT record found for "+name)
	}
	text = strings.Join(fragments, "")

	if !dnssecOK || !hasRRSIG {
		return text, foundTTL, StateUnsigned, nil
	}

	if _, err := v.verifyRRSIGs(resp.Answer, dns.TypeTXT); err != nil {
		return text, foundTTL, StateSignatureFailed, nil
	}
	return text, foundTTL, StateValidated, nil
}
