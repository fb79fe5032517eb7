package mrec

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/lavabitllc/dimeresolve/dnsutil"
	"github.com/lavabitllc/dimeresolve/log"
	"github.com/lavabitllc/dimeresolve/resolver/cache"
	"github.com/lavabitllc/dimeresolve/resolver/dnssec"
)

// secondsPerDay converts a DIME record's day-granularity expiry into the
// object cache's second-granularity absolute expiration.
const secondsPerDay = 24 * 60 * 60

// Resolver retrieves and caches DIME management records.
type Resolver struct {
	Validator *dnssec.Validator
	Cache     *cache.Cache
	Logger    log.Logger

	mu      sync.Mutex
	domains map[cache.ID]string // id -> domain, for the refresh callback
}

// NewResolver wires a Resolver's cache store to refresh relaxed,
// TTL-elapsed entries on the next lookup that observes them, per spec
// §4.C's retrieval rule.
func NewResolver(v *dnssec.Validator, c *cache.Cache) *Resolver {
	r := &Resolver{
		Validator: v,
		Cache:     c,
		Logger:    log.Logger{Name: "mrec"},
		domains:   make(map[cache.ID]string),
	}
	c.Store(cache.KindDIMERecord).OnRefreshDue = r.refresh
	return r
}

func recordID(domain string) cache.ID {
	canon, _ := dnsutil.ForLookup(domain)
	return cache.ID(sha256.Sum256([]byte("dx:" + canon)))
}

// Get returns the DIME record for domain, consulting the cache first.
func (r *Resolver) Get(ctx context.Context, domain string) (*Record, error) {
	id := recordID(domain)
	store := r.Cache.Store(cache.KindDIMERecord)

	if entry := store.Find(id); entry != nil {
		return entry.Payload.(*Record), nil
	}

	return r.fetchAndStore(ctx, domain, 0)
}

// fetchAndStore queries `_dx.<domain>`, parses and validates the answer,
// and stores it. preserveExpiration, if non-zero, overrides the freshly
// computed absolute expiration — used by refresh to keep the original
// expiration alive across a relaxed re-fetch, so a live refresh can never
// extend trust past the record's original expiry.
func (r *Resolver) fetchAndStore(ctx context.Context, domain string, preserveExpiration int64) (*Record, error) {
	qname := "_dx." + domain

	text, ttl, state, err := r.Validator.TXT(ctx, qname)
	if err != nil {
		return nil, err
	}

	rec, err := Parse(text, r.Logger)
	if err != nil {
		return nil, err
	}
	rec.DNSSECOutcome = state

	expiration := preserveExpiration
	if expiration == 0 && rec.ExpiryDays > 0 {
		expiration = time.Now().UTC().Add(time.Duration(rec.ExpiryDays) * secondsPerDay * time.Second).Unix()
	}

	id := recordID(domain)
	store := r.Cache.Store(cache.KindDIMERecord)
	relaxed := rec.Policy != PolicyStrict
	stored := store.AddForced(id, ttl, expiration, rec, true, relaxed)

	r.mu.Lock()
	r.domains[id] = domain
	r.mu.Unlock()

	return stored.Payload.(*Record), nil
}

// refresh is the object cache's relaxed-refresh callback: it attempts a
// live re-fetch for id and, on success, stores the new record with the
// existing entry's expiration preserved. A failed refresh leaves the
// stale entry in place, which the caller already received from Find.
func (r *Resolver) refresh(id cache.ID) {
	store := r.Cache.Store(cache.KindDIMERecord)
	// Each reads the entry without the sweep Find runs; a sweep here would
	// report the same still-due id and re-enter refresh.
	var expiration int64
	found := false
	store.Each(func(e *cache.Entry) {
		if e.ID == id {
			expiration, found = e.Expiration, true
		}
	})
	if !found {
		return
	}

	r.mu.Lock()
	domain := r.domains[id]
	r.mu.Unlock()
	if domain == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.fetchAndStore(ctx, domain, expiration); err != nil {
		r.Logger.Debugf("mrec: relaxed refresh failed for %s: %v", domain, err)
	}
}
