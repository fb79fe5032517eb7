package cache

import (
	"sync"
	"time"
)

// RefreshFunc is called when a traversal finds a relaxed entry whose TTL
// has elapsed but whose absolute expiration has not — the caller that owns
// the store's refresh policy (e.g. resolver/mrec on a DIME record store)
// supplies this to learn which id needs refreshing.
type RefreshFunc func(id ID)

// Store holds every Entry of one Kind. Each store carries its own lock, as
// spec §5 requires ("each cache store carries its own mutex; cache
// operations take that mutex for the duration of traversal and
// insertion/removal"); ordering across stores is intentionally undefined.
type Store struct {
	kind Kind
	mu   sync.Mutex
	byID map[ID]*Entry

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	// OnRefreshDue is invoked (outside the lock) for every relaxed entry
	// found due for refresh during a traversal.
	OnRefreshDue RefreshFunc
}

// NewStore creates an empty store for the given kind.
func NewStore(kind Kind) *Store {
	return &Store{
		kind: kind,
		byID: make(map[ID]*Entry),
		Now:  time.Now,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// sweep evaluates every entry's Status, evicting the stale ones and
// collecting refresh-due ids. Must be called with s.mu held.
func (s *Store) sweep() []ID {
	now := s.now()
	var dueRefresh []ID
	for id, e := range s.byID {
		switch e.Status(now) {
		case StatusEvict:
			e.destroy()
			delete(s.byID, id)
		case StatusRefresh:
			dueRefresh = append(dueRefresh, id)
		}
	}
	return dueRefresh
}

func (s *Store) notifyRefresh(ids []ID) {
	if s.OnRefreshDue == nil {
		return
	}
	for _, id := range ids {
		s.OnRefreshDue(id)
	}
}

// returnCopy applies the non-internal "deep copy on return" rule: internal
// stores (DNSKEY, DS, OCSP) hand back the shared entry; others get a
// payload clone so the caller owns it independently of the cache.
func (s *Store) returnCopy(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	if s.kind.internal() {
		return e
	}
	cp := *e
	cp.Payload = e.Payload.Clone()
	cp.Shadow = nil // the copy owns no shadow; only the cache persists it
	return &cp
}

// Find looks up id, evicting stale entries from the whole store first.
func (s *Store) Find(id ID) *Entry {
	s.mu.Lock()
	due := s.sweep()
	e, ok := s.byID[id]
	var out *Entry
	if ok {
		out = s.returnCopy(e)
	}
	s.mu.Unlock()
	s.notifyRefresh(due)
	if !ok {
		return nil
	}
	return out
}

// FindBy scans every live entry's payload with cmp, returning the first
// match. Used when the lookup key isn't the content-addressed id (e.g. a
// DNSKEY search by owner+keytag rather than by id).
func (s *Store) FindBy(key string, cmp func(Payload, string) bool) *Entry {
	s.mu.Lock()
	due := s.sweep()
	var found *Entry
	for _, e := range s.byID {
		if cmp(e.Payload, key) {
			found = e
			break
		}
	}
	out := s.returnCopy(found)
	s.mu.Unlock()
	s.notifyRefresh(due)
	return out
}

// Exists reports whether id is present (and live).
func (s *Store) Exists(id ID) bool {
	s.mu.Lock()
	due := s.sweep()
	_, ok := s.byID[id]
	s.mu.Unlock()
	s.notifyRefresh(due)
	return ok
}

// Add inserts a new entry. If id already exists, Add fails — use AddForced
// to replace.
func (s *Store) Add(id ID, ttl uint32, expiration int64, payload Payload, persist, relaxed bool) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	if _, exists := s.byID[id]; exists {
		return nil, false
	}
	e := &Entry{
		Created:    s.now(),
		ID:         id,
		Kind:       s.kind,
		TTL:        ttl,
		Expiration: expiration,
		Relaxed:    relaxed,
		Persistent: persist,
		Payload:    payload,
	}
	s.byID[id] = e
	return s.returnCopy(e), true
}

// sweepLocked is sweep for call sites that already hold the lock across a
// larger critical section: instead of notifying after unlock, it hands the
// refresh-due ids to OnRefreshDue on a separate goroutine.
func (s *Store) sweepLocked() {
	due := s.sweep()
	// Mutations in progress take priority over the refresh callback, so
	// the callback runs asynchronously rather than inside this call.
	if len(due) > 0 && s.OnRefreshDue != nil {
		go func(ids []ID) {
			for _, id := range ids {
				s.OnRefreshDue(id)
			}
		}(due)
	}
}

// AddForced inserts id, replacing any colliding entry. The replaced entry
// becomes the new entry's Shadow so that, at save time, the longer-lived
// on-disk record is preserved even though the live lookup now returns the
// fresher one (spec §3 "shadow entry").
func (s *Store) AddForced(id ID, ttl uint32, expiration int64, payload Payload, persist, relaxed bool) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	old := s.byID[id]
	e := &Entry{
		Created:    s.now(),
		ID:         id,
		Kind:       s.kind,
		TTL:        ttl,
		Expiration: expiration,
		Relaxed:    relaxed,
		Persistent: persist,
		Payload:    payload,
		Shadow:     old,
	}
	s.byID[id] = e
	return s.returnCopy(e)
}

// AddBy inserts id only if no existing live entry's payload compares equal
// to cmp(payload, key); otherwise it fails, mirroring Add's collision
// semantics but keyed by a caller-supplied equivalence instead of id
// identity.
func (s *Store) AddBy(id ID, key string, cmp func(Payload, string) bool, ttl uint32, expiration int64, payload Payload, persist, relaxed bool) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	for _, e := range s.byID {
		if cmp(e.Payload, key) {
			return nil, false
		}
	}
	e := &Entry{
		Created:    s.now(),
		ID:         id,
		Kind:       s.kind,
		TTL:        ttl,
		Expiration: expiration,
		Relaxed:    relaxed,
		Persistent: persist,
		Payload:    payload,
	}
	s.byID[id] = e
	return s.returnCopy(e), true
}

// Remove deletes id, reporting whether anything was removed.
func (s *Store) Remove(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	e.destroy()
	delete(s.byID, id)
	return true
}

// RemoveBy deletes every live entry matching cmp, reporting the count
// removed.
func (s *Store) RemoveBy(key string, cmp func(Payload, string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	n := 0
	for id, e := range s.byID {
		if cmp(e.Payload, key) {
			e.destroy()
			delete(s.byID, id)
			n++
		}
	}
	return n
}

// Each calls fn for every live entry without sweeping first, so
// validation-fixup style passes (spec §4.B step 4) can be run from outside
// without recursively racing the store's own eviction.
func (s *Store) Each(fn func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byID {
		fn(e)
	}
}

// Len reports the live entry count without evicting.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
