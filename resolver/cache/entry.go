package cache

import "time"

// ID is a 32-byte content-addressed identifier, the hash of a caller
// supplied name (e.g. sha256("example.com") for a DIME record entry).
type ID [32]byte

// Entry is one cached object: spec §3 "Object cache entry".
type Entry struct {
	Created time.Time
	ID      ID
	Kind    Kind

	// TTL is seconds-from-creation; zero means "no TTL" — eviction then
	// depends solely on Expiration.
	TTL uint32

	// Expiration is an absolute UTC unix timestamp; zero means "no
	// expiration".
	Expiration int64

	// Relaxed marks an entry whose TTL expiry alone must not evict it —
	// only Expiration does. TTL expiry on a relaxed entry instead signals
	// that a refresh is due (see Status).
	Relaxed bool

	// Persistent entries are written to disk at save time; ephemeral
	// entries never are.
	Persistent bool

	Payload Payload

	// Shadow is an older entry this one displaced, kept only so that the
	// longer-lived on-disk binding survives a save even though the live
	// entry in memory is the new one.
	Shadow *Entry
}

// Status is the outcome of evaluating an Entry's expiry against now.
type Status int

const (
	// StatusLive means the entry is neither evicted nor due a refresh.
	StatusLive Status = iota
	// StatusEvict means the entry must be unlinked and destroyed.
	StatusEvict
	// StatusRefresh means the entry is kept (relaxed, not yet expired)
	// but the caller should be signaled that a refresh is due.
	StatusRefresh
)

// Status implements the eviction algorithm of spec §4.A: an entry is
// evicted if its absolute expiration has elapsed, or its TTL has elapsed
// and it is not relaxed. A relaxed entry whose TTL elapsed but whose
// expiration has not signals StatusRefresh instead of being evicted.
func (e *Entry) Status(now time.Time) Status {
	expired := e.Expiration != 0 && now.Unix() >= e.Expiration
	if expired {
		return StatusEvict
	}

	ttlElapsed := e.TTL != 0 && now.After(e.Created.Add(time.Duration(e.TTL)*time.Second))
	if !ttlElapsed {
		return StatusLive
	}

	if !e.Relaxed {
		return StatusEvict
	}
	return StatusRefresh
}

func (e *Entry) destroy() {
	if e.Payload != nil {
		// Plain Go payloads need no explicit teardown; payload types with
		// owned non-GC resources implement Destroy(), found here via a
		// best-effort type assertion, so payloads that do
		// hold external resources (e.g. an open OCSP responder socket)
		// can release them.
		if d, ok := e.Payload.(interface{ Destroy() }); ok {
			d.Destroy()
		}
	}
	if e.Shadow != nil {
		e.Shadow.destroy()
	}
}
