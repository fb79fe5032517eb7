package cache

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"
)

// fakePayload is a minimal Payload used only by this package's own tests;
// each payload-owning package (mrec, dnssec, ...) has its own real type and
// its own tests exercising RegisterDeserializer against this same wire
// format.
type fakePayload struct {
	Value string
}

func (p *fakePayload) Kind() Kind { return KindSignet }

func (p *fakePayload) Serialize() ([]byte, error) {
	return PutString(nil, p.Value), nil
}

func (p *fakePayload) Clone() Payload {
	cp := *p
	return &cp
}

func (p *fakePayload) Dump(w io.Writer) {
	fmt.Fprintf(w, "fakePayload{%q}", p.Value)
}

func decodeFakePayload(data []byte) (Payload, error) {
	s, _, err := TakeString(data)
	if err != nil {
		return nil, err
	}
	return &fakePayload{Value: s}, nil
}

func init() {
	RegisterDeserializer(KindSignet, decodeFakePayload)
}

func idOf(b byte) ID {
	var id ID
	id[0] = b
	return id
}

func TestStoreAddFind(t *testing.T) {
	s := NewStore(KindSignet)

	id := idOf(1)
	_, ok := s.Add(id, 0, 0, &fakePayload{Value: "a"}, true, false)
	if !ok {
		t.Fatalf("Add failed on empty store")
	}

	got := s.Find(id)
	if got == nil {
		t.Fatalf("Find returned nil for present entry")
	}
	if got.Payload.(*fakePayload).Value != "a" {
		t.Fatalf("Find returned wrong payload: %+v", got.Payload)
	}

	// Non-internal store: the returned entry must be an independent copy.
	got.Payload.(*fakePayload).Value = "mutated"
	again := s.Find(id)
	if again.Payload.(*fakePayload).Value != "a" {
		t.Fatalf("mutating a returned entry leaked into the store: %+v", again.Payload)
	}
}

func TestStoreAddCollision(t *testing.T) {
	s := NewStore(KindSignet)
	id := idOf(1)

	if _, ok := s.Add(id, 0, 0, &fakePayload{Value: "a"}, true, false); !ok {
		t.Fatalf("first Add failed")
	}
	if _, ok := s.Add(id, 0, 0, &fakePayload{Value: "b"}, true, false); ok {
		t.Fatalf("second Add on colliding id should fail")
	}
}

func TestStoreAddForcedKeepsShadow(t *testing.T) {
	s := NewStore(KindSignet)
	id := idOf(1)

	s.Add(id, 0, 0, &fakePayload{Value: "old"}, true, false)
	fresh := s.AddForced(id, 0, 0, &fakePayload{Value: "new"}, true, false)

	if fresh.Payload.(*fakePayload).Value != "new" {
		t.Fatalf("AddForced did not return the fresh entry")
	}

	got := s.Find(id)
	if got.Payload.(*fakePayload).Value != "new" {
		t.Fatalf("Find after AddForced did not return fresh entry")
	}

	live := s.byID[id]
	if live.Shadow == nil || live.Shadow.Payload.(*fakePayload).Value != "old" {
		t.Fatalf("AddForced did not keep the replaced entry as its shadow: %+v", live.Shadow)
	}
}

func TestEntryStatusEviction(t *testing.T) {
	now := time.Unix(1_000_000, 0).UTC()

	cases := []struct {
		name string
		e    Entry
		want Status
	}{
		{
			name: "no ttl no expiration",
			e:    Entry{Created: now},
			want: StatusLive,
		},
		{
			name: "ttl not yet elapsed",
			e:    Entry{Created: now, TTL: 60},
			want: StatusLive,
		},
		{
			name: "ttl elapsed not relaxed",
			e:    Entry{Created: now.Add(-2 * time.Minute), TTL: 60},
			want: StatusEvict,
		},
		{
			name: "ttl elapsed relaxed not expired",
			e:    Entry{Created: now.Add(-2 * time.Minute), TTL: 60, Relaxed: true, Expiration: now.Add(time.Hour).Unix()},
			want: StatusRefresh,
		},
		{
			name: "expiration elapsed overrides relaxed",
			e:    Entry{Created: now.Add(-2 * time.Minute), TTL: 60, Relaxed: true, Expiration: now.Add(-time.Minute).Unix()},
			want: StatusEvict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.e.Status(now)
			if got != tc.want {
				t.Fatalf("Status() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStoreSweepEvictsOnTraversal(t *testing.T) {
	s := NewStore(KindSignet)
	fixedNow := time.Unix(1_000_000, 0).UTC()
	s.Now = func() time.Time { return fixedNow }

	id := idOf(1)
	s.Add(id, 1, 0, &fakePayload{Value: "a"}, true, false)

	s.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	if s.Exists(id) {
		t.Fatalf("expired entry should have been evicted on traversal")
	}
}

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	c := New()
	s := c.Store(KindSignet)

	id1, id2 := idOf(1), idOf(2)
	s.Add(id1, 0, 0, &fakePayload{Value: "alice"}, true, false)
	s.Add(id2, 0, 0, &fakePayload{Value: "bob"}, false /* not persistent */, false)

	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New()
	if err := loaded.Load(&buf, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got1 := loaded.Store(KindSignet).Find(id1)
	if got1 == nil || got1.Payload.(*fakePayload).Value != "alice" {
		t.Fatalf("persistent entry did not round-trip: %+v", got1)
	}

	got2 := loaded.Store(KindSignet).Find(id2)
	if got2 != nil {
		t.Fatalf("non-persistent entry should not have been saved, got %+v", got2)
	}
}

func TestCacheLoadEmptyStream(t *testing.T) {
	c := New()
	if err := c.Load(bytes.NewReader(nil), nil); err != nil {
		t.Fatalf("Load of empty stream: %v", err)
	}
	if c.Store(KindSignet).Len() != 0 {
		t.Fatalf("expected empty cache")
	}
}

func TestCacheLoadSkipsCorruptRecordButContinues(t *testing.T) {
	c := New()
	s := c.Store(KindSignet)
	id1, id2 := idOf(1), idOf(2)
	s.Add(id1, 0, 0, &fakePayload{Value: "alice"}, true, false)
	s.Add(id2, 0, 0, &fakePayload{Value: "bob"}, true, false)

	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Corrupt the frame-length prefix of the final record by truncating
	// the stream mid-record; this must be treated as a clean EOF, not an
	// error, and the first (intact) record must still load.
	truncated := buf.Bytes()[:len(buf.Bytes())-3]

	var warnings int
	loaded := New()
	err := loaded.Load(bytes.NewReader(truncated), func(string, ...interface{}) { warnings++ })
	if err != nil {
		t.Fatalf("Load with truncated trailing record: %v", err)
	}
	if loaded.Store(KindSignet).Len() != 1 {
		t.Fatalf("expected exactly 1 surviving entry, got %d", loaded.Store(KindSignet).Len())
	}
}

func TestCacheSaveShadowPersistsPredecessor(t *testing.T) {
	c := New()
	s := c.Store(KindSignet)
	id := idOf(1)

	s.Add(id, 0, 0, &fakePayload{Value: "original"}, true, false)
	// A forced replacement with Persistent=false: the fresh entry itself
	// must not be written, but its shadowed predecessor must be.
	s.AddForced(id, 0, 0, &fakePayload{Value: "ephemeral-refresh"}, false, false)

	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New()
	if err := loaded.Load(&buf, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := loaded.Store(KindSignet).Find(id)
	if got == nil {
		t.Fatalf("expected shadowed predecessor to have been persisted")
	}
	if got.Payload.(*fakePayload).Value != "original" {
		t.Fatalf("expected persisted shadow value %q, got %q", "original", got.Payload.(*fakePayload).Value)
	}
}

func TestRemoveBy(t *testing.T) {
	s := NewStore(KindSignet)
	s.Add(idOf(1), 0, 0, &fakePayload{Value: "keep"}, true, false)
	s.Add(idOf(2), 0, 0, &fakePayload{Value: "drop"}, true, false)
	s.Add(idOf(3), 0, 0, &fakePayload{Value: "drop"}, true, false)

	n := s.RemoveBy("drop", func(p Payload, key string) bool {
		return p.(*fakePayload).Value == key
	})
	if n != 2 {
		t.Fatalf("RemoveBy removed %d entries, want 2", n)
	}
	if s.Len() != 1 {
		t.Fatalf("store has %d entries left, want 1", s.Len())
	}
}
