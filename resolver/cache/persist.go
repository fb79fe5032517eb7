package cache

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// headerSize is the fixed on-disk header preceding every payload: 8-byte
// creation timestamp, 32-byte id, 1-byte kind, 4-byte TTL, 8-byte
// expiration, 1-byte relaxed, 1-byte persistent.
const headerSize = 8 + 32 + 1 + 4 + 8 + 1 + 1

func encodeHeader(e *Entry) []byte {
	buf := make([]byte, 0, headerSize)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.Created.Unix()))
	buf = append(buf, ts[:]...)
	buf = append(buf, e.ID[:]...)
	buf = append(buf, byte(e.Kind))
	var ttl [4]byte
	binary.BigEndian.PutUint32(ttl[:], e.TTL)
	buf = append(buf, ttl[:]...)
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(e.Expiration))
	buf = append(buf, exp[:]...)
	if e.Relaxed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, 1) // forced persistent=1 on load, see decodeHeader
	return buf
}

func decodeHeader(data []byte) (*Entry, []byte, error) {
	if len(data) < headerSize {
		return nil, nil, io.ErrUnexpectedEOF
	}
	e := &Entry{}
	e.Created = time.Unix(int64(binary.BigEndian.Uint64(data[0:8])), 0).UTC()
	copy(e.ID[:], data[8:40])
	e.Kind = Kind(data[40])
	e.TTL = binary.BigEndian.Uint32(data[41:45])
	e.Expiration = int64(binary.BigEndian.Uint64(data[45:53]))
	e.Relaxed = data[53] != 0
	// Every entry loaded from disk is, by definition, one we persisted;
	// mark it Persistent regardless of the stored byte so a later save
	// keeps writing it back out.
	e.Persistent = true
	_ = data[54]
	return e, data[headerSize:], nil
}

// persistables walks e's shadow chain and returns the entries that should
// be written to disk. A forced replacement (AddForced) keeps its
// predecessor as Shadow; the predecessor, not the fresher overshadowing
// entry, is the one considered authoritative for persistence, since the
// live entry is typically a transient refresh still being validated.
func persistables(e *Entry) []*Entry {
	if e.Shadow != nil {
		return persistables(e.Shadow)
	}
	if !e.Persistent {
		return nil
	}
	return []*Entry{e}
}

// Save writes every persistent entry across all stores to w, in fixed
// Kind order, locking each store for the duration of its own dump so
// concurrent lookups on other kinds are not blocked.
func (c *Cache) Save(w io.Writer) error {
	for k := Kind(0); k < numKinds; k++ {
		if err := c.stores[k].save(w); err != nil {
			return fmt.Errorf("cache: save kind %s: %w", k, err)
		}
	}
	return nil
}

func (s *Store) save(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.byID {
		for _, p := range persistables(e) {
			payload, err := p.Payload.Serialize()
			if err != nil {
				return fmt.Errorf("serialize %s entry: %w", p.Kind, err)
			}
			record := append(encodeHeader(p), payload...)
			framed := PutChunk(nil, record)
			if _, err := w.Write(framed); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads entries previously written by Save, populating c. Corrupt
// individual records are skipped with a warning sent to onWarn (nil is a
// valid no-op sink); a truncated final record is treated as a clean EOF,
// since an interrupted write should not fail an otherwise-good load. A
// completely empty stream loads cleanly as an empty cache.
func (c *Cache) Load(r io.Reader, onWarn func(format string, args ...interface{})) error {
	if onWarn == nil {
		onWarn = func(string, ...interface{}) {}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	for len(data) > 0 {
		var frameLen uint32
		if len(data) < 4 {
			break // trailing partial length prefix: treat as clean EOF
		}
		frameLen = binary.BigEndian.Uint32(data[:4])
		if uint64(len(data)-4) < uint64(frameLen) {
			break // truncated final record: treat as clean EOF
		}
		record := data[4 : 4+frameLen]
		data = data[4+frameLen:]

		e, payload, err := decodeHeader(record)
		if err != nil {
			onWarn("cache: skipping corrupt entry header: %v", err)
			continue
		}
		if int(e.Kind) >= int(numKinds) {
			onWarn("cache: skipping entry with unknown kind %d", e.Kind)
			continue
		}
		p, err := deserialize(e.Kind, payload)
		if err != nil {
			onWarn("cache: skipping corrupt %s entry: %v", e.Kind, err)
			continue
		}
		e.Payload = p

		store := c.stores[e.Kind]
		store.mu.Lock()
		if _, exists := store.byID[e.ID]; exists {
			onWarn("cache: duplicate %s entry %x on load, keeping first", e.Kind, e.ID)
			store.mu.Unlock()
			continue
		}
		store.byID[e.ID] = e
		store.mu.Unlock()
	}
	return nil
}
