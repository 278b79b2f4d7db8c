// Package flow implements the Flow Table (FT, spec.md §4.1): a fixed-size
// hash of doubly-linked bucket chains mapping a five-tuple to a live Flow
// record, with locked access for packet handlers and a state-based reaper.
package flow

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/akitasoftware/akita-libs/sampled_err"
	"github.com/google/uuid"
)

// Timeouts holds the normal and emergency timeout durations for one
// TimeoutClass (spec.md §4.1: "Timeout classes per state (NEW, ESTABLISHED,
// CLOSED) with both normal and emergency values").
type Timeouts struct {
	Normal    time.Duration
	Emergency time.Duration
}

// DefaultTimeouts mirrors Suricata's stock stream-tcp timeout policy.
func DefaultTimeouts() [3]Timeouts {
	return [3]Timeouts{
		TimeoutNew:         {Normal: 60 * time.Second, Emergency: 10 * time.Second},
		TimeoutEstablished: {Normal: 30 * time.Minute, Emergency: 5 * time.Minute},
		TimeoutClosed:      {Normal: 10 * time.Second, Emergency: 2 * time.Second},
	}
}

type bucket struct {
	mu   sync.Mutex
	head *Flow
}

// Table is the Flow Table. It is safe for concurrent use: bucket locks are
// held only briefly during lookup/insert, as spec.md §5 requires.
type Table struct {
	buckets  []bucket
	timeouts [3]Timeouts

	// emergency is flipped by the caller (e.g. when a memcap is hit) to make
	// the reaper use the shorter Emergency durations.
	emergency bool

	countMu sync.Mutex
	count   int
}

// NewTable allocates a Flow Table with the given number of buckets (rounded
// up internally is not performed — callers should pick a power of two for
// even xxhash distribution, matching common hash-table sizing advice).
func NewTable(numBuckets int, timeouts [3]Timeouts) *Table {
	if numBuckets <= 0 {
		numBuckets = 1024
	}
	return &Table{
		buckets:  make([]bucket, numBuckets),
		timeouts: timeouts,
	}
}

func (t *Table) bucketIndex(tuple Tuple) int {
	n := tuple.normalForm()
	h := xxhash.New32()
	var buf [38]byte
	copy(buf[0:16], n.SrcIP[:])
	copy(buf[16:32], n.DstIP[:])
	binary.BigEndian.PutUint16(buf[32:34], n.SrcPort)
	binary.BigEndian.PutUint16(buf[34:36], n.DstPort)
	buf[36] = byte(n.Proto)
	h.Write(buf[:])
	return int(h.Sum32()) % len(t.buckets)
}

// LookupOrCreate resolves tuple to its Flow, creating one if none exists.
// The returned Flow is locked; callers must Unlock it (via Release or
// directly) once the per-packet critical section completes.
func (t *Table) LookupOrCreate(tuple Tuple, now time.Time) (f *Flow, created bool, dir Direction) {
	idx := t.bucketIndex(tuple)
	b := &t.buckets[idx]

	b.mu.Lock()
	for cur := b.head; cur != nil; cur = cur.next {
		if cur.Tuple == tuple || cur.Tuple == tuple.Reverse() {
			cur.Lock()
			cur.refCount++
			b.mu.Unlock()
			return cur, false, cur.Direction(tuple)
		}
	}

	nf := &Flow{
		ID:         uuid.New(),
		Tuple:      tuple,
		CreatedAt:  now,
		LastSeenAt: now,
		refCount:   1,
		bucket:     idx,
	}
	nf.next = b.head
	if b.head != nil {
		b.head.prev = nf
	}
	b.head = nf
	b.mu.Unlock()

	t.countMu.Lock()
	t.count++
	t.countMu.Unlock()

	nf.Lock()
	return nf, true, ToServer
}

// Release drops one reference to f and unlocks it. Call this exactly once
// per LookupOrCreate, after the per-packet critical section is done.
func (t *Table) Release(f *Flow) {
	f.refCount--
	f.Unlock()
}

// SetEmergency toggles emergency-mode timeouts (spec.md §4.1's "emergency
// values"), used when a memcap is under pressure and flows should be reaped
// more aggressively.
func (t *Table) SetEmergency(on bool) { t.emergency = on }

// Count returns the number of live flows currently tracked.
func (t *Table) Count() int {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.count
}

// ReapExpired scans every bucket and evicts flows whose refCount is zero and
// whose idle time exceeds their TimeoutClass's duration. It returns the
// number reaped and an aggregated, sampled report of any eviction-time
// errors a protocol payload's Close hook raised.
func (t *Table) ReapExpired(now time.Time) (reaped int, errs sampled_err.Errors) {
	errs = sampled_err.Errors{SampleCount: 5}

	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		cur := b.head
		for cur != nil {
			next := cur.next
			if t.expired(cur, now) {
				if closer, ok := cur.Proto.(interface{ Close() error }); ok {
					if err := closer.Close(); err != nil {
						errs.Add(err)
					}
				}
				t.unlink(b, cur)
				reaped++
				t.countMu.Lock()
				t.count--
				t.countMu.Unlock()
			}
			cur = next
		}
		b.mu.Unlock()
	}
	return reaped, errs
}

func (t *Table) expired(f *Flow, now time.Time) bool {
	if f.refCount > 0 {
		return false
	}
	class := f.TimeoutClass()
	d := t.timeouts[class].Normal
	if t.emergency {
		d = t.timeouts[class].Emergency
	}
	return now.Sub(f.LastSeenAt) >= d
}

// unlink removes f from its bucket chain. Caller must hold b.mu.
func (t *Table) unlink(b *bucket, f *Flow) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		b.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	}
	f.prev, f.next = nil, nil
}
