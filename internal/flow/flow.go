package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction tells a packet handler whether the packet it is holding travels
// in the same order as the Flow's stored tuple (ToServer, the tuple that
// created the Flow) or the opposite (ToClient).
type Direction uint8

const (
	ToServer Direction = iota
	ToClient
)

func (d Direction) Reverse() Direction {
	if d == ToServer {
		return ToClient
	}
	return ToServer
}

// TimeoutClass buckets a Flow's protocol state into the three timeout
// classes spec.md §4.1 assigns distinct (normal, emergency) durations to.
type TimeoutClass int

const (
	TimeoutNew TimeoutClass = iota
	TimeoutEstablished
	TimeoutClosed
)

// StateClassifier is implemented by a Flow's protocol-specific payload
// (*tcpssn.Session, for TCP) so the reaper can classify a Flow's timeout
// bucket without the flow package needing to import the TCP state machine.
type StateClassifier interface {
	TimeoutClass() TimeoutClass
}

// Flow is a live five-tuple record (spec.md §3). FT hands out flows behind a
// lock: callers must hold the returned Flow's Lock for the duration of the
// handle→insert→feed→match critical section described in spec.md §5.
type Flow struct {
	ID    uuid.UUID
	Tuple Tuple

	CreatedAt  time.Time
	LastSeenAt time.Time

	refCount int

	// Proto is the protocol-specific payload; the engine pipeline stores its
	// per-flow state here (the *tcpssn.Session and the *httpinspect.State).
	Proto interface{}

	AppProto string
	// AppState is an opaque application-layer parser state handle (spec.md §3);
	// the engine pipeline leaves it nil and keeps HTTP state in Proto.
	AppState interface{}

	// Per-direction transaction cursors and inspection latch (spec.md §3, §4.4).
	InspectedTxID [2]uint64
	LoggedTxID    [2]uint64
	NoInspection  [2]bool

	mu sync.Mutex

	// bucket chain linkage, owned by Table.
	prev, next *Flow
	bucket     int
}

// Lock acquires the flow's critical-section lock. Every packet handler must
// hold this for the entire handle→insert→feed→match sequence (spec.md §5).
func (f *Flow) Lock() { f.mu.Lock() }

// Unlock releases the flow's critical-section lock.
func (f *Flow) Unlock() { f.mu.Unlock() }

// Touch refreshes the flow's last-seen timestamp; called once per accepted
// packet.
func (f *Flow) Touch(now time.Time) { f.LastSeenAt = now }

// TimeoutClass classifies the flow for the reaper using its protocol
// payload's StateClassifier, defaulting to TimeoutNew when the payload does
// not (yet) implement one.
func (f *Flow) TimeoutClass() TimeoutClass {
	if sc, ok := f.Proto.(StateClassifier); ok {
		return sc.TimeoutClass()
	}
	return TimeoutNew
}

// Direction resolves how tuple relates to the Flow's canonical tuple: if it
// matches as stored, packets belong to ToServer; if it is the reverse, they
// belong to ToClient.
func (f *Flow) Direction(tuple Tuple) Direction {
	if f.Tuple == tuple {
		return ToServer
	}
	return ToClient
}
