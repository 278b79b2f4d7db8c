// Package reassembly implements the Reassembly Store (RS, spec.md §4.3): a
// per-direction ordered segment list with OS-policy-aware overlap
// resolution that emits contiguous "stream messages" to the Application
// Inspector and Detection Engine.
package reassembly

import (
	"sort"

	"github.com/akitasoftware/akita-libs/memview"

	"github.com/hillu/suricata-sub000/internal/ospolicy"
	"github.com/hillu/suricata-sub000/internal/seqnum"
)

// Segment is one buffered chunk of a Stream's data (spec.md §3). It is
// owned by its Stream and is freed once it has been entirely folded past
// the reassembly cursor (ra_base_seq) and the peer has acknowledged it.
type Segment struct {
	Seq  uint32
	Data memview.MemView

	// consumed is true once the byte range has been folded past ra_base_seq
	// and handed out in a StreamMessage. The segment is kept (but no longer
	// contributes to ready-data scanning) until Acknowledged() frees it, per
	// spec.md §3 invariant (i).
	consumed bool

	next *Segment
}

func (s *Segment) end() uint32 { return s.Seq + uint32(s.Data.Len()) }

// StreamMessage is a contiguous chunk of reassembled bytes with its
// absolute stream offset (spec.md §3, §4.3). Once emitted, a StreamMessage's
// bytes are immutable (spec.md §3 invariant iv).
type StreamMessage struct {
	Offset uint64
	Data   memview.MemView
}

// overlapMode classifies an OS policy into one of the three overlap-winner
// behaviors spec.md §4.3's table describes.
type overlapMode int

const (
	modeFirstSeen overlapMode = iota
	modeLinuxLike
	modeNewest
)

func modeFor(p ospolicy.Policy) overlapMode {
	switch ospolicy.Normalize(p) {
	case ospolicy.Linux, ospolicy.OldLinux, ospolicy.Solaris:
		return modeLinuxLike
	case ospolicy.Last:
		return modeNewest
	default: // BSD, MacOS, HPUX10, IRIX, Windows, Windows2K3, Vista, First, HPUX11, Default
		return modeFirstSeen
	}
}

// Stream is one direction's reassembly state: an ascending, non-overlapping
// segment list plus the reassembly cursor (ra_base_seq) that tracks how far
// contiguous data has been folded and emitted.
type Stream struct {
	OSPolicy ospolicy.Policy

	// DepthCap is the "stream.reassembly.depth" byte cap (spec.md §6); 0
	// means unlimited.
	DepthCap int

	// NoReassembly latches once DepthCap is exceeded: subsequent bytes are
	// discarded, but ACKs still advance (spec.md §4.3).
	NoReassembly bool

	isnSet    bool
	raBaseSeq uint32

	head *Segment

	bufferedBytes int
	pending       []StreamMessage
}

// SetISN primes the reassembly cursor at isn, the sequence number of the
// first byte of payload data; callers pass the stream's initial sequence
// number + 1 (or, on midstream pickup, the first seen sequence number).
func (s *Stream) SetISN(isn uint32) {
	if !s.isnSet {
		s.raBaseSeq = isn
		s.isnSet = true
	}
}

// RABaseSeq exposes the current reassembly cursor (ra_base_seq).
func (s *Stream) RABaseSeq() uint32 { return s.raBaseSeq }

// clamp returns the sub-view of (seq, data) lying within [from, to), and the
// new absolute seq of that sub-view. An empty MemView is returned if the
// ranges don't intersect.
func clamp(seq uint32, data memview.MemView, from, to uint32) (uint32, memview.MemView) {
	segEnd := seq + uint32(data.Len())
	if seqnum.LT(from, seq) {
		from = seq
	}
	if seqnum.GT(to, segEnd) {
		to = segEnd
	}
	if seqnum.GEQ(from, to) {
		return from, memview.MemView{}
	}
	return from, data.SubView(int64(from-seq), int64(to-seq))
}

// fragment is a (seq, data) piece of new data still awaiting insertion,
// tracked as Insert trims it against already-buffered segments.
type fragment struct {
	seq  uint32
	data memview.MemView
}

func (f fragment) end() uint32 { return f.seq + uint32(f.data.Len()) }

func overlapsAny(frags []fragment, curSeq, curEnd uint32) bool {
	for _, fr := range frags {
		if seqnum.LT(fr.seq, curEnd) && seqnum.GT(fr.end(), curSeq) {
			return true
		}
	}
	return false
}

type winner int

const (
	winnerOld winner = iota
	winnerNew
)

// resolveWinner decides, for the overlap between cur and whichever fragment
// intersects it, who keeps the contested bytes (spec.md §4.3's table).
func resolveWinner(mode overlapMode, cur *Segment, frags []fragment) winner {
	switch mode {
	case modeNewest:
		return winnerNew
	case modeLinuxLike:
		// "new data if it starts later or has larger length; else first".
		for _, fr := range frags {
			if seqnum.LT(fr.seq, cur.end()) && seqnum.GT(fr.end(), cur.Seq) {
				if seqnum.GT(fr.seq, cur.Seq) || fr.data.Len() > cur.Data.Len() {
					return winnerNew
				}
				return winnerOld
			}
		}
		return winnerOld
	default:
		return winnerOld
	}
}

// Insert adds newly-received payload bytes at seq, resolving any overlap
// with already-buffered segments according to the stream's OS policy
// (spec.md §4.3's overlap-winner table), then folds whatever is now
// contiguous with ra_base_seq into pending StreamMessages.
func (s *Stream) Insert(seq uint32, data memview.MemView) {
	length := uint32(data.Len())
	if length == 0 {
		return
	}
	if s.NoReassembly {
		return
	}
	if s.DepthCap > 0 && s.bufferedBytes+int(length) > s.DepthCap {
		s.NoReassembly = true
		return
	}

	mode := modeFor(s.OSPolicy)
	frags := []fragment{{seq, data}}

	// kept collects every surviving segment (old and new) in whatever order
	// they are produced; since a new fragment can fill a gap below segments
	// already on the list, they are sorted into seq order below rather than
	// linked incrementally.
	var kept []*Segment
	appendSeg := func(seg *Segment) {
		if seg == nil || seg.Data.Len() == 0 {
			return
		}
		seg.next = nil
		kept = append(kept, seg)
	}

	for cur := s.head; cur != nil; cur = cur.next {
		curEnd := cur.end()
		if !overlapsAny(frags, cur.Seq, curEnd) {
			appendSeg(cur)
			continue
		}

		if resolveWinner(mode, cur, frags) == winnerOld {
			// Existing data wins: trim the overlap out of every fragment
			// that intersects cur's range, keeping cur whole.
			var next []fragment
			for _, fr := range frags {
				if lseq, ldata := clamp(fr.seq, fr.data, fr.seq, cur.Seq); ldata.Len() > 0 {
					next = append(next, fragment{lseq, ldata})
				}
				if rseq, rdata := clamp(fr.seq, fr.data, curEnd, fr.end()); rdata.Len() > 0 {
					next = append(next, fragment{rseq, rdata})
				}
			}
			frags = next
			appendSeg(cur)
			continue
		}

		// New data wins: keep only the parts of cur lying outside the union
		// of overlapping fragments; the fragments themselves carry the
		// contested bytes forward.
		type span struct{ seq, end uint32 }
		remaining := []span{{cur.Seq, curEnd}}
		for _, fr := range frags {
			if seqnum.GEQ(fr.seq, curEnd) || seqnum.LEQ(fr.end(), cur.Seq) {
				continue
			}
			var next []span
			for _, r := range remaining {
				if seqnum.LT(r.seq, fr.seq) {
					next = append(next, span{r.seq, seqnum.Min(r.end, fr.seq)})
				}
				if seqnum.GT(r.end, fr.end()) {
					next = append(next, span{seqnum.Max(r.seq, fr.end()), r.end})
				}
			}
			remaining = next
		}
		for _, r := range remaining {
			rseq, rdata := clamp(cur.Seq, cur.Data, r.seq, r.end)
			if rdata.Len() > 0 {
				appendSeg(&Segment{Seq: rseq, Data: rdata, consumed: cur.consumed})
			}
		}
	}

	for _, fr := range frags {
		appendSeg(&Segment{Seq: fr.seq, Data: fr.data})
	}

	sort.Slice(kept, func(i, j int) bool { return seqnum.LT(kept[i].Seq, kept[j].Seq) })
	var newHead, tail *Segment
	for _, seg := range kept {
		if tail == nil {
			newHead = seg
		} else {
			tail.next = seg
		}
		tail = seg
	}
	if tail != nil {
		tail.next = nil
	}

	s.head = newHead
	s.recount()
	s.foldReady()
}

func (s *Stream) recount() {
	total := 0
	for seg := s.head; seg != nil; seg = seg.next {
		total += int(seg.Data.Len())
	}
	s.bufferedBytes = total
}

// foldReady walks the segment list from the head and, while it is
// contiguous with ra_base_seq, appends it to pending and advances the
// cursor. Segments are marked consumed rather than removed: spec.md §3
// invariant (i) keeps a segment around until the peer has also acknowledged
// it (see Acknowledged).
func (s *Stream) foldReady() {
	for seg := s.head; seg != nil; seg = seg.next {
		if seg.consumed {
			continue
		}
		if seg.Seq != s.raBaseSeq {
			break
		}
		s.pending = append(s.pending, StreamMessage{
			Offset: uint64(s.raBaseSeq),
			Data:   seg.Data,
		})
		s.raBaseSeq += uint32(seg.Data.Len())
		seg.consumed = true
	}
}

// Drain returns and clears the StreamMessages folded since the last Drain
// call. Messages are returned in offset order (spec.md §4.3).
func (s *Stream) Drain() []StreamMessage {
	out := s.pending
	s.pending = nil
	return out
}

// Acknowledged folds any consumed prefix below ack into freed list storage:
// segments that are both fully consumed by the reassembly cursor and now
// acknowledged are unlinked (spec.md §3 invariant i).
func (s *Stream) Acknowledged(ack uint32) {
	for s.head != nil && s.head.consumed && seqnum.LEQ(s.head.end(), ack) {
		s.head = s.head.next
	}
	s.recount()
}
