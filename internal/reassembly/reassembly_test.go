package reassembly

import (
	"testing"

	"github.com/akitasoftware/akita-libs/memview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hillu/suricata-sub000/internal/ospolicy"
)

func mv(s string) memview.MemView { return memview.New([]byte(s)) }

func TestInsertInOrderFoldsImmediately(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Default}
	s.SetISN(100)

	s.Insert(100, mv("hello "))
	s.Insert(106, mv("world"))

	msgs := s.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(100), msgs[0].Offset)
	assert.Equal(t, "hello ", msgs[0].Data.String())
	assert.Equal(t, uint64(106), msgs[1].Offset)
	assert.Equal(t, "world", msgs[1].Data.String())
}

func TestInsertOutOfOrderFoldsOnceGapFilled(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Default}
	s.SetISN(100)

	s.Insert(106, mv("world"))
	assert.Empty(t, s.Drain(), "second segment must not fold before the gap is filled")

	s.Insert(100, mv("hello "))
	msgs := s.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello ", msgs[0].Data.String())
	assert.Equal(t, "world", msgs[1].Data.String())
}

func TestInsertExactDuplicateIsIdempotent(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Default}
	s.SetISN(100)

	s.Insert(100, mv("hello"))
	s.Drain()
	s.Insert(100, mv("hello"))
	assert.Empty(t, s.Drain())
}

// collectSegments walks the buffered (not yet folded) segment chain in seq
// order. The overlap tests below never set an ISN, so ra_base_seq stays at
// its zero value and nothing folds out from under the chain: the chain
// itself is the direct, unambiguous view of which bytes the overlap
// resolution kept.
func collectSegments(s *Stream) []string {
	var out []string
	for seg := s.head; seg != nil; seg = seg.next {
		out = append(out, seg.Data.String())
	}
	return out
}

func TestInsertOverlapFirstSeenPolicyKeepsOriginalBytes(t *testing.T) {
	// BSD (and the default policy) keep whichever data arrived first.
	s := &Stream{OSPolicy: ospolicy.BSD}

	s.Insert(100, mv("AAAAA"))
	s.Insert(100, mv("BBBBB"))

	assert.Equal(t, []string{"AAAAA"}, collectSegments(s))
}

func TestInsertOverlapLastPolicyKeepsNewestBytes(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Last}

	s.Insert(100, mv("AAAAA"))
	s.Insert(100, mv("BBBBB"))

	assert.Equal(t, []string{"BBBBB"}, collectSegments(s))
}

func TestInsertOverlapLinuxPolicyPrefersLaterStartOrLongerRun(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Linux}

	s.Insert(100, mv("AAAAA"))
	// starts later than the existing segment: new data wins that overlap.
	s.Insert(102, mv("BBB"))

	assert.Equal(t, []string{"AA", "BBB"}, collectSegments(s))
}

func TestDepthCapLatchesNoReassembly(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Default, DepthCap: 4}
	s.SetISN(100)

	s.Insert(100, mv("abcd"))
	assert.False(t, s.NoReassembly)

	s.Insert(104, mv("e"))
	assert.True(t, s.NoReassembly, "exceeding DepthCap must latch NoReassembly")

	// Further inserts are dropped once latched.
	s.Insert(105, mv("f"))
	msgs := s.Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "abcd", msgs[0].Data.String())
}

func TestAcknowledgedFreesConsumedPrefix(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Default}
	s.SetISN(100)

	s.Insert(100, mv("hello"))
	s.Drain()

	s.Acknowledged(105)
	assert.Nil(t, s.head, "fully consumed and acknowledged segment should be unlinked")
}

func TestRABaseSeqAdvancesWithFoldedBytes(t *testing.T) {
	s := &Stream{OSPolicy: ospolicy.Default}
	s.SetISN(100)
	assert.Equal(t, uint32(100), s.RABaseSeq())

	s.Insert(100, mv("hello"))
	assert.Equal(t, uint32(105), s.RABaseSeq())
}
