package tcpssn

import (
	"time"

	"github.com/akitasoftware/akita-libs/memview"

	"github.com/hillu/suricata-sub000/internal/flow"
)

// Flags is the bitmask of TCP control flags carried by one Packet.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Opts holds the TCP options relevant to session tracking (spec.md §6):
// window scale, SACK-permitted, and the 10-byte timestamp option.
type Opts struct {
	HasWScale bool
	WScale    uint8

	HasTS bool
	TSVal uint32
	TSEcr uint32

	SACKPermitted bool
}

// Packet is the decoded TCP segment handed to the Session Manager. Dir tells
// Handle which of the session's two streams (client or server) sent it; the
// Flow Table resolves this once per packet via Flow.Direction.
type Packet struct {
	Seq    uint32
	Ack    uint32
	Flags  Flags
	Window uint16
	Opts   Opts

	Payload memview.MemView

	ChecksumValid bool
	Timestamp     time.Time

	Dir flow.Direction
}

func (p *Packet) hasPayload() bool { return p.Payload.Len() > 0 }
