package tcpssn

import (
	"net"
	"time"

	"github.com/hillu/suricata-sub000/internal/flow"
	"github.com/hillu/suricata-sub000/internal/ospolicy"
	"github.com/hillu/suricata-sub000/internal/reassembly"
)

// Side indexes Session.Streams: 0 is the half carrying bytes sent by the
// connection's client (the endpoint that sent the initial SYN), 1 the half
// carrying bytes sent by the server.
type Side int

const (
	Client Side = 0
	Server Side = 1
)

func (s Side) other() Side {
	if s == Client {
		return Server
	}
	return Client
}

// StreamHalf is one direction's TCP tracking state (spec.md §3 "Stream (per
// direction)"), wrapping a reassembly.Stream with the sequence/window/
// timestamp bookkeeping the state machine needs.
type StreamHalf struct {
	reassembly.Stream

	isnSet  bool
	ISN     uint32
	NextSeq uint32
	LastAck uint32

	// Window and NextWin are the peer's advertised receive window (already
	// scaled by WScale) and the resulting upper edge of acceptable new data
	// (spec.md §3: "window (peer's advertised, after wscale); next_win =
	// last_ack + window").
	Window  uint32
	NextWin uint32

	WScale uint8

	HasTS     bool
	LastTS    uint32
	LastPktTS time.Time
}

func (h *StreamHalf) setISN(seq uint32) {
	h.isnSet = true
	h.ISN = seq
	h.NextSeq = seq + 1
	h.LastAck = seq
	h.Stream.SetISN(seq + 1)
}

// Config carries the operator-tunable knobs spec.md §6 enumerates that bear
// on session tracking.
type Config struct {
	ChecksumValidation bool
	Midstream          bool
	AsyncOneSide       bool
	ReassemblyDepth    int

	OSPolicyTable   *ospolicy.Table
	DefaultOSPolicy ospolicy.Policy
}

// Session is the per-flow TCP connection state (spec.md §3 "Session (TCP)").
type Session struct {
	Streams [2]StreamHalf

	State State

	Midstream                 bool
	MidstreamSynAck           bool
	MidstreamEstablished      bool
	FourWHS                   bool
	Async                     bool
	Timestamp                 bool
	DetectionEvasionSuspected bool
	NoApplayerInspection      bool

	// swapped flips once, on midstream/4WHS direction correction (spec.md
	// §4.2: "the initial toserver/toclient direction tags are swapped
	// exactly once in the Session").
	swapped bool

	cfg    *Config
	policy ospolicy.Policy
}

// NewSession starts tracking a fresh TCP connection. dstIP is the
// destination address of the packet that created the flow, used to classify
// the session's OS policy, which is applied to both stream halves (spec.md
// §3: OS policy is chosen "based on the destination IP against a radix-tree
// of operator-configured CIDRs").
func NewSession(cfg *Config, dstIP net.IP) *Session {
	policy := cfg.DefaultOSPolicy
	if cfg.OSPolicyTable != nil {
		policy = cfg.OSPolicyTable.Lookup(dstIP)
	}
	s := &Session{State: StateNone, cfg: cfg, policy: policy}
	for i := range s.Streams {
		s.Streams[i].OSPolicy = policy
		s.Streams[i].DepthCap = cfg.ReassemblyDepth
	}
	return s
}

func (s *Session) half(side Side) *StreamHalf { return &s.Streams[side] }

// Half exposes half to callers outside the package (the engine pipeline's
// post-Handle reassembly drain needs the StreamHalf that just accepted data).
func (s *Session) Half(side Side) *StreamHalf { return s.half(side) }

// sideFor resolves which Session.Streams half produced a packet travelling
// in dir, honoring a prior direction swap (see swapped).
func (s *Session) sideFor(dir flow.Direction) Side {
	base := Client
	if dir == flow.ToClient {
		base = Server
	}
	if s.swapped {
		return base.other()
	}
	return base
}

// SideFor exposes sideFor to callers outside the package.
func (s *Session) SideFor(dir flow.Direction) Side { return s.sideFor(dir) }

// reset reinitializes the session to its pre-handshake state, keeping the
// config and OS policy, for the CLOSED-state port-reuse transition (spec.md
// §4.2: "CLOSED | SYN reusing ports with seq ≠ ssn.client.isn -> transitions
// to NONE, starts over").
func (s *Session) reset() {
	cfg, policy := s.cfg, s.policy
	*s = Session{State: StateNone, cfg: cfg, policy: policy}
	for i := range s.Streams {
		s.Streams[i].OSPolicy = policy
		s.Streams[i].DepthCap = cfg.ReassemblyDepth
	}
}
