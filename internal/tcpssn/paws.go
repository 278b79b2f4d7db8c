package tcpssn

import (
	"time"

	"github.com/hillu/suricata-sub000/internal/ospolicy"
	"github.com/hillu/suricata-sub000/internal/seqnum"
)

// maxTSAge is the wall-clock PAWS ceiling (spec.md §4.2: "now ≤
// sender.last_pkt_ts + 24 days").
const maxTSAge = 24 * 24 * time.Hour

// pawsTolerance returns the PAWS TSval slack for a receiver's OS policy
// (spec.md §4.2: "tolerance is 1 for Linux, 0 otherwise").
func pawsTolerance(p ospolicy.Policy) uint32 {
	if ospolicy.Normalize(p) == ospolicy.Linux || ospolicy.Normalize(p) == ospolicy.OldLinux {
		return 1
	}
	return 0
}

// pawsCheck validates an incoming timestamp against the last TS seen from
// the same sender (spec.md §4.2 PAWS gate); recv is the packet sender's
// half. ok is false if the packet must be rejected.
func pawsCheck(recv *StreamHalf, policy ospolicy.Policy, tsval uint32, now time.Time) (ok bool) {
	if !recv.HasTS {
		return true
	}
	tol := pawsTolerance(policy)
	if seqnum.LT(tsval+tol, recv.LastTS) {
		return false
	}
	if !recv.LastPktTS.IsZero() && now.After(recv.LastPktTS.Add(maxTSAge)) {
		return false
	}
	return true
}

// acceptZeroTSInHandshake decides, per spec.md §4.2, whether a zero TSval
// offered during the 3WHS is accepted.
//
//	accept: false means the handshake option is rejected outright (the
//	        stream falls back to not negotiating timestamps at all).
//	pin:    true for old-Linux/Windows/Vista, false otherwise. Handle
//	        ignores pin: an accepted zero TSval leaves TS tracking on, and
//	        no policy (Solaris included) turns TS tracking off when the peer
//	        later sends a packet without a timestamp.
func acceptZeroTSInHandshake(policy ospolicy.Policy) (accept, pin bool) {
	switch ospolicy.Normalize(policy) {
	case ospolicy.Linux, ospolicy.Windows2K3:
		return false, false
	case ospolicy.OldLinux, ospolicy.Windows, ospolicy.Vista:
		return true, true
	case ospolicy.Solaris:
		return true, false
	default:
		return true, false
	}
}

// ignoresTSOnOutOfOrder reports whether policy's receiver skips PAWS
// validation on out-of-order segments (spec.md §4.2: "HPUX11 ignores
// timestamps on out-of-order segments").
func ignoresTSOnOutOfOrder(policy ospolicy.Policy) bool {
	return ospolicy.Normalize(policy) == ospolicy.HPUX11
}
