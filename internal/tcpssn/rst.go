package tcpssn

import (
	"github.com/hillu/suricata-sub000/internal/ospolicy"
	"github.com/hillu/suricata-sub000/internal/seqnum"
)

// rstAccepted implements spec.md §4.2's RST acceptance table: validity
// depends on the OS policy of the stream half that is receiving the RST.
// seq is the RST packet's sequence number; recv is the RST sender's half,
// whose next_seq (the next byte the receiver expects from the sender) and
// window (as advertised by the receiver) define the acceptance test.
func rstAccepted(policy ospolicy.Policy, recv *StreamHalf, seq uint32, detectionEvasionSuspected bool) bool {
	norm := ospolicy.Normalize(policy)

	switch norm {
	case ospolicy.Linux, ospolicy.OldLinux, ospolicy.Solaris:
		if detectionEvasionSuspected {
			// "matches real-world behavior of those stacks": ignore the RST
			// entirely once evasion is suspected.
			return false
		}
		upper := recv.NextSeq + uint32(recv.Window)
		return seqnum.GEQ(seq, recv.NextSeq) && seqnum.LT(seq, upper)
	default:
		// HPUX11, Windows family, BSD, MacOS, First, Last, Default.
		return seq == recv.NextSeq
	}
}
