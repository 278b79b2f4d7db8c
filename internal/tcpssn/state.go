package tcpssn

import "github.com/hillu/suricata-sub000/internal/flow"

// State is a TCP session's position in the connection state machine
// (spec.md §3, §4.2).
type State int

const (
	StateNone State = iota
	StateSynSent
	StateSynRecv
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateCloseWait
	StateLastAck
	StateTimeWait
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRecv:
		return "SYN_RECV"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT1"
	case StateFinWait2:
		return "FIN_WAIT2"
	case StateClosing:
		return "CLOSING"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TimeoutClass classifies the session's state into the Flow Table's three
// timeout buckets (spec.md §4.1), letting *Session satisfy
// flow.StateClassifier without flow needing to import tcpssn.
func (s *Session) TimeoutClass() flow.TimeoutClass {
	switch s.State {
	case StateNone, StateSynSent, StateSynRecv:
		return flow.TimeoutNew
	case StateEstablished:
		return flow.TimeoutEstablished
	default:
		return flow.TimeoutClosed
	}
}
