// Package tcpssn implements the TCP Session Manager (TSM, spec.md §4.2): it
// validates every incoming segment, drives the per-flow connection state
// machine, and hands in-order bytes to the Reassembly Store.
package tcpssn

import (
	"time"

	"github.com/hillu/suricata-sub000/internal/seqnum"
)

// Disposition is Handle's per-packet verdict (spec.md §4.2: "ok | drop |
// fatal").
type Disposition int

const (
	Accept Disposition = iota
	Reject
	Fatal
)

// Handle validates pkt against sess's current state, drives the state
// machine, and forwards any accepted payload to the Reassembly Store. It is
// the TSM's entire public contract (spec.md §4.2).
func Handle(sess *Session, pkt *Packet, now time.Time) (Disposition, error) {
	if sess.cfg.ChecksumValidation && !pkt.ChecksumValid {
		return Reject, nil
	}

	senderSide := sess.sideFor(pkt.Dir)
	sender := sess.half(senderSide)

	if sess.Timestamp && pkt.Opts.HasTS {
		outOfOrder := pkt.Seq != sender.NextSeq
		if !(outOfOrder && ignoresTSOnOutOfOrder(sender.OSPolicy)) {
			if !pawsCheck(sender, sender.OSPolicy, pkt.Opts.TSVal, now) {
				return Reject, nil
			}
		}
	}

	switch sess.State {
	case StateNone:
		return sess.handleNone(pkt, senderSide, now)
	case StateSynSent:
		return sess.handleSynSent(pkt, senderSide, now)
	case StateSynRecv:
		return sess.handleSynRecv(pkt, senderSide, now)
	case StateEstablished:
		return sess.handleEstablished(pkt, senderSide, now)
	case StateFinWait1, StateFinWait2, StateClosing, StateCloseWait, StateLastAck, StateTimeWait:
		return sess.handleClosing(pkt, senderSide, now)
	case StateClosed:
		return sess.handleClosed(pkt, senderSide, now)
	default:
		return Reject, nil
	}
}

func (sess *Session) handleNone(pkt *Packet, senderSide Side, now time.Time) (Disposition, error) {
	client := sess.half(Client)
	server := sess.half(Server)

	switch {
	case senderSide == Client && pkt.Flags.Has(FlagSYN) && !pkt.Flags.Has(FlagACK):
		client.setISN(pkt.Seq)
		if pkt.Opts.HasWScale {
			client.WScale = pkt.Opts.WScale
		}
		if pkt.Opts.HasTS {
			accept, _ := acceptZeroTSInHandshake(sess.policy)
			if pkt.Opts.TSVal != 0 || accept {
				client.HasTS = true
				client.LastTS = pkt.Opts.TSVal
				client.LastPktTS = now
			}
		}
		sess.State = StateSynSent
		return Accept, nil

	case sess.cfg.Midstream && pkt.Flags.Has(FlagSYN) && pkt.Flags.Has(FlagACK):
		if senderSide == Client {
			// The flow was created by the server's SYN/ACK: swap the
			// direction tags once so its sender is tracked as the server.
			sess.swapped = true
		}
		server.setISN(pkt.Seq)
		sess.Midstream = true
		sess.MidstreamSynAck = true
		sess.State = StateSynRecv
		return Accept, nil

	case sess.cfg.Midstream && pkt.Flags.Has(FlagACK) && pkt.hasPayload():
		sess.Midstream = true
		sess.MidstreamEstablished = true
		for i := range sess.Streams {
			sess.Streams[i].WScale = 14
		}

		sender := sess.half(senderSide)
		acked := sess.half(senderSide.other())
		if !sender.isnSet {
			sender.isnSet = true
			sender.ISN = pkt.Seq - 1
			sender.NextSeq = pkt.Seq
			sender.LastAck = pkt.Seq
			sender.Stream.SetISN(pkt.Seq)
		}
		if !acked.isnSet && pkt.Flags.Has(FlagACK) {
			acked.isnSet = true
			acked.ISN = pkt.Ack - 1
			acked.NextSeq = pkt.Ack
			acked.LastAck = pkt.Ack
			acked.Stream.SetISN(pkt.Ack)
		}
		sess.State = StateEstablished
		return sess.acceptSegment(pkt, senderSide, now)

	default:
		return Reject, nil
	}
}

func (sess *Session) handleSynSent(pkt *Packet, senderSide Side, now time.Time) (Disposition, error) {
	client := sess.half(Client)
	server := sess.half(Server)

	if pkt.Flags.Has(FlagRST) {
		return sess.handleRST(pkt, senderSide)
	}

	switch {
	case senderSide == Server && pkt.Flags.Has(FlagSYN) && !pkt.Flags.Has(FlagACK):
		server.setISN(pkt.Seq)
		sess.FourWHS = true
		sess.State = StateSynSent
		return Accept, nil

	case senderSide == Server && pkt.Flags.Has(FlagSYN) && pkt.Flags.Has(FlagACK):
		if sess.FourWHS && pkt.Seq == client.ISN && pkt.Ack == server.ISN+1 {
			sess.swapped = !sess.swapped
			sess.FourWHS = false
			sess.State = StateSynRecv
			return Accept, nil
		}
		if pkt.Ack == client.ISN+1 {
			server.setISN(pkt.Seq)
			if pkt.Opts.HasWScale && client.WScale != 0 {
				server.WScale = pkt.Opts.WScale
			} else {
				client.WScale, server.WScale = 0, 0
			}
			if pkt.Opts.HasTS && client.HasTS {
				server.HasTS = true
				server.LastTS = pkt.Opts.TSVal
				server.LastPktTS = now
				sess.Timestamp = true
			}
			sess.FourWHS = false
			sess.State = StateSynRecv
			return Accept, nil
		}
		return Reject, nil

	case senderSide == Client && sess.cfg.AsyncOneSide && pkt.Flags.Has(FlagACK) && !pkt.Flags.Has(FlagSYN) && pkt.Seq == client.NextSeq:
		sess.Async = true
		sess.State = StateEstablished
		return sess.acceptSegment(pkt, senderSide, now)

	default:
		return Reject, nil
	}
}

func (sess *Session) handleSynRecv(pkt *Packet, senderSide Side, now time.Time) (Disposition, error) {
	if pkt.Flags.Has(FlagRST) {
		return sess.handleRST(pkt, senderSide)
	}

	sender := sess.half(senderSide)
	acked := sess.half(senderSide.other())

	if pkt.Flags.Has(FlagFIN) {
		disp, err := sess.acceptSegment(pkt, senderSide, now)
		if disp != Accept {
			return disp, err
		}
		sess.State = finTargetState(senderSide)
		return Accept, nil
	}

	if pkt.Flags.Has(FlagACK) && pkt.hasPayload() {
		sess.State = StateEstablished
		return sess.acceptSegment(pkt, senderSide, now)
	}

	if pkt.Flags.Has(FlagACK) {
		if pkt.Seq == sender.NextSeq && pkt.Ack == acked.NextSeq {
			sess.State = StateEstablished
			sess.bumpAck(pkt, senderSide)
			return Accept, nil
		}
		if pkt.Seq == sender.NextSeq {
			sess.DetectionEvasionSuspected = true
			return Reject, nil
		}
	}

	return Reject, nil
}

func (sess *Session) handleEstablished(pkt *Packet, senderSide Side, now time.Time) (Disposition, error) {
	if pkt.Flags.Has(FlagRST) {
		return sess.handleRST(pkt, senderSide)
	}
	if !pkt.Flags.Has(FlagACK) {
		return Reject, nil
	}
	if pkt.Flags.Has(FlagFIN) {
		disp, err := sess.acceptSegment(pkt, senderSide, now)
		if disp != Accept {
			return disp, err
		}
		sess.State = finTargetState(senderSide)
		return Accept, nil
	}
	return sess.acceptSegment(pkt, senderSide, now)
}

func (sess *Session) handleClosing(pkt *Packet, senderSide Side, now time.Time) (Disposition, error) {
	if pkt.Flags.Has(FlagRST) {
		return sess.handleRST(pkt, senderSide)
	}
	if !pkt.Flags.Has(FlagACK) && !pkt.Flags.Has(FlagFIN) {
		return Reject, nil
	}

	if pkt.hasPayload() {
		if disp, err := sess.acceptSegment(pkt, senderSide, now); disp != Accept {
			return disp, err
		}
	} else if pkt.Flags.Has(FlagACK) {
		sess.bumpAck(pkt, senderSide)
	}

	switch sess.State {
	case StateFinWait1:
		if pkt.Flags.Has(FlagFIN) {
			sess.State = StateTimeWait
		} else {
			sess.State = StateFinWait2
		}
	case StateFinWait2:
		if pkt.Flags.Has(FlagFIN) {
			sess.State = StateTimeWait
		}
	case StateCloseWait:
		if pkt.Flags.Has(FlagFIN) {
			sess.State = StateLastAck
		}
	case StateClosing:
		if pkt.Flags.Has(FlagACK) {
			sess.State = StateTimeWait
		}
	case StateLastAck, StateTimeWait:
		if pkt.Flags.Has(FlagACK) {
			sess.State = StateClosed
		}
	}
	return Accept, nil
}

func (sess *Session) handleClosed(pkt *Packet, senderSide Side, now time.Time) (Disposition, error) {
	if senderSide == Client && pkt.Flags.Has(FlagSYN) && !pkt.Flags.Has(FlagACK) {
		client := sess.half(Client)
		if !client.isnSet || pkt.Seq != client.ISN {
			sess.reset()
			return Handle(sess, pkt, now)
		}
	}
	return Reject, nil
}

func (sess *Session) handleRST(pkt *Packet, senderSide Side) (Disposition, error) {
	sender := sess.half(senderSide)
	if rstAccepted(sender.OSPolicy, sender, pkt.Seq, sess.DetectionEvasionSuspected) {
		sess.State = StateClosed
		return Accept, nil
	}
	return Reject, nil
}

// finTargetState maps which side sent a FIN to the next close-sequence state
// (spec.md §4.2: "FIN (toserver) -> CLOSE_WAIT", "FIN (toclient) -> FIN_WAIT1").
func finTargetState(senderSide Side) State {
	if senderSide == Client {
		return StateCloseWait
	}
	return StateFinWait1
}

// acceptSegment runs the sequence/ACK/window validation common to every
// data-bearing state transition (spec.md §4.2 "Sequence & ACK validation"),
// then forwards any payload to the Reassembly Store.
func (sess *Session) acceptSegment(pkt *Packet, senderSide Side, now time.Time) (Disposition, error) {
	sender := sess.half(senderSide)
	length := uint32(pkt.Payload.Len())

	relaxed := sess.Async || sess.Midstream
	if relaxed {
		if pkt.Seq != sender.NextSeq {
			return Reject, nil
		}
		sender.LastAck = pkt.Seq
	} else if !seqnum.GEQ(pkt.Seq, sender.LastAck) {
		sess.DetectionEvasionSuspected = true
		return Reject, nil
	}
	if sender.NextWin != 0 && !seqnum.LEQ(pkt.Seq+length, sender.NextWin) {
		return Reject, nil
	}

	if pkt.Flags.Has(FlagACK) {
		sess.bumpAck(pkt, senderSide)
	}

	if length > 0 {
		sender.Stream.Insert(pkt.Seq, pkt.Payload)
	}
	if seqnum.GT(pkt.Seq+length, sender.NextSeq) {
		sender.NextSeq = pkt.Seq + length
	}
	return Accept, nil
}

// bumpAck applies an incoming ACK number to the acknowledged half (the peer
// of the packet's sender), per spec.md §4.2's ACK validation rule, and folds
// any now-acknowledged prefix out of its reassembly buffer.
func (sess *Session) bumpAck(pkt *Packet, senderSide Side) {
	acked := sess.half(senderSide.other())
	if seqnum.GT(pkt.Ack, acked.LastAck) && (acked.NextWin == 0 || seqnum.LEQ(pkt.Ack, acked.NextWin)) {
		acked.LastAck = pkt.Ack
		acked.Stream.Acknowledged(pkt.Ack)
	}
	acked.Window = uint32(pkt.Window) << acked.WScale
	acked.NextWin = acked.LastAck + acked.Window
}
