package flow

import (
	"fmt"
	"net"
)

// Proto identifies the transport protocol carried by a Flow.
type Proto uint8

const (
	ProtoTCP Proto = iota
	ProtoUDP
)

func (p Proto) String() string {
	if p == ProtoUDP {
		return "udp"
	}
	return "tcp"
}

// Tuple is the five-tuple identifying a flow (spec.md §3). It is compared
// direction-independently: Tuple{A,B} and Tuple{B,A} (with ports/addrs
// swapped together) hash and match to the same Flow.
type Tuple struct {
	SrcIP   [16]byte
	DstIP   [16]byte
	SrcPort uint16
	DstPort uint16
	Proto   Proto
}

// NewTuple builds a Tuple from net.IP + port values, normalizing IPv4
// addresses to their 16-byte form so IPv4 and IPv4-in-IPv6 compare equal.
func NewTuple(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, proto Proto) Tuple {
	var t Tuple
	copy(t.SrcIP[:], srcIP.To16())
	copy(t.DstIP[:], dstIP.To16())
	t.SrcPort = srcPort
	t.DstPort = dstPort
	t.Proto = proto
	return t
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d/%s", net.IP(t.SrcIP[:]), t.SrcPort, net.IP(t.DstIP[:]), t.DstPort, t.Proto)
}

// Reverse swaps source and destination, producing the tuple as seen from the
// other endpoint.
func (t Tuple) Reverse() Tuple {
	return Tuple{SrcIP: t.DstIP, DstIP: t.SrcIP, SrcPort: t.DstPort, DstPort: t.SrcPort, Proto: t.Proto}
}

// normalForm returns whichever of t, t.Reverse() sorts first byte-wise. Two
// tuples that are reverses of each other always produce the same normal
// form, which is what makes the Flow Table's bucket hash
// direction-independent (equality compares a tuple and its Reverse).
func (t Tuple) normalForm() Tuple {
	r := t.Reverse()
	if tupleLess(r, t) {
		return r
	}
	return t
}

func tupleLess(a, b Tuple) bool {
	for i := range a.SrcIP {
		if a.SrcIP[i] != b.SrcIP[i] {
			return a.SrcIP[i] < b.SrcIP[i]
		}
	}
	for i := range a.DstIP {
		if a.DstIP[i] != b.DstIP[i] {
			return a.DstIP[i] < b.DstIP[i]
		}
	}
	if a.SrcPort != b.SrcPort {
		return a.SrcPort < b.SrcPort
	}
	if a.DstPort != b.DstPort {
		return a.DstPort < b.DstPort
	}
	return a.Proto < b.Proto
}
