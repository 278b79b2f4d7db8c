package engine

import (
	"net"
	"time"

	"github.com/akitasoftware/akita-libs/memview"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	ourflow "github.com/hillu/suricata-sub000/internal/flow"
	"github.com/hillu/suricata-sub000/internal/tcpssn"
)

// DecodedTCP is one decoded TCP segment plus the five-tuple it belongs to
// (spec.md §6's "Packet input": "Decoder extracts IPv4/IPv6, TCP header,
// options... payload. Checksums for IPv4, TCPv4, TCPv6 per RFC 1071/2460
// pseudo-headers.").
type DecodedTCP struct {
	Tuple ourflow.Tuple
	Pkt   tcpssn.Packet
}

// DecodeTCP extracts a TCP segment from a gopacket.Packet captured at ts.
// It returns an error only for frames this engine cannot classify as
// IPv4/IPv6-over-TCP at all; malformed-but-recognizable segments are
// reported through Pkt.ChecksumValid instead, matching the "validation"
// error class spec.md §7 describes (the packet is still handed to the
// session manager, which rejects it).
func DecodeTCP(pkt gopacket.Packet, ts time.Time) (*DecodedTCP, error) {
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, errors.New("engine: no TCP layer")
	}
	tcp, _ := tcpLayer.(*layers.TCP)

	var srcIP, dstIP net.IP
	checksumValid := true
	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		l := ip4.(*layers.IPv4)
		srcIP, dstIP = l.SrcIP, l.DstIP
		if err := tcp.SetNetworkLayerForChecksum(l); err == nil {
			checksumValid = verifyChecksum(tcp)
		}
	} else if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		l := ip6.(*layers.IPv6)
		srcIP, dstIP = l.SrcIP, l.DstIP
		if err := tcp.SetNetworkLayerForChecksum(l); err == nil {
			checksumValid = verifyChecksum(tcp)
		}
	} else {
		return nil, errors.New("engine: no IPv4/IPv6 layer")
	}

	d := &DecodedTCP{
		Tuple: ourflow.NewTuple(srcIP, uint16(tcp.SrcPort), dstIP, uint16(tcp.DstPort), ourflow.ProtoTCP),
		Pkt: tcpssn.Packet{
			Seq:           uint32(tcp.Seq),
			Ack:           uint32(tcp.Ack),
			Window:        tcp.Window,
			ChecksumValid: checksumValid,
			Timestamp:     ts,
			Payload:       memview.New(tcp.Payload),
		},
	}
	d.Pkt.Flags = decodeFlags(tcp)
	d.Pkt.Opts = decodeOpts(tcp)
	return d, nil
}

func decodeFlags(tcp *layers.TCP) tcpssn.Flags {
	var f tcpssn.Flags
	if tcp.FIN {
		f |= tcpssn.FlagFIN
	}
	if tcp.SYN {
		f |= tcpssn.FlagSYN
	}
	if tcp.RST {
		f |= tcpssn.FlagRST
	}
	if tcp.PSH {
		f |= tcpssn.FlagPSH
	}
	if tcp.ACK {
		f |= tcpssn.FlagACK
	}
	if tcp.URG {
		f |= tcpssn.FlagURG
	}
	return f
}

func decodeOpts(tcp *layers.TCP) tcpssn.Opts {
	var o tcpssn.Opts
	for _, opt := range tcp.Options {
		switch opt.OptionType {
		case layers.TCPOptionKindWindowScale:
			if len(opt.OptionData) == 1 {
				o.HasWScale = true
				o.WScale = opt.OptionData[0]
			}
		case layers.TCPOptionKindTimestamps:
			if len(opt.OptionData) == 8 {
				o.HasTS = true
				o.TSVal = be32(opt.OptionData[0:4])
				o.TSEcr = be32(opt.OptionData[4:8])
			}
		case layers.TCPOptionKindSACKPermitted:
			o.SACKPermitted = true
		}
	}
	return o
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// verifyChecksum recomputes tcp's checksum against its current payload and
// pseudo-header and compares it to the wire value (spec.md §6: "Checksums
// for IPv4, TCPv4, TCPv6 per RFC 1071 / 2460 pseudo-headers").
func verifyChecksum(tcp *layers.TCP) bool {
	want := tcp.Checksum
	got, err := tcp.ComputeChecksum()
	if err != nil {
		return true // cannot verify (e.g. fragmented); don't reject on our own uncertainty
	}
	return got == want
}
