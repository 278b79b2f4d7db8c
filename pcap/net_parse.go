package pcap

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/gopacket"

	"github.com/hillu/suricata-sub000/internal/engine"
	"github.com/hillu/suricata-sub000/printer"
	"github.com/pkg/errors"
)

// ReapIntervalSeconds is how often the Flow Table reaper runs (spec.md §5's
// "separate cadence" for expiring idle flows, independent of packet arrival).
var ReapIntervalSeconds int64 = 10

// NetworkTrafficObserver is the callback function type for observing packets
// as they come in to a NetworkTrafficParser.
type NetworkTrafficObserver func(gopacket.Packet)

// NetworkTrafficParser reads packets off an interface and feeds decoded TCP
// segments into an engine.Pipeline (spec.md §5). It replaces the teacher's
// gopacket/reassembly-based assembler: this system owns its own TCP session
// and reassembly state (internal/tcpssn, internal/reassembly), so there is
// no separate assembler/stream-pool layer to configure.
type NetworkTrafficParser struct {
	pcap     pcapWrapper
	clock    clockWrapper
	observer NetworkTrafficObserver
}

func NewNetworkTrafficParser() *NetworkTrafficParser {
	return &NetworkTrafficParser{
		pcap:     &pcapImpl{},
		clock:    &realClock{},
		observer: func(gopacket.Packet) {},
	}
}

// InstallObserver replaces the current per-packet callback. Should be called
// before starting ParseFromInterface.
func (p *NetworkTrafficParser) InstallObserver(observer NetworkTrafficObserver) {
	p.observer = observer
}

// ParseFromInterface captures from interfaceName, decodes TCP/IP, and drives
// pipe.HandlePacket for every segment, until signalClose fires. It also runs
// the Flow Table's reaper on its own ticker, independent of packet arrival.
func (p *NetworkTrafficParser) ParseFromInterface(pipe *engine.Pipeline, interfaceName, bpfFilter string, signalClose <-chan struct{}) error {
	packets, err := p.pcap.capturePackets(signalClose, interfaceName, bpfFilter)
	if err != nil {
		return errors.Wrapf(err, "failed to begin capturing packets from %s", interfaceName)
	}

	reapInterval := time.Duration(ReapIntervalSeconds) * time.Second
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case packet, more := <-packets:
			if !more || packet == nil {
				pipe.Stop()
				return nil
			}
			p.observer(packet)
			p.handlePacket(pipe, packet)
		case <-ticker.C:
			pipe.CheckCapacity()
			reaped, errs := pipe.Flows.ReapExpired(p.clock.Now())
			if reaped != 0 {
				printer.Debugf("%d flows reaped\n", reaped)
			}
			if errs.TotalCount > 0 {
				printer.Stderr.Errorf("%d errors during flow reap, e.g. %v\n", errs.TotalCount, errs.Samples[0])
			}
		}
	}
}

func (p *NetworkTrafficParser) handlePacket(pipe *engine.Pipeline, packet gopacket.Packet) {
	defer func() {
		// A malformed or unusual packet should never crash the whole capture
		// loop; log and keep going.
		if err := recover(); err != nil {
			printer.Stderr.Errorf("panic handling packet: %v\n%v\n", err, string(debug.Stack()))
		}
	}()

	if packet.NetworkLayer() == nil || packet.TransportLayer() == nil {
		return
	}

	observationTime := p.clock.Now()
	if packet.Metadata() != nil {
		if t := packet.Metadata().Timestamp; !t.IsZero() {
			observationTime = t
		}
	}

	decoded, err := engine.DecodeTCP(packet, observationTime)
	if err != nil {
		printer.V(4).Debugf("skipping non-TCP/IP packet: %v\n", err)
		return
	}

	if err := pipe.HandlePacket(decoded, observationTime); err != nil {
		printer.Stderr.Errorf("%s\n", fmt.Sprintf("error handling packet: %v", err))
	}
}
