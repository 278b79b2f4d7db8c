// Package engine wires the Flow Table, TCP Session Manager, Reassembly
// Store, Application Inspector, and Detection Engine into the single
// handle→insert→feed→match pipeline spec.md §5 describes. Each packet runs
// through every stage while holding its flow's lock, so two packets of the
// same flow never interleave; packets of different flows run concurrently.
package engine

import (
	"net"
	"time"

	"github.com/hillu/suricata-sub000/internal/alertlog"
	"github.com/hillu/suricata-sub000/internal/detect"
	ourflow "github.com/hillu/suricata-sub000/internal/flow"
	"github.com/hillu/suricata-sub000/internal/flowvar"
	"github.com/hillu/suricata-sub000/internal/httpinspect"
	"github.com/hillu/suricata-sub000/internal/tcpssn"
)

// flowState is the per-flow Proto payload stored on ourflow.Flow (spec.md
// §3's "Proto is the protocol-specific payload"): the TCP session, this
// flow's HTTP inspector state, and its pcre capture stores.
type flowState struct {
	sess    *tcpssn.Session
	app     *httpinspect.State
	pktVars *flowvar.PacketStore
}

// Close implements the ourflow.Table reaper's optional Close hook; TCP
// sessions have no OS resources to release, so this is a no-op kept only so
// flowState satisfies the interface spec.md §4.1's reaper probes for.
func (fs *flowState) Close() error { return nil }

// TimeoutClass delegates to the session's state classification so the Flow
// Table reaper can bucket this flow without importing tcpssn (spec.md §4.1).
func (fs *flowState) TimeoutClass() ourflow.TimeoutClass { return fs.sess.TimeoutClass() }

// Pipeline bundles the five stages plus the shared configuration and
// dependency-injected sinks (spec.md §5, §6).
type Pipeline struct {
	Flows  *ourflow.Table
	TCPCfg *tcpssn.Config

	Engine   *detect.Engine
	FlowVars *flowvar.FlowStore

	AlertSink func(alertlog.Entry)
	Hostname  string

	// MaxSessions is spec.md §6's stream.max_sessions cap; 0 disables the
	// check. The reaper ticker uses it to flip the Flow Table into emergency
	// (shorter) timeouts once the flow count reaches MaxSessions.
	MaxSessions int

	stop chan struct{}
}

// NewPipeline builds a Pipeline ready to accept packets.
func NewPipeline(flows *ourflow.Table, tcpCfg *tcpssn.Config, eng *detect.Engine, flowVars *flowvar.FlowStore, hostname string, sink func(alertlog.Entry)) *Pipeline {
	return &Pipeline{
		Flows:     flows,
		TCPCfg:    tcpCfg,
		Engine:    eng,
		FlowVars:  flowVars,
		Hostname:  hostname,
		AlertSink: sink,
		stop:      make(chan struct{}),
	}
}

// Stop latches the cooperative shutdown signal; in-flight HandlePacket calls
// finish, future ones become no-ops so a draining caller can wind the
// pipeline down without losing packets mid-flow (spec.md §5's "cooperative
// stop latch").
func (p *Pipeline) Stop() { close(p.stop) }

func (p *Pipeline) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// CheckCapacity flips the Flow Table into emergency timeouts once it holds
// MaxSessions or more flows (spec.md §6's stream.max_sessions), and back to
// normal once it drains below that. Intended to be called on the same
// cadence as the reaper.
func (p *Pipeline) CheckCapacity() {
	if p.MaxSessions <= 0 {
		return
	}
	p.Flows.SetEmergency(p.Flows.Count() >= p.MaxSessions)
}

// HandlePacket runs one decoded TCP segment through every stage: Flow Table
// lookup, session-manager handling, reassembly drain, HTTP transaction
// parsing, and signature matching. It holds the flow's lock for the entire
// duration, per spec.md §5's concurrency model.
func (p *Pipeline) HandlePacket(d *DecodedTCP, now time.Time) error {
	if p.stopped() {
		return nil
	}

	f, created, dir := p.Flows.LookupOrCreate(d.Tuple, now)
	defer p.Flows.Release(f)

	if created {
		dstIP := net.IP(d.Tuple.DstIP[:])
		f.Proto = &flowState{
			sess:    tcpssn.NewSession(p.TCPCfg, dstIP),
			app:     httpinspect.NewState(),
			pktVars: flowvar.NewPacketStore(),
		}
	}
	f.Touch(now)

	fs, ok := f.Proto.(*flowState)
	if !ok {
		return nil // non-TCP flow sharing the same table; nothing to do
	}

	fs.pktVars.Reset()
	rawPayload := []byte(d.Pkt.Payload.String())

	d.Pkt.Dir = dir
	disp, err := tcpssn.Handle(fs.sess, &d.Pkt, now)
	if err != nil {
		return err
	}
	if disp != tcpssn.Accept {
		return nil
	}

	streamBytes := p.drain(fs, dir)
	p.matchPacketAndStream(f, fs, dir, rawPayload, streamBytes)
	p.matchTransactions(f, fs, now)
	return nil
}

// drain pulls newly-ready reassembled bytes out of whichever stream side
// just accepted data and feeds them to the HTTP inspector (spec.md §4.3's
// "stream messages" flowing to AI). It returns the concatenation of what it
// drained, for the stream-buffer detection pass.
func (p *Pipeline) drain(fs *flowState, dir ourflow.Direction) []byte {
	side := fs.sess.SideFor(dir)
	half := fs.sess.Half(side)

	msgs := half.Stream.Drain()
	if len(msgs) == 0 {
		return nil
	}

	var all []byte
	for _, m := range msgs {
		data := []byte(m.Data.String())
		all = append(all, data...)

		var err error
		if dir == ourflow.ToServer {
			err = fs.app.FeedRequest(m.Offset, data)
		} else {
			err = fs.app.FeedResponse(m.Offset, data)
		}
		if err != nil {
			// A malformed HTTP stream still leaves raw bytes available for
			// packet/stream-buffer signatures; AI simply stops producing
			// transactions for this flow (spec.md §7's "invalid input").
			break
		}
	}
	return all
}

// matchPacketAndStream runs signatures whose predicates only reference the
// raw packet payload or the reassembled stream bytes (spec.md §4.5's
// BufferPacket/BufferStream), independent of any HTTP transaction.
func (p *Pipeline) matchPacketAndStream(f *ourflow.Flow, fs *flowState, dir ourflow.Direction, pktPayload, streamBytes []byte) {
	if p.Engine == nil {
		return
	}
	buffers := map[detect.Buffer][]byte{
		detect.BufferPacket: pktPayload,
		detect.BufferStream: streamBytes,
	}
	in := p.matchInput(f, dir, buffers, fs)
	if alerts := p.Engine.Match(in); len(alerts) > 0 && p.AlertSink != nil {
		p.logRaw(f)
	}
}

// matchTransactions runs the Detection Engine's URI/header/cookie/method/
// body predicates against every HTTP transaction that has reached the
// loggable boundary (both request and response parsed) since the last call,
// advancing Flow.InspectedTxID so a transaction is matched exactly once
// (spec.md §4.4's single-inspection invariant).
func (p *Pipeline) matchTransactions(f *ourflow.Flow, fs *flowState, now time.Time) {
	if p.Engine == nil || fs.app == nil {
		return
	}
	start := f.InspectedTxID[ourflow.ToServer]
	txs := fs.app.Transactions
	for uint64(len(txs)) > start {
		tx := txs[start]
		if !tx.Complete() {
			break
		}
		p.matchOneTransaction(f, fs, tx, now)
		start++
	}
	f.InspectedTxID[ourflow.ToServer] = start
}

func (p *Pipeline) matchOneTransaction(f *ourflow.Flow, fs *flowState, tx *httpinspect.Transaction, now time.Time) {
	var body []byte
	for _, c := range tx.RequestBody {
		body = append(body, c.Data...)
	}
	buffers := map[detect.Buffer][]byte{
		detect.BufferURI:    []byte(tx.RequestURINormalized),
		detect.BufferMethod: []byte(tx.RequestMethod),
		detect.BufferCookie: []byte(tx.Cookie),
		detect.BufferBody:   body,
	}
	if len(tx.RequestHeadersRaw) > 0 {
		buffers[detect.BufferHeader] = []byte(flattenHeaders(tx.RequestHeadersRaw))
	}

	in := p.matchInput(f, ourflow.ToServer, buffers, fs)
	if alerts := p.Engine.Match(in); len(alerts) > 0 && p.AlertSink != nil {
		p.logTransaction(f, tx, now)
	}
}

func (p *Pipeline) matchInput(f *ourflow.Flow, dir ourflow.Direction, buffers map[detect.Buffer][]byte, fs *flowState) detect.MatchInput {
	srcIP, dstIP := net.IP(f.Tuple.SrcIP[:]), net.IP(f.Tuple.DstIP[:])
	srcPort, dstPort := int(f.Tuple.SrcPort), int(f.Tuple.DstPort)
	detectDir := detect.DirToServer
	if dir == ourflow.ToClient {
		detectDir = detect.DirToClient
		srcIP, dstIP = dstIP, srcIP
		srcPort, dstPort = dstPort, srcPort
	}
	return detect.MatchInput{
		SrcIP:   srcIP,
		DstIP:   dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
		Proto:   f.Tuple.Proto.String(),
		Dir:     detectDir,
		Buffers: buffers,
		Ctx: &detect.MatchContext{
			Buffers:  buffers,
			PktVars:  fs.pktVars,
			FlowVars: p.FlowVars,
		},
	}
}

// logRaw emits a minimal alert-log entry for a packet/stream-buffer match
// that has no associated HTTP transaction (spec.md §6's line grammar still
// applies; the HTTP-specific fields are simply empty).
func (p *Pipeline) logRaw(f *ourflow.Flow) {
	srcIP, dstIP := net.IP(f.Tuple.SrcIP[:]).String(), net.IP(f.Tuple.DstIP[:]).String()
	p.AlertSink(alertlog.Entry{
		Timestamp: f.LastSeenAt,
		Hostname:  p.Hostname,
		SrcIP:     srcIP,
		SrcPort:   int(f.Tuple.SrcPort),
		DstIP:     dstIP,
		DstPort:   int(f.Tuple.DstPort),
	})
}

func (p *Pipeline) logTransaction(f *ourflow.Flow, tx *httpinspect.Transaction, now time.Time) {
	srcIP, dstIP := net.IP(f.Tuple.SrcIP[:]).String(), net.IP(f.Tuple.DstIP[:]).String()
	p.AlertSink(alertlog.Entry{
		Timestamp:   now,
		Hostname:    p.Hostname,
		URI:         tx.RequestURINormalized,
		UserAgent:   tx.RequestHeadersRaw.Get("User-Agent"),
		Referer:     tx.RequestHeadersRaw.Get("Referer"),
		Method:      tx.RequestMethod,
		Protocol:    tx.ResponseProtocol,
		Status:      tx.ResponseStatus,
		ResponseLen: tx.ResponseLen,
		SrcIP:       srcIP,
		SrcPort:     int(f.Tuple.SrcPort),
		DstIP:       dstIP,
		DstPort:     int(f.Tuple.DstPort),
	})
}

func flattenHeaders(h map[string][]string) string {
	var b []byte
	for k, vs := range h {
		for _, v := range vs {
			b = append(b, k...)
			b = append(b, ':', ' ')
			b = append(b, v...)
			b = append(b, '\n')
		}
	}
	return string(b)
}
