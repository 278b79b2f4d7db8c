// Package detect implements the Detection Engine (DE, spec.md §4.5):
// per-signature predicate evaluation against packet, stream, and HTTP
// transaction buffers, with full relative-offset and negation semantics.
package detect

import "net"

// Prefilter is the abstract "candidate set producer" spec.md §1's
// Non-goals describes ("The Aho-Corasick / Boyer-Moore multi-pattern
// prefilter is treated as an abstract... only its contract matters."): given
// a packet's payload it returns the set of prefilter ids whose content is
// present somewhere in the buffer.
type Prefilter interface {
	Candidates(payload []byte) map[int]bool
}

// Engine holds the compiled, read-only ruleset (spec.md §5: "the
// multi-pattern-matcher's compiled ruleset is read-only after engine start
// and may be safely shared").
type Engine struct {
	Signatures []*Signature
	Prefilter  Prefilter
}

// NewEngine builds an Engine from already-Compile()d signatures.
func NewEngine(sigs []*Signature, pf Prefilter) *Engine {
	return &Engine{Signatures: sigs, Prefilter: pf}
}

// Alert is one fully-matched signature's output (spec.md §4.5 "Output").
type Alert struct {
	Signature *Signature
}

// MatchInput is everything one evaluation pass needs: the packet's
// five-tuple/direction and the buffers available at this point in
// processing (spec.md §4.5's "appropriate buffer").
type MatchInput struct {
	SrcIP, DstIP     net.IP
	SrcPort, DstPort int
	Proto            string
	Dir              Direction

	Buffers map[Buffer][]byte
	Ctx     *MatchContext
}

// Match evaluates every signature against in, in the fixed order spec.md
// §4.5 lists: five-tuple, direction, prefilter bitmap, then per-buffer
// predicates in rule order.
func (e *Engine) Match(in MatchInput) []Alert {
	var candidates map[int]bool
	if e.Prefilter != nil {
		candidates = e.Prefilter.Candidates(in.Buffers[BufferPacket])
	}

	var alerts []Alert
	for _, sig := range e.Signatures {
		if !matchesFiveTuple(sig, in) {
			continue
		}
		if sig.Dir != in.Dir {
			continue
		}
		if sig.HasPrefilter && !sig.NegationOnly && candidates != nil && !candidates[sig.PrefilterID] {
			continue
		}
		if evaluateSignature(sig, in.Buffers, in.Ctx) {
			alerts = append(alerts, Alert{Signature: sig})
		}
	}
	return alerts
}

func matchesFiveTuple(sig *Signature, in MatchInput) bool {
	if sig.Proto != "" && sig.Proto != "any" && sig.Proto != in.Proto {
		return false
	}
	if !netsMatch(sig.Tuple.SrcNets, in.SrcIP) || !netsMatch(sig.Tuple.DstNets, in.DstIP) {
		return false
	}
	if !sig.Tuple.SrcPort.matches(in.SrcPort) || !sig.Tuple.DstPort.matches(in.DstPort) {
		return false
	}
	return true
}

func netsMatch(nets []string, ip net.IP) bool {
	if len(nets) == 0 || ip == nil {
		return true
	}
	for _, n := range nets {
		_, cidr, err := net.ParseCIDR(n)
		if err != nil {
			continue
		}
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// evaluateSignature runs every buffer sub-list the signature has predicates
// for; a buffer crossing resets the relative cursor (spec.md §4.5:
// "crossing a buffer boundary resets the cursor").
func evaluateSignature(sig *Signature, buffers map[Buffer][]byte, ctx *MatchContext) bool {
	if len(sig.byBuffer) == 0 {
		return false
	}
	for buf, preds := range sig.byBuffer {
		data := buffers[buf]
		if !EvaluateBuffer(preds, data, ctx) {
			return false
		}
	}
	return true
}
