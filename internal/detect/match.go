package detect

import (
	"github.com/hillu/suricata-sub000/internal/flowvar"
)

// MatchContext bundles the buffers and capture stores one packet/
// transaction's evaluation runs against (spec.md §4.5's "appropriate
// buffer: packet payload, reassembled stream, URI, header, cookie, method,
// body").
type MatchContext struct {
	Buffers map[Buffer][]byte

	PktVars  *flowvar.PacketStore
	FlowVars *flowvar.FlowStore
}

// cursorState is the per-buffer evaluation state spec.md §4.5 describes:
// payload_offset (the relative-next cursor) and discontinue_matching (the
// negated-match abort latch).
type cursorState struct {
	cursor      int
	haveCursor  bool
	discontinue bool
}

// EvaluateBuffer runs one buffer's ordered predicate list against buf,
// implementing the offset/depth/distance/within/negation/RELATIVE_NEXT
// semantics and recursive backtracking spec.md §4.5 specifies. It returns
// true iff every predicate in preds matched.
func EvaluateBuffer(preds []Predicate, buf []byte, ctx *MatchContext) bool {
	st := &cursorState{}
	return evalFrom(preds, 0, buf, ctx, st)
}

// evalFrom evaluates preds[idx:] in order, given the cursor state left by
// preds[:idx]. Content predicates may recurse into themselves (backtrack) to
// retry at the next occurrence when a later relative predicate fails.
func evalFrom(preds []Predicate, idx int, buf []byte, ctx *MatchContext, st *cursorState) bool {
	if idx >= len(preds) {
		return true
	}
	p := preds[idx]

	switch p.Kind {
	case PredContent:
		return evalContent(p.Content, preds, idx, buf, ctx, st)
	case PredPcre:
		return evalPcre(p.Pcre, preds, idx, buf, ctx, st)
	case PredUrilen:
		if !p.Urilen.Match(len(buf)) {
			return false
		}
		return evalFrom(preds, idx+1, buf, ctx, st)
	default:
		return false
	}
}

func evalContent(cp *ContentPredicate, preds []Predicate, idx int, buf []byte, ctx *MatchContext, st *cursorState) bool {
	if st.discontinue {
		return false
	}

	relative := cp.Flags.Has(FlagDistance) || cp.Flags.Has(FlagWithin) || cp.Flags.Has(FlagRelativeDepth)

	lo := cp.Offset
	if relative && st.haveCursor {
		lo = st.cursor
		if cp.Flags.Has(FlagDistance) {
			d := st.cursor + cp.Distance
			if cp.Distance < 0 && -cp.Distance > st.cursor {
				d = 0
			}
			lo = d
		}
	}

	hi := len(buf)
	if cp.Depth > 0 {
		base := 0
		if relative && st.haveCursor && cp.Flags.Has(FlagRelativeDepth) {
			base = st.cursor
		}
		if base+cp.Depth < hi {
			hi = base + cp.Depth
		}
	}
	if cp.Flags.Has(FlagWithin) && relative && st.haveCursor {
		w := st.cursor + cp.Within
		if w < hi {
			hi = w
		}
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(buf) {
		hi = len(buf)
	}

	if cp.Flags.Has(FlagNegated) {
		if lo > hi {
			// No overlapping window to search: a negated pattern with no
			// window to search in is vacuously satisfied (spec.md §4.5).
			return evalFrom(preds, idx+1, buf, ctx, st)
		}
		found := cp.bmh().indexFrom(buf[:hi], lo) >= 0
		if found {
			st.discontinue = true
			return false
		}
		return evalFrom(preds, idx+1, buf, ctx, st)
	}

	if lo > hi {
		return false
	}

	search := lo
	for {
		at := cp.bmh().indexFrom(buf[:hi], search)
		if at < 0 {
			return false
		}
		end := at + len(cp.Bytes)

		saved := *st
		st.cursor = end
		st.haveCursor = true
		if cp.Flags.Has(FlagRelativeNext) {
			if evalFrom(preds, idx+1, buf, ctx, st) {
				return true
			}
		} else {
			next := *st
			next.haveCursor = false
			if evalFrom(preds, idx+1, buf, ctx, &next) {
				*st = next
				return true
			}
		}
		*st = saved
		search = at + 1
		if search > hi {
			return false
		}
	}
}

func evalPcre(pp *PcrePredicate, preds []Predicate, idx int, buf []byte, ctx *MatchContext, st *cursorState) bool {
	if st.discontinue {
		return false
	}
	search := buf
	if pp.Relative && st.haveCursor && st.cursor <= len(buf) {
		search = buf[st.cursor:]
	}

	loc := pp.Regex.FindSubmatchIndex(search)
	matched := loc != nil

	if pp.Negated {
		if matched {
			st.discontinue = true
			return false
		}
		return evalFrom(preds, idx+1, buf, ctx, st)
	}
	if !matched {
		return false
	}

	if len(loc) >= 4 && loc[2] >= 0 {
		group := string(search[loc[2]:loc[3]])
		if pp.CapturePkt != "" && ctx.PktVars != nil {
			ctx.PktVars.Set(pp.CapturePkt, group)
		}
		if pp.CaptureFlow != "" && ctx.FlowVars != nil {
			ctx.FlowVars.Set(pp.CaptureFlow, group)
		}
	}

	next := *st
	base := 0
	if pp.Relative && st.haveCursor {
		base = st.cursor
	}
	next.cursor = base + loc[1]
	next.haveCursor = true
	return evalFrom(preds, idx+1, buf, ctx, &next)
}
