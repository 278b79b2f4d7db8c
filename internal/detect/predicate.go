package detect

import "regexp"

// Buffer identifies which inspection buffer a predicate runs against
// (spec.md §3 Signature: "payload, uri, header/cookie/method, app-layer").
type Buffer int

const (
	BufferPacket Buffer = iota
	BufferStream
	BufferURI
	BufferHeader
	BufferCookie
	BufferMethod
	BufferBody
)

// ContentFlags are the per-predicate modifiers spec.md §3 lists for the
// content family.
type ContentFlags uint8

const (
	FlagNoCase ContentFlags = 1 << iota
	FlagNegated
	FlagDistance
	FlagWithin
	FlagRelativeNext
	FlagRelativeDepth // "depth ... unless RELATIVE, in which case from the previous cursor"
)

// Has reports whether bit is set in f.
func (f ContentFlags) Has(bit ContentFlags) bool { return f&bit != 0 }

// ContentPredicate matches literal bytes (content/uricontent, spec.md §3, §4.5).
type ContentPredicate struct {
	ID    int
	Bytes []byte

	Buffer Buffer
	Flags  ContentFlags

	Offset   int
	Depth    int
	Distance int
	Within   int

	table *bmhTable
}

func (p *ContentPredicate) bmh() *bmhTable {
	if p.table == nil {
		p.table = newBMHTable(p.Bytes, p.Flags.Has(FlagNoCase))
	}
	return p.table
}

// UrilenMode is the comparison spec.md §3 lists for urilen predicates.
type UrilenMode int

const (
	UrilenEQ UrilenMode = iota
	UrilenLT
	UrilenGT
	UrilenRange
)

// UrilenPredicate compares the normalized request URI's length (spec.md §4.5
// "Urilen"). For UrilenRange, [Len1, Len2] is treated inclusive on both
// ends, matching the original implementation's RA handling
// (original_source/src/detect-urilen.c).
type UrilenPredicate struct {
	Mode UrilenMode
	Len1 int
	Len2 int
}

func (p *UrilenPredicate) Match(length int) bool {
	switch p.Mode {
	case UrilenEQ:
		return length == p.Len1
	case UrilenLT:
		return length < p.Len1
	case UrilenGT:
		return length > p.Len1
	case UrilenRange:
		return length >= p.Len1 && length <= p.Len2
	default:
		return false
	}
}

// PcrePredicate wraps a compiled regex with the option flags spec.md §3
// lists. Go's regexp (RE2) has no PCRE-compatible partial/DFA-restart mode,
// so HTTP body matching instead concatenates the buffered chunks available
// so far before matching (see the engine package's matchOneTransaction) —
// documented in DESIGN.md.
type PcrePredicate struct {
	Regex *regexp.Regexp

	Buffer   Buffer
	Negated  bool
	Relative bool

	CapturePkt  string
	CaptureFlow string
}
