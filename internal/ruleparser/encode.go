package ruleparser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hillu/suricata-sub000/internal/detect"
)

// Encode renders sig back to its canonical rule text. Encode(Parse(x)) is
// not required to equal x byte-for-byte (whitespace/ordering may differ),
// but Parse(Encode(sig)) must produce a Signature equivalent to sig
// (spec.md §8's round-trip property).
func Encode(sig *detect.Signature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s %s %s %s (",
		actionString(sig.Action), protoOrAny(sig.Proto),
		netsString(sig.Tuple.SrcNets), portString(sig.Tuple.SrcPort),
		dirString(sig.Dir),
		netsString(sig.Tuple.DstNets), portString(sig.Tuple.DstPort))

	if sig.Msg != "" {
		fmt.Fprintf(&b, "msg:%q; ", sig.Msg)
	}
	for _, p := range sig.Predicates {
		switch p.Kind {
		case detect.PredContent:
			encodeContent(&b, p.Content)
		case detect.PredUrilen:
			encodeUrilen(&b, p.Urilen)
		case detect.PredPcre:
			encodePcre(&b, p.Pcre)
		}
	}
	if sig.Classtype != "" {
		fmt.Fprintf(&b, "classtype:%s; ", sig.Classtype)
	}
	if sig.Priority != 0 {
		fmt.Fprintf(&b, "priority:%d; ", sig.Priority)
	}
	fmt.Fprintf(&b, "sid:%d; rev:%d;", sig.ID, sig.Rev)
	b.WriteString(")")
	return b.String()
}

func actionString(a detect.Action) string {
	switch a {
	case detect.ActionDrop:
		return "drop"
	case detect.ActionPass:
		return "pass"
	case detect.ActionReject:
		return "reject"
	case detect.ActionRejectSrc:
		return "rejectsrc"
	case detect.ActionRejectDst:
		return "rejectdst"
	case detect.ActionRejectBoth:
		return "rejectboth"
	default:
		return "alert"
	}
}

func dirString(d detect.Direction) string {
	return "->"
}

func protoOrAny(p string) string {
	if p == "" {
		return "any"
	}
	return p
}

func netsString(nets []string) string {
	if len(nets) == 0 {
		return "any"
	}
	if len(nets) == 1 {
		return nets[0]
	}
	return "[" + strings.Join(nets, ",") + "]"
}

func portString(ps detect.PortSet) string {
	if ps.Any || len(ps.Ports) == 0 {
		return "any"
	}
	if len(ps.Ports) == 1 {
		return strconv.Itoa(ps.Ports[0])
	}
	var parts []string
	for _, p := range ps.Ports {
		parts = append(parts, strconv.Itoa(p))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func encodeContent(b *strings.Builder, cp *detect.ContentPredicate) {
	key := "content"
	if cp.Buffer == detect.BufferURI {
		key = "uricontent"
	}
	val := string(cp.Bytes)
	if cp.Flags.Has(detect.FlagNegated) {
		val = "!" + val
	}
	fmt.Fprintf(b, "%s:%q; ", key, val)
	if cp.Flags.Has(detect.FlagNoCase) {
		b.WriteString("nocase; ")
	}
	if cp.Offset != 0 {
		fmt.Fprintf(b, "offset:%d; ", cp.Offset)
	}
	if cp.Depth != 0 {
		fmt.Fprintf(b, "depth:%d; ", cp.Depth)
	}
	if cp.Flags.Has(detect.FlagDistance) {
		fmt.Fprintf(b, "distance:%d; ", cp.Distance)
	}
	if cp.Flags.Has(detect.FlagWithin) {
		fmt.Fprintf(b, "within:%d; ", cp.Within)
	}
	switch cp.Buffer {
	case detect.BufferMethod:
		b.WriteString("http_method; ")
	case detect.BufferCookie:
		b.WriteString("http_cookie; ")
	case detect.BufferHeader:
		b.WriteString("http_header; ")
	}
}

func encodeUrilen(b *strings.Builder, up *detect.UrilenPredicate) {
	switch up.Mode {
	case detect.UrilenLT:
		fmt.Fprintf(b, "urilen:<%d; ", up.Len1)
	case detect.UrilenGT:
		fmt.Fprintf(b, "urilen:>%d; ", up.Len1)
	case detect.UrilenRange:
		fmt.Fprintf(b, "urilen:%d<>%d; ", up.Len1, up.Len2)
	default:
		fmt.Fprintf(b, "urilen:%d; ", up.Len1)
	}
}

func encodePcre(b *strings.Builder, pp *detect.PcrePredicate) {
	flags := ""
	switch pp.Buffer {
	case detect.BufferURI:
		flags += "U"
	case detect.BufferHeader:
		flags += "H"
	case detect.BufferMethod:
		flags += "M"
	case detect.BufferCookie:
		flags += "C"
	case detect.BufferPacket:
		flags += "B"
	}
	if pp.Relative {
		flags += "R"
	}
	fmt.Fprintf(b, "pcre:\"/%s/%s\"; ", pp.Regex.String(), flags)
}
