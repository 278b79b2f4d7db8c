// Package ruleparser provides a pragmatic, non-exhaustive encoder/decoder
// for the Snort-compatible rule grammar spec.md §6 sketches. It is not a
// full lexical front end (that is an explicit Non-goal, spec.md §1); it
// covers just enough of the keyword surface — content family, pcre,
// urilen, and the bookkeeping keys — to round-trip a Signature built from
// the predicate families internal/detect models (spec.md §8's Testable
// Properties requires this round-trip).
package ruleparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hillu/suricata-sub000/internal/detect"
)

var headerRE = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(->|<>)\s+(\S+)\s+(\S+)\s*\((.*)\)\s*$`)

// Parse decodes one rule line into a Signature. Unrecognized keys are not
// preserved; they are simply skipped, matching a permissive reader rather
// than a strict one.
func Parse(line string) (*detect.Signature, error) {
	m := headerRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, errors.Errorf("ruleparser: malformed rule header: %q", line)
	}

	sig := &detect.Signature{}
	var err error
	if sig.Action, err = parseAction(m[1]); err != nil {
		return nil, err
	}
	sig.Proto = m[2]
	sig.Tuple.SrcNets = netList(m[3])
	sig.Tuple.SrcPort = parsePortSet(m[4])
	if m[5] == "<>" {
		sig.Dir = detect.DirToServer // a `<>` rule yields this one to-server signature; no to-client copy is made
	} else {
		sig.Dir = detect.DirToServer
	}
	sig.Tuple.DstNets = netList(m[6])
	sig.Tuple.DstPort = parsePortSet(m[7])

	if err := parseOptions(sig, m[8]); err != nil {
		return nil, err
	}
	sig.Compile()
	return sig, nil
}

func parseAction(s string) (detect.Action, error) {
	switch s {
	case "alert":
		return detect.ActionAlert, nil
	case "drop":
		return detect.ActionDrop, nil
	case "pass":
		return detect.ActionPass, nil
	case "reject":
		return detect.ActionReject, nil
	case "rejectsrc":
		return detect.ActionRejectSrc, nil
	case "rejectdst":
		return detect.ActionRejectDst, nil
	case "rejectboth":
		return detect.ActionRejectBoth, nil
	default:
		return 0, errors.Errorf("ruleparser: unknown action %q", s)
	}
}

func netList(s string) []string {
	if s == "any" || s == "" {
		return nil
	}
	return strings.Split(strings.Trim(s, "[]"), ",")
}

func parsePortSet(s string) detect.PortSet {
	if s == "any" || s == "" {
		return detect.PortSet{Any: true}
	}
	var ports []int
	for _, p := range strings.Split(strings.Trim(s, "[]"), ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			ports = append(ports, n)
		}
	}
	return detect.PortSet{Ports: ports}
}

// tokenizeOptions splits a semicolon-terminated option body into key:value
// tokens, respecting double-quoted values that may themselves contain
// escaped semicolons/quotes (`\;`, `\"`).
func tokenizeOptions(body string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body) && (body[i+1] == ';' || body[i+1] == '"'):
			cur.WriteByte(body[i+1])
			i++
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ';' && !inQuotes:
			tokens = append(tokens, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		tokens = append(tokens, strings.TrimSpace(cur.String()))
	}
	return tokens
}

func splitKV(tok string) (key, val string) {
	i := strings.IndexByte(tok, ':')
	if i < 0 {
		return tok, ""
	}
	return strings.TrimSpace(tok[:i]), strings.Trim(strings.TrimSpace(tok[i+1:]), `"`)
}

func parseOptions(sig *detect.Signature, body string) error {
	var lastContent *detect.ContentPredicate

	for _, tok := range tokenizeOptions(body) {
		key, val := splitKV(tok)
		switch key {
		case "msg":
			sig.Msg = val
		case "sid":
			n, _ := strconv.Atoi(val)
			sig.ID = uint32(n)
		case "rev":
			n, _ := strconv.Atoi(val)
			sig.Rev = uint32(n)
		case "classtype":
			sig.Classtype = val
		case "priority":
			n, _ := strconv.Atoi(val)
			sig.Priority = n

		case "content", "uricontent":
			negated := strings.HasPrefix(val, "!")
			val = strings.TrimPrefix(val, "!")
			cp := &detect.ContentPredicate{Bytes: []byte(val)}
			if negated {
				cp.Flags |= detect.FlagNegated
			}
			if key == "uricontent" {
				cp.Buffer = detect.BufferURI
			} else {
				cp.Buffer = detect.BufferStream
			}
			sig.Predicates = append(sig.Predicates, detect.Predicate{Kind: detect.PredContent, Content: cp})
			lastContent = cp

		case "nocase":
			if lastContent != nil {
				lastContent.Flags |= detect.FlagNoCase
			}
		case "offset":
			if lastContent != nil {
				lastContent.Offset, _ = strconv.Atoi(val)
			}
		case "depth":
			if lastContent != nil {
				lastContent.Depth, _ = strconv.Atoi(val)
			}
		case "distance":
			if lastContent != nil {
				lastContent.Distance, _ = strconv.Atoi(val)
				lastContent.Flags |= detect.FlagDistance
				markPreviousRelative(sig)
			}
		case "within":
			if lastContent != nil {
				lastContent.Within, _ = strconv.Atoi(val)
				lastContent.Flags |= detect.FlagWithin
				markPreviousRelative(sig)
			}

		case "http_uri":
			if lastContent != nil {
				lastContent.Buffer = detect.BufferURI
			}
		case "http_method":
			if lastContent != nil {
				lastContent.Buffer = detect.BufferMethod
			}
		case "http_cookie":
			if lastContent != nil {
				lastContent.Buffer = detect.BufferCookie
			}
		case "http_header":
			if lastContent != nil {
				lastContent.Buffer = detect.BufferHeader
			}

		case "urilen":
			up, err := parseUrilen(val)
			if err != nil {
				return err
			}
			sig.Predicates = append(sig.Predicates, detect.Predicate{Kind: detect.PredUrilen, Urilen: up})

		case "pcre":
			pp, err := parsePcre(val)
			if err != nil {
				return err
			}
			sig.Predicates = append(sig.Predicates, detect.Predicate{Kind: detect.PredPcre, Pcre: pp})

		default:
			// dsize, flow, flowbits, reference, and any other recognized-but-
			// unmodeled key (spec.md §6) are accepted and ignored: they don't
			// bear on the predicate families this package round-trips.
		}
	}
	return nil
}

// markPreviousRelative sets RelativeNext on the content predicate just
// before the most recently appended one, since a distance/within qualifier
// on predicate N means "N is relative to N-1's match end" (spec.md §4.5).
func markPreviousRelative(sig *detect.Signature) {
	var lastContentIdx = -1
	for i, p := range sig.Predicates {
		if p.Kind == detect.PredContent {
			lastContentIdx = i
		}
	}
	if lastContentIdx <= 0 {
		return
	}
	for i := lastContentIdx - 1; i >= 0; i-- {
		if sig.Predicates[i].Kind == detect.PredContent {
			sig.Predicates[i].Content.Flags |= detect.FlagRelativeNext
			return
		}
	}
}

func parseUrilen(val string) (*detect.UrilenPredicate, error) {
	val = strings.TrimSpace(val)
	switch {
	case strings.Contains(val, "<>"):
		parts := strings.SplitN(val, "<>", 2)
		lo, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		hi, _ := strconv.Atoi(strings.TrimSpace(parts[1]))
		return &detect.UrilenPredicate{Mode: detect.UrilenRange, Len1: lo, Len2: hi}, nil
	case strings.HasPrefix(val, "<"):
		n, _ := strconv.Atoi(strings.TrimPrefix(val, "<"))
		return &detect.UrilenPredicate{Mode: detect.UrilenLT, Len1: n}, nil
	case strings.HasPrefix(val, ">"):
		n, _ := strconv.Atoi(strings.TrimPrefix(val, ">"))
		return &detect.UrilenPredicate{Mode: detect.UrilenGT, Len1: n}, nil
	default:
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, errors.Wrapf(err, "ruleparser: bad urilen %q", val)
		}
		return &detect.UrilenPredicate{Mode: detect.UrilenEQ, Len1: n}, nil
	}
}

// pcreRE splits a "/pattern/flags" pcre option value.
var pcreRE = regexp.MustCompile(`^/(.*)/([a-zA-Z]*)$`)

func parsePcre(val string) (*detect.PcrePredicate, error) {
	m := pcreRE.FindStringSubmatch(val)
	if m == nil {
		return nil, errors.Errorf("ruleparser: malformed pcre value %q", val)
	}
	pattern, flags := m[1], m[2]

	pp := &detect.PcrePredicate{Buffer: detect.BufferStream}
	var reFlags string
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's', 'x':
			reFlags += string(f)
		case 'A':
			pattern = "^" + pattern
		case 'U':
			pp.Buffer = detect.BufferURI
		case 'H':
			pp.Buffer = detect.BufferHeader
		case 'M':
			pp.Buffer = detect.BufferMethod
		case 'C':
			pp.Buffer = detect.BufferCookie
		case 'B':
			pp.Buffer = detect.BufferPacket
		case 'R':
			pp.Relative = true
		case 'O', 'P':
			// accepted and ignored; the predicate's capture name is
			// not set from any rule syntax.
		}
	}
	if reFlags != "" {
		pattern = fmt.Sprintf("(?%s)%s", reFlags, pattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "ruleparser: bad pcre pattern %q", val)
	}
	pp.Regex = re
	return pp, nil
}
