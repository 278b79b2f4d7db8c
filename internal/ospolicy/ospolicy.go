// Package ospolicy classifies a stream endpoint into the TCP-stack behavior
// class that governs segment-overlap resolution and RST acceptance.
package ospolicy

import (
	"net"
	"sort"
)

// Policy is the receiver-side TCP stack behavior class used to resolve
// segment overlaps and RST acceptance (spec.md §3, §4.2, §4.3).
type Policy int

const (
	Default Policy = iota
	BSD
	BSDRight
	OldLinux
	Linux
	OldSolaris
	Solaris
	HPUX10
	HPUX11
	IRIX
	Windows
	Windows2K3
	Vista
	MacOS
	First
	Last
)

func (p Policy) String() string {
	switch p {
	case BSD:
		return "bsd"
	case BSDRight:
		return "bsd-right"
	case OldLinux:
		return "old-linux"
	case Linux:
		return "linux"
	case OldSolaris:
		return "old-solaris"
	case Solaris:
		return "solaris"
	case HPUX10:
		return "hpux10"
	case HPUX11:
		return "hpux11"
	case IRIX:
		return "irix"
	case Windows:
		return "windows"
	case Windows2K3:
		return "windows2k3"
	case Vista:
		return "vista"
	case MacOS:
		return "macos"
	case First:
		return "first"
	case Last:
		return "last"
	default:
		return "default"
	}
}

// Normalize collapses the aliases documented in the original implementation
// (original_source/src/stream-tcp.c:570-573): OS_POLICY_BSD_RIGHT aliases to
// BSD, and OS_POLICY_OLD_SOLARIS aliases to SOLARIS. Spec.md §9's Open
// Questions note this aliasing should be preserved.
func Normalize(p Policy) Policy {
	switch p {
	case BSDRight:
		return BSD
	case OldSolaris:
		return Solaris
	default:
		return p
	}
}

// entry is one operator-configured `host-os-policy.<policy>` CIDR binding.
type entry struct {
	network *net.IPNet
	prefix  int
	policy  Policy
}

// Table resolves a destination IP to an OS policy via longest-prefix-match
// over operator-configured CIDRs (spec.md §3: "chosen per stream based on
// the destination IP against a radix-tree of operator-configured CIDRs").
//
// No radix/trie library is present anywhere in the retrieval pack, so this
// is a small sorted-slice longest-prefix-match instead (see DESIGN.md);
// the table is built once at config load and is read-only afterwards, so a
// linear scan over a short, sorted list of CIDRs costs nothing in practice.
type Table struct {
	entries []entry
	def     Policy
}

// NewTable builds a Table from a host-os-policy configuration map, keyed by
// Policy value (e.g. Windows) to a list of CIDR strings. Malformed CIDRs are
// skipped. def is returned by Lookup when no CIDR matches.
func NewTable(cidrsByPolicy map[Policy][]string, def Policy) *Table {
	t := &Table{def: Normalize(def)}
	for policy, cidrs := range cidrsByPolicy {
		norm := Normalize(policy)
		for _, c := range cidrs {
			_, n, err := net.ParseCIDR(c)
			if err != nil {
				continue
			}
			ones, _ := n.Mask.Size()
			t.entries = append(t.entries, entry{network: n, prefix: ones, policy: norm})
		}
	}
	// Longest prefix first so Lookup's linear scan returns the most specific match.
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].prefix > t.entries[j].prefix
	})
	return t
}

// Lookup returns the OS policy assigned to ip, or the table's default.
func (t *Table) Lookup(ip net.IP) Policy {
	if t == nil {
		return Default
	}
	for _, e := range t.entries {
		if e.network.Contains(ip) {
			return e.policy
		}
	}
	return t.def
}
