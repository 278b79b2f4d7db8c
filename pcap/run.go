package pcap

import (
	"github.com/pkg/errors"

	"github.com/hillu/suricata-sub000/internal/engine"
)

// Run captures from intf, decodes TCP/IP, and drives pipe (spec.md §5's
// full handle→insert→feed→match pipeline) until stop fires.
func Run(stop <-chan struct{}, intf, bpfFilter string, pipe *engine.Pipeline) error {
	parser := NewNetworkTrafficParser()
	if err := parser.ParseFromInterface(pipe, intf, bpfFilter, stop); err != nil {
		return errors.Wrap(err, "couldn't start parsing from interface")
	}
	return nil
}
