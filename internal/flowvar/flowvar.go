// Package flowvar implements the packet-scoped and flow-scoped pcre capture
// variable stores spec.md §4.5 describes for CAPTURE_PKT / CAPTURE_FLOW.
package flowvar

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// PacketStore holds CAPTURE_PKT variables: they live only for the packet
// currently being matched, so this is a plain map reset per packet.
type PacketStore struct {
	vars map[string]string
}

// NewPacketStore returns an empty packet-scoped variable store.
func NewPacketStore() *PacketStore {
	return &PacketStore{vars: make(map[string]string)}
}

// Set stores a captured value, overwriting any prior value under name.
func (p *PacketStore) Set(name, value string) { p.vars[name] = value }

// Get returns the captured value for name and whether it was set.
func (p *PacketStore) Get(name string) (string, bool) {
	v, ok := p.vars[name]
	return v, ok
}

// Reset clears all packet-scoped variables, called once per new packet
// (spec.md §4.5: CAPTURE_PKT variables do not outlive their packet).
func (p *PacketStore) Reset() {
	for k := range p.vars {
		delete(p.vars, k)
	}
}

// FlowStore holds CAPTURE_FLOW variables: they persist for the life of the
// flow. It wraps go-cache so a flow's variables expire even if the flow's
// own eviction is delayed, bounding memory the way the packet/segment/
// stream-message pools do elsewhere in the engine (spec.md §5).
type FlowStore struct {
	c *cache.Cache
}

// NewFlowStore builds a flow-scoped variable store with the given TTL and
// cleanup interval.
func NewFlowStore(ttl, cleanupInterval time.Duration) *FlowStore {
	return &FlowStore{c: cache.New(ttl, cleanupInterval)}
}

// Set stores a captured value under name, refreshing its TTL.
func (f *FlowStore) Set(name, value string) {
	f.c.Set(name, value, cache.DefaultExpiration)
}

// Get returns the captured value for name and whether it is present and
// unexpired.
func (f *FlowStore) Get(name string) (string, bool) {
	v, ok := f.c.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
