package flowvar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacketStoreSetGetReset(t *testing.T) {
	p := NewPacketStore()
	_, ok := p.Get("id")
	assert.False(t, ok)

	p.Set("id", "42")
	v, ok := p.Get("id")
	require := assert.New(t)
	require.True(ok)
	require.Equal("42", v)

	p.Set("id", "43")
	v, _ = p.Get("id")
	require.Equal("43", v, "Set overwrites the prior value")

	p.Reset()
	_, ok = p.Get("id")
	assert.False(t, ok, "Reset clears all packet-scoped variables")
}

func TestFlowStoreSetGet(t *testing.T) {
	f := NewFlowStore(time.Minute, time.Minute)
	_, ok := f.Get("session")
	assert.False(t, ok)

	f.Set("session", "abc123")
	v, ok := f.Get("session")
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestFlowStoreEntryExpires(t *testing.T) {
	f := NewFlowStore(10*time.Millisecond, 5*time.Millisecond)
	f.Set("session", "abc123")

	time.Sleep(30 * time.Millisecond)
	_, ok := f.Get("session")
	assert.False(t, ok, "entry must expire after its TTL elapses")
}
