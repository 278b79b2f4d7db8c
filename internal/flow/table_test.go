package flow

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTuple() Tuple {
	return NewTuple(net.ParseIP("10.0.0.1"), 1234, net.ParseIP("10.0.0.2"), 80, ProtoTCP)
}

func TestLookupOrCreateCreatesThenFinds(t *testing.T) {
	table := NewTable(16, DefaultTimeouts())
	tuple := testTuple()
	now := time.Now()

	f1, created, dir := table.LookupOrCreate(tuple, now)
	require.True(t, created)
	assert.Equal(t, ToServer, dir)
	table.Release(f1)

	f2, created, dir := table.LookupOrCreate(tuple, now)
	assert.False(t, created)
	assert.Equal(t, ToServer, dir)
	assert.Equal(t, f1.ID, f2.ID)
	table.Release(f2)

	assert.Equal(t, 1, table.Count())
}

func TestLookupOrCreateMatchesReverseTupleAsToClient(t *testing.T) {
	table := NewTable(16, DefaultTimeouts())
	tuple := testTuple()
	now := time.Now()

	f1, _, _ := table.LookupOrCreate(tuple, now)
	table.Release(f1)

	f2, created, dir := table.LookupOrCreate(tuple.Reverse(), now)
	assert.False(t, created)
	assert.Equal(t, ToClient, dir)
	assert.Equal(t, f1.ID, f2.ID)
	table.Release(f2)
}

func TestReapExpiredEvictsOnlyIdleUnreferencedFlows(t *testing.T) {
	table := NewTable(16, DefaultTimeouts())
	tuple := testTuple()
	start := time.Now()

	f, _, _ := table.LookupOrCreate(tuple, start)
	table.Release(f)

	reaped, errs := table.ReapExpired(start)
	assert.Equal(t, 0, reaped)
	assert.Equal(t, 0, errs.TotalCount)

	later := start.Add(DefaultTimeouts()[TimeoutNew].Normal + time.Second)
	reaped, _ = table.ReapExpired(later)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 0, table.Count())
}

func TestReapExpiredSkipsReferencedFlow(t *testing.T) {
	table := NewTable(16, DefaultTimeouts())
	tuple := testTuple()
	start := time.Now()

	f, _, _ := table.LookupOrCreate(tuple, start)
	// Do not Release: simulates a flow still being handled elsewhere.
	f.Unlock()

	later := start.Add(DefaultTimeouts()[TimeoutNew].Normal + time.Second)
	reaped, _ := table.ReapExpired(later)
	assert.Equal(t, 0, reaped)
	assert.Equal(t, 1, table.Count())
}

type fakeClassifier struct{ class TimeoutClass }

func (f fakeClassifier) TimeoutClass() TimeoutClass { return f.class }

func TestSetEmergencyUsesShorterTimeouts(t *testing.T) {
	table := NewTable(16, DefaultTimeouts())
	tuple := testTuple()
	start := time.Now()

	f, _, _ := table.LookupOrCreate(tuple, start)
	f.Proto = fakeClassifier{class: TimeoutEstablished}
	table.Release(f)

	table.SetEmergency(true)
	later := start.Add(DefaultTimeouts()[TimeoutEstablished].Emergency + time.Second)
	reaped, _ := table.ReapExpired(later)
	assert.Equal(t, 1, reaped)
}

func TestFlowDirectionResolvesCanonicalVsReverse(t *testing.T) {
	tuple := testTuple()
	f := &Flow{Tuple: tuple}
	assert.Equal(t, ToServer, f.Direction(tuple))
	assert.Equal(t, ToClient, f.Direction(tuple.Reverse()))
}

func TestFlowTimeoutClassDefaultsWithoutClassifier(t *testing.T) {
	f := &Flow{}
	assert.Equal(t, TimeoutNew, f.TimeoutClass())
}

func TestTupleReverseRoundTrips(t *testing.T) {
	tuple := testTuple()
	assert.Equal(t, tuple, tuple.Reverse().Reverse())
}
