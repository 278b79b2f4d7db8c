package tcpssn

import (
	"net"
	"testing"
	"time"

	"github.com/akitasoftware/akita-libs/memview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hillu/suricata-sub000/internal/flow"
	"github.com/hillu/suricata-sub000/internal/ospolicy"
)

func mv(s string) memview.MemView { return memview.New([]byte(s)) }

func defaultConfig() *Config {
	return &Config{DefaultOSPolicy: ospolicy.Default}
}

// establishedSession drives a plain 3-way handshake (client ISN 1000, server
// ISN 5000) and returns the session sitting in StateEstablished.
func establishedSession(t *testing.T, cfg *Config) *Session {
	t.Helper()
	sess := NewSession(cfg, net.ParseIP("10.0.0.2"))
	now := time.Now()

	disp, err := Handle(sess, &Packet{Seq: 1000, Flags: FlagSYN, Dir: flow.ToServer, ChecksumValid: true}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)
	require.Equal(t, StateSynSent, sess.State)

	disp, err = Handle(sess, &Packet{Seq: 5000, Ack: 1001, Flags: FlagSYN | FlagACK, Dir: flow.ToClient, ChecksumValid: true}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)
	require.Equal(t, StateSynRecv, sess.State)

	disp, err = Handle(sess, &Packet{Seq: 1001, Ack: 5001, Flags: FlagACK, Dir: flow.ToServer, ChecksumValid: true}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)
	require.Equal(t, StateEstablished, sess.State)

	return sess
}

func TestThreeWayHandshakeEstablishesSession(t *testing.T) {
	sess := establishedSession(t, defaultConfig())
	assert.Equal(t, uint32(1001), sess.Half(Client).NextSeq)
	assert.Equal(t, uint32(5001), sess.Half(Server).NextSeq)
}

func TestDataAfterHandshakeReassemblesInOrder(t *testing.T) {
	sess := establishedSession(t, defaultConfig())
	now := time.Now()

	disp, err := Handle(sess, &Packet{
		Seq: 1001, Ack: 5001, Flags: FlagACK,
		Payload: mv("hello"), Dir: flow.ToServer, ChecksumValid: true,
	}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)

	msgs := sess.Half(Client).Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(1001), msgs[0].Offset)
	assert.Equal(t, "hello", msgs[0].Data.String())
	assert.Equal(t, uint32(1006), sess.Half(Client).NextSeq)
}

func TestSequenceBeforeISNRejectedAsDetectionEvasion(t *testing.T) {
	sess := establishedSession(t, defaultConfig())
	now := time.Now()

	disp, err := Handle(sess, &Packet{
		Seq: 500, Ack: 5001, Flags: FlagACK, Dir: flow.ToServer, ChecksumValid: true,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, Reject, disp)
	assert.True(t, sess.DetectionEvasionSuspected)
}

func TestFinHandshakeTransitionsThroughCloseStates(t *testing.T) {
	sess := establishedSession(t, defaultConfig())
	now := time.Now()

	disp, err := Handle(sess, &Packet{Seq: 1001, Ack: 5001, Flags: FlagACK | FlagFIN, Dir: flow.ToServer, ChecksumValid: true}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)
	require.Equal(t, StateCloseWait, sess.State)

	disp, err = Handle(sess, &Packet{Seq: 5001, Ack: 1001, Flags: FlagACK | FlagFIN, Dir: flow.ToClient, ChecksumValid: true}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)
	require.Equal(t, StateLastAck, sess.State)

	disp, err = Handle(sess, &Packet{Seq: 1001, Ack: 5001, Flags: FlagACK, Dir: flow.ToServer, ChecksumValid: true}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)
	assert.Equal(t, StateClosed, sess.State)
}

func TestRSTDefaultPolicyRequiresExactNextSeq(t *testing.T) {
	sess := establishedSession(t, defaultConfig())
	now := time.Now()

	disp, err := Handle(sess, &Packet{Seq: 9999, Flags: FlagRST, Dir: flow.ToClient, ChecksumValid: true}, now)
	require.NoError(t, err)
	assert.Equal(t, Reject, disp)
	assert.Equal(t, StateEstablished, sess.State)

	disp, err = Handle(sess, &Packet{Seq: 5001, Flags: FlagRST, Dir: flow.ToClient, ChecksumValid: true}, now)
	require.NoError(t, err)
	assert.Equal(t, Accept, disp)
	assert.Equal(t, StateClosed, sess.State)
}

func TestMidstreamAckWithPayloadEstablishesSession(t *testing.T) {
	cfg := &Config{DefaultOSPolicy: ospolicy.Default, Midstream: true}
	sess := NewSession(cfg, net.ParseIP("10.0.0.2"))
	now := time.Now()

	disp, err := Handle(sess, &Packet{
		Seq: 2000, Ack: 3000, Flags: FlagACK,
		Payload: mv("data"), Dir: flow.ToServer, ChecksumValid: true,
	}, now)
	require.NoError(t, err)
	require.Equal(t, Accept, disp)
	assert.Equal(t, StateEstablished, sess.State)
	assert.True(t, sess.Midstream)
	assert.True(t, sess.MidstreamEstablished)

	msgs := sess.Half(Client).Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(2000), msgs[0].Offset)
	assert.Equal(t, "data", msgs[0].Data.String())
}

func TestChecksumValidationRejectsInvalidChecksum(t *testing.T) {
	cfg := &Config{DefaultOSPolicy: ospolicy.Default, ChecksumValidation: true}
	sess := NewSession(cfg, net.ParseIP("10.0.0.2"))
	now := time.Now()

	disp, err := Handle(sess, &Packet{Seq: 1000, Flags: FlagSYN, Dir: flow.ToServer, ChecksumValid: false}, now)
	require.NoError(t, err)
	assert.Equal(t, Reject, disp)
	assert.Equal(t, StateNone, sess.State)
}

func TestTimeoutClassTracksSessionState(t *testing.T) {
	sess := NewSession(defaultConfig(), net.ParseIP("10.0.0.2"))
	assert.Equal(t, flow.TimeoutNew, sess.TimeoutClass())

	sess = establishedSession(t, defaultConfig())
	assert.Equal(t, flow.TimeoutEstablished, sess.TimeoutClass())

	now := time.Now()
	Handle(sess, &Packet{Seq: 5001, Flags: FlagRST, Dir: flow.ToClient, ChecksumValid: true}, now)
	assert.Equal(t, StateClosed, sess.State)
	assert.Equal(t, flow.TimeoutClosed, sess.TimeoutClass())
}
