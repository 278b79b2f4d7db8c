package cfg

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hillu/suricata-sub000/internal/ospolicy"
)

func TestDefaultsAreBoundOnInit(t *testing.T) {
	assert.Equal(t, 262144, MaxSessions())
	assert.Equal(t, 1024, PreallocSessions())
	assert.Equal(t, int64(64*1024*1024), StreamMemcap())
	assert.Equal(t, int64(256*1024*1024), ReassemblyMemcap())
	assert.True(t, StreamConfig().ChecksumValidation)
	assert.Equal(t, "tcp", BPFFilter())
	assert.Equal(t, 3500, PcreMatchLimit())
	assert.Equal(t, 1500, PcreMatchLimitRecursion())
}

func TestStreamConfigReflectsBoundSettings(t *testing.T) {
	settings.Set("stream.midstream", true)
	settings.Set("stream.async_oneside", true)
	settings.Set("stream.reassembly.depth", 1<<20)
	defer func() {
		settings.Set("stream.midstream", false)
		settings.Set("stream.async_oneside", false)
		settings.Set("stream.reassembly.depth", 0)
	}()

	sc := StreamConfig()
	assert.True(t, sc.Midstream)
	assert.True(t, sc.AsyncOneSide)
	assert.Equal(t, 1<<20, sc.ReassemblyDepth)
}

func TestOSPolicyTableParsesCIDRListsByPolicyName(t *testing.T) {
	settings.Set("host-os-policy", map[string]interface{}{
		"windows": []interface{}{"10.0.0.0/24"},
		"linux":   []interface{}{"10.0.1.0/24", "10.0.2.0/24"},
		"bogus":   []interface{}{"10.0.3.0/24"},
	})
	defer settings.Set("host-os-policy", nil)

	table := OSPolicyTable()
	require := assert.New(t)
	require.Equal(ospolicy.Windows, table.Lookup(net.ParseIP("10.0.0.5")))
	require.Equal(ospolicy.Linux, table.Lookup(net.ParseIP("10.0.1.5")))
	require.Equal(ospolicy.Linux, table.Lookup(net.ParseIP("10.0.2.5")))
	require.Equal(ospolicy.Default, table.Lookup(net.ParseIP("10.0.3.5")), "unrecognized policy names are ignored")
	require.Equal(ospolicy.Default, table.Lookup(net.ParseIP("192.168.0.1")), "addresses outside all listed CIDRs fall back to the default policy")
}
