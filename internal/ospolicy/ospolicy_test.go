package ospolicy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAliases(t *testing.T) {
	assert.Equal(t, BSD, Normalize(BSDRight))
	assert.Equal(t, Solaris, Normalize(OldSolaris))
	assert.Equal(t, Linux, Normalize(Linux))
}

func TestTableLookupLongestPrefixMatch(t *testing.T) {
	table := NewTable(map[Policy][]string{
		Windows: {"10.0.0.0/8"},
		Linux:   {"10.0.1.0/24"},
	}, Default)

	assert.Equal(t, Linux, table.Lookup(net.ParseIP("10.0.1.5")))
	assert.Equal(t, Windows, table.Lookup(net.ParseIP("10.0.2.5")))
	assert.Equal(t, Default, table.Lookup(net.ParseIP("192.168.1.1")))
}

func TestTableLookupNormalizesConfiguredAliases(t *testing.T) {
	table := NewTable(map[Policy][]string{
		BSDRight: {"172.16.0.0/16"},
	}, Default)
	assert.Equal(t, BSD, table.Lookup(net.ParseIP("172.16.5.5")))
}

func TestTableLookupNilTableReturnsDefault(t *testing.T) {
	var table *Table
	assert.Equal(t, Default, table.Lookup(net.ParseIP("1.2.3.4")))
}

func TestTableLookupSkipsMalformedCIDR(t *testing.T) {
	table := NewTable(map[Policy][]string{
		Linux: {"not-a-cidr"},
	}, MacOS)
	assert.Equal(t, MacOS, table.Lookup(net.ParseIP("10.0.0.1")))
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "windows", Windows.String())
	assert.Equal(t, "default", Default.String())
}
