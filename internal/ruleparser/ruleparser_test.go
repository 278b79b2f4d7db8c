package ruleparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hillu/suricata-sub000/internal/detect"
)

func TestParseBasicRuleHeaderAndBookkeeping(t *testing.T) {
	sig, err := Parse(`alert tcp any any -> 10.0.0.0/24 80 (msg:"test rule"; sid:1001; rev:3; classtype:web-application-attack; priority:2;)`)
	require.NoError(t, err)

	assert.Equal(t, detect.ActionAlert, sig.Action)
	assert.Equal(t, "tcp", sig.Proto)
	assert.Nil(t, sig.Tuple.SrcNets)
	assert.True(t, sig.Tuple.SrcPort.Any)
	assert.Equal(t, []string{"10.0.0.0/24"}, sig.Tuple.DstNets)
	assert.Equal(t, []int{80}, sig.Tuple.DstPort.Ports)
	assert.Equal(t, "test rule", sig.Msg)
	assert.Equal(t, uint32(1001), sig.ID)
	assert.Equal(t, uint32(3), sig.Rev)
	assert.Equal(t, "web-application-attack", sig.Classtype)
	assert.Equal(t, 2, sig.Priority)
}

func TestParseRejectsMalformedHeader(t *testing.T) {
	_, err := Parse(`not a rule`)
	assert.Error(t, err)
}

func TestParseRejectsUnknownAction(t *testing.T) {
	_, err := Parse(`bogus tcp any any -> any any (sid:1;)`)
	assert.Error(t, err)
}

func TestParseContentWithHttpUriAndNoCase(t *testing.T) {
	sig, err := Parse(`alert tcp any any -> any any (content:"/secret"; http_uri; nocase; sid:1;)`)
	require.NoError(t, err)
	require.Len(t, sig.Predicates, 1)
	cp := sig.Predicates[0].Content
	require.NotNil(t, cp)
	assert.Equal(t, "/secret", string(cp.Bytes))
	assert.Equal(t, detect.BufferURI, cp.Buffer)
	assert.True(t, cp.Flags.Has(detect.FlagNoCase))
}

func TestParseNegatedContent(t *testing.T) {
	sig, err := Parse(`alert tcp any any -> any any (content:"!blocked"; sid:1;)`)
	require.NoError(t, err)
	cp := sig.Predicates[0].Content
	assert.Equal(t, "blocked", string(cp.Bytes))
	assert.True(t, cp.Flags.Has(detect.FlagNegated))
}

func TestParseDistanceMarksPreviousContentRelative(t *testing.T) {
	sig, err := Parse(`alert tcp any any -> any any (content:"foo"; content:"bar"; distance:0; within:3; sid:1;)`)
	require.NoError(t, err)
	require.Len(t, sig.Predicates, 2)

	foo := sig.Predicates[0].Content
	bar := sig.Predicates[1].Content
	assert.True(t, foo.Flags.Has(detect.FlagRelativeNext), "distance/within on the second content marks the first RELATIVE_NEXT")
	assert.True(t, bar.Flags.Has(detect.FlagDistance))
	assert.True(t, bar.Flags.Has(detect.FlagWithin))
	assert.Equal(t, 3, bar.Within)
}

func TestParseUrilenVariants(t *testing.T) {
	cases := map[string]struct {
		mode detect.UrilenMode
		l1   int
		l2   int
	}{
		`urilen:10;`:     {detect.UrilenEQ, 10, 0},
		`urilen:<10;`:    {detect.UrilenLT, 10, 0},
		`urilen:>10;`:    {detect.UrilenGT, 10, 0},
		`urilen:3<>20;`:  {detect.UrilenRange, 3, 20},
	}
	for opt, want := range cases {
		sig, err := Parse(`alert tcp any any -> any any (` + opt + ` sid:1;)`)
		require.NoError(t, err, opt)
		require.Len(t, sig.Predicates, 1, opt)
		up := sig.Predicates[0].Urilen
		require.NotNil(t, up, opt)
		assert.Equal(t, want.mode, up.Mode, opt)
		assert.Equal(t, want.l1, up.Len1, opt)
		assert.Equal(t, want.l2, up.Len2, opt)
	}
}

func TestParsePcreFlagsSelectBufferAndOptions(t *testing.T) {
	sig, err := Parse(`alert tcp any any -> any any (pcre:"/id=(\d+)/U"; sid:1;)`)
	require.NoError(t, err)
	pp := sig.Predicates[0].Pcre
	require.NotNil(t, pp)
	assert.Equal(t, detect.BufferURI, pp.Buffer)
	assert.True(t, pp.Regex.MatchString("id=42"))
}

func TestParsePcreRejectsMalformedValue(t *testing.T) {
	_, err := Parse(`alert tcp any any -> any any (pcre:"no-delimiters"; sid:1;)`)
	assert.Error(t, err)
}

func TestEncodeThenParseRoundTripsContentPredicate(t *testing.T) {
	sig, err := Parse(`alert tcp any any -> any 80 (msg:"roundtrip"; content:"foo"; content:"bar"; distance:0; within:3; http_uri; sid:42; rev:7; classtype:trojan-activity; priority:1;)`)
	require.NoError(t, err)

	encoded := Encode(sig)
	sig2, err := Parse(encoded)
	require.NoError(t, err, encoded)

	assert.Equal(t, sig.Action, sig2.Action)
	assert.Equal(t, sig.Proto, sig2.Proto)
	assert.Equal(t, sig.Msg, sig2.Msg)
	assert.Equal(t, sig.ID, sig2.ID)
	assert.Equal(t, sig.Rev, sig2.Rev)
	assert.Equal(t, sig.Classtype, sig2.Classtype)
	assert.Equal(t, sig.Priority, sig2.Priority)
	require.Len(t, sig2.Predicates, 2)
	assert.Equal(t, string(sig.Predicates[0].Content.Bytes), string(sig2.Predicates[0].Content.Bytes))
	assert.Equal(t, sig.Predicates[0].Content.Flags.Has(detect.FlagRelativeNext), sig2.Predicates[0].Content.Flags.Has(detect.FlagRelativeNext))
	assert.Equal(t, sig.Predicates[1].Content.Within, sig2.Predicates[1].Content.Within)
	assert.Equal(t, detect.BufferURI, sig2.Predicates[1].Content.Buffer)
}

func TestEncodeThenParseRoundTripsUrilenAndPcre(t *testing.T) {
	sig, err := Parse(`alert tcp any any -> any any (urilen:3<>20; pcre:"/^GET/"; sid:5; rev:1;)`)
	require.NoError(t, err)

	sig2, err := Parse(Encode(sig))
	require.NoError(t, err)
	require.Len(t, sig2.Predicates, 2)
	assert.Equal(t, detect.UrilenRange, sig2.Predicates[0].Urilen.Mode)
	assert.Equal(t, 3, sig2.Predicates[0].Urilen.Len1)
	assert.Equal(t, 20, sig2.Predicates[0].Urilen.Len2)
	assert.True(t, sig2.Predicates[1].Pcre.Regex.MatchString("GETxyz"))
}
