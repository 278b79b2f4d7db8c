package alertlog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFormatsLineWithoutRedirect(t *testing.T) {
	e := Entry{
		Timestamp: time.Date(2026, 7, 31, 12, 34, 56, 789000000, time.UTC),
		Hostname:  "sensor1",
		URI:       "/index.html",
		UserAgent: "curl/8.0",
		Referer:   "-",
		Method:    "GET",
		Protocol:  "HTTP/1.1",
		Status:    200, ResponseLen: 1234,
		SrcIP: "10.0.0.1", SrcPort: 51515,
		DstIP: "10.0.0.2", DstPort: 80,
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, e))

	want := "07/31/2026-12:34:56.789000 sensor1 [**] /index.html [**] curl/8.0 [**] - [**] GET [**] HTTP/1.1 [**] 200 [**] 1234 bytes [**] 10.0.0.1:51515 -> 10.0.0.2:80\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteAppendsRedirectClauseWhenSet(t *testing.T) {
	e := Entry{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Hostname:  "sensor1",
		URI:       "/old", Method: "GET", Protocol: "HTTP/1.1",
		Status: 301, Redirect: "/new", ResponseLen: 0,
		SrcIP: "10.0.0.1", SrcPort: 1, DstIP: "10.0.0.2", DstPort: 80,
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, e))
	assert.Contains(t, buf.String(), "301 => /new [**] 0 bytes")
}
