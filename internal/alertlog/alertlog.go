// Package alertlog writes the one line-oriented alert log format spec.md §6
// "Alert output" specifies. It is deliberately narrow: log formatters in
// general are a Non-goal (spec.md §1), but this one format is the explicit
// external interface the Detection Engine's output feeds.
package alertlog

import (
	"fmt"
	"io"
	"time"
)

// timeLayout matches spec.md §6's "mm/dd/yyyy-HH:MM:SS.uuuuuu".
const timeLayout = "01/02/2006-15:04:05.000000"

// Entry is everything one alert line needs (spec.md §6's line grammar).
type Entry struct {
	Timestamp   time.Time
	Hostname    string
	URI         string
	UserAgent   string
	Referer     string
	Method      string
	Protocol    string
	Status      int
	Redirect    string // empty when there is no "=> redirect" clause
	ResponseLen int
	SrcIP       string
	SrcPort     int
	DstIP       string
	DstPort     int
}

// Write formats e per spec.md §6 and writes it, newline-terminated, to w.
func Write(w io.Writer, e Entry) error {
	redirect := ""
	if e.Redirect != "" {
		redirect = " => " + e.Redirect
	}
	_, err := fmt.Fprintf(w, "%s %s [**] %s [**] %s [**] %s [**] %s [**] %s [**] %d%s [**] %d bytes [**] %s:%d -> %s:%d\n",
		e.Timestamp.Format(timeLayout), e.Hostname,
		e.URI, e.UserAgent, e.Referer, e.Method, e.Protocol,
		e.Status, redirect, e.ResponseLen,
		e.SrcIP, e.SrcPort, e.DstIP, e.DstPort)
	return err
}
