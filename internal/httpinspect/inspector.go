// Package httpinspect implements the Application Inspector (AI, spec.md
// §4.4): it feeds reassembled stream bytes to the HTTP transaction parser
// (treated as an external black-box library per spec.md §1's Non-goals) and
// exposes a growing transaction list with per-flow logged/inspected cursors.
package httpinspect

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/textproto"

	"github.com/pkg/errors"
)

// BodyChunk is one piece of a transaction's request or response body
// (spec.md §3: "request_body (list of chunks each with {data, len,
// stream_offset})"). StreamOffset is the absolute reassembly-stream offset
// at which the carrying request begins, not the offset of the body bytes.
type BodyChunk struct {
	Data         []byte
	StreamOffset uint64
}

// Transaction is one observed HTTP request/response pair (spec.md §3 "HTTP
// transaction (external)"). AI only ever appends to a State's transaction
// list; it never mutates an already-complete Transaction (spec.md §3
// invariant iv carries over to transactions built on top of stream bytes).
type Transaction struct {
	RequestURINormalized string
	RequestMethod        string
	RequestHeadersRaw    textproto.MIMEHeader
	Cookie               string
	RequestBody          []BodyChunk

	ResponseStatus   int
	ResponseLen      int
	ResponseHeaders  textproto.MIMEHeader
	ResponseProtocol string

	requestComplete  bool
	responseComplete bool
}

// Complete reports whether both halves of the transaction have been parsed
// (spec.md §4.4: AI advances its logged cursor up to "the loggable
// boundary", i.e. transactions whose response is done).
func (t *Transaction) Complete() bool { return t.requestComplete && t.responseComplete }

type direction struct {
	buf       bytes.Buffer
	bufOffset uint64 // absolute stream offset of buf's first byte
}

// State is one flow's AI state: the transaction list plus the two
// directions' accumulation buffers. The engine pipeline keeps it in its
// per-flow state, stored in Flow.Proto.
type State struct {
	Transactions []*Transaction

	toServer direction
	toClient direction

	lastReq *http.Request // needed by http.ReadResponse's stdlib signature
}

// NewState returns a fresh Application Inspector state for one flow.
func NewState() *State { return &State{} }

// FeedRequest appends reassembled client->server bytes and parses as many
// complete requests as are now available.
func (s *State) FeedRequest(offset uint64, data []byte) error {
	return s.feed(&s.toServer, offset, data, s.parseRequest)
}

// FeedResponse appends reassembled server->client bytes and parses as many
// complete responses as are now available.
func (s *State) FeedResponse(offset uint64, data []byte) error {
	return s.feed(&s.toClient, offset, data, s.parseResponse)
}

func (s *State) feed(d *direction, offset uint64, data []byte, parse func(*direction) (consumed int, done bool, err error)) error {
	if d.buf.Len() == 0 {
		d.bufOffset = offset
	}
	d.buf.Write(data)

	for {
		consumed, done, err := parse(d)
		if consumed > 0 {
			d.buf.Next(consumed)
			d.bufOffset += uint64(consumed)
		}
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
	}
}

// parseRequest attempts to read one HTTP request off d.buf. It returns
// consumed == 0, done == false when more data is needed.
func (s *State) parseRequest(d *direction) (consumed int, done bool, err error) {
	if d.buf.Len() == 0 {
		return 0, false, nil
	}
	br := bufio.NewReader(bytes.NewReader(d.buf.Bytes()))
	req, err := http.ReadRequest(br)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "parsing HTTP request")
	}

	var body bytes.Buffer
	if req.Body != nil {
		if _, err := io.Copy(&body, req.Body); err != nil {
			return 0, false, nil // incomplete body, wait for more bytes
		}
		req.Body.Close()
	}

	consumed = d.buf.Len() - br.Buffered()

	tx := &Transaction{
		RequestURINormalized: req.URL.RequestURI(),
		RequestMethod:        req.Method,
		RequestHeadersRaw:    textproto.MIMEHeader(req.Header),
		Cookie:               req.Header.Get("Cookie"),
		requestComplete:      true,
	}
	if body.Len() > 0 {
		tx.RequestBody = append(tx.RequestBody, BodyChunk{
			Data:         body.Bytes(),
			StreamOffset: d.bufOffset,
		})
	}
	s.Transactions = append(s.Transactions, tx)
	s.lastReq = req
	return consumed, true, nil
}

func (s *State) parseResponse(d *direction) (consumed int, done bool, err error) {
	if d.buf.Len() == 0 || s.lastReq == nil {
		return 0, false, nil
	}
	tx := s.pendingResponseTx()
	if tx == nil {
		return 0, false, nil
	}

	br := bufio.NewReader(bytes.NewReader(d.buf.Bytes()))
	resp, err := http.ReadResponse(br, s.lastReq)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "parsing HTTP response")
	}
	respLen := 0
	if resp.Body != nil {
		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return 0, false, nil
		}
		respLen = int(n)
		resp.Body.Close()
	}

	consumed = d.buf.Len() - br.Buffered()
	tx.ResponseStatus = resp.StatusCode
	tx.ResponseLen = respLen
	tx.ResponseHeaders = textproto.MIMEHeader(resp.Header)
	tx.ResponseProtocol = resp.Proto
	tx.responseComplete = true
	return consumed, true, nil
}

// pendingResponseTx returns the oldest transaction whose response has not
// yet been parsed.
func (s *State) pendingResponseTx() *Transaction {
	for _, tx := range s.Transactions {
		if tx.requestComplete && !tx.responseComplete {
			return tx
		}
	}
	return nil
}
