// Package sse frames and interprets the assistant's server-sent event
// stream. Records are cut at the earliest blank line, LF/LF or CRLF/CRLF,
// and a trailing unterminated record is still dispatched at EOF so a
// connection dropped mid-stream loses as little as possible.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Event names the assistant emits.
const (
	EventMessage   = "message"
	EventToken     = "token"
	EventAssistant = "assistant"
	EventState     = "state"
	EventDone      = "done"
	EventError     = "error"
)

// Event is one decoded SSE record. Data carries all data lines of the
// record joined with newlines.
type Event struct {
	Name string
	Data string
}

// TokenPayload is an incremental chunk of assistant text.
type TokenPayload struct {
	Content string `json:"content"`
}

// AssistantPayload replaces everything streamed so far.
type AssistantPayload struct {
	Content string `json:"content"`
}

// MemberPayload is the wire shape of one family member.
type MemberPayload struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// StatePayload is a slot snapshot pushed by the assistant mid-stream.
type StatePayload struct {
	FamilyName string          `json:"family_name"`
	Members    []MemberPayload `json:"members"`
	Rooms      []string        `json:"rooms"`
	NextStep   string          `json:"next_step"`
}

// DonePayload closes an assistant turn.
type DonePayload struct {
	NextStep string `json:"next_step"`
}

// ErrorPayload reports a server-side failure mid-stream.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StreamError is returned by Collect when the stream carried an explicit
// error event.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "assistant stream reported an error"
	}
	return "assistant stream error: " + e.Message
}

var (
	delimLF   = []byte("\n\n")
	delimCRLF = []byte("\r\n\r\n")
)

// splitRecords is a bufio.SplitFunc cutting the stream into SSE records.
func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if start, width := earliestDelim(data); start >= 0 {
		return start + width, data[:start], nil
	}
	if atEOF && len(data) > 0 {
		// Unterminated trailing record.
		return len(data), data, nil
	}
	return 0, nil, nil
}

func earliestDelim(data []byte) (start, width int) {
	lf := bytes.Index(data, delimLF)
	crlf := bytes.Index(data, delimCRLF)
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, len(delimCRLF)
	case lf >= 0:
		return lf, len(delimLF)
	default:
		return -1, 0
	}
}

// Decoder reads events off a stream one record at a time.
type Decoder struct {
	s *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), 1<<20)
	s.Split(splitRecords)
	return &Decoder{s: s}
}

// Next returns the next dispatchable event. Comment-only heartbeat records
// are skipped. io.EOF signals a cleanly drained stream.
func (d *Decoder) Next() (Event, error) {
	for d.s.Scan() {
		if ev, ok := parseRecord(d.s.Text()); ok {
			return ev, nil
		}
	}
	if err := d.s.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// parseRecord splits one record into its event name and joined data lines.
// The second return is false for records carrying neither, such as keepalive
// comments.
func parseRecord(rec string) (Event, bool) {
	ev := Event{Name: EventMessage}
	named := false
	var data []string
	hasData := false
	for _, line := range strings.Split(rec, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			named = true
		case strings.HasPrefix(line, "data:"):
			// The SSE spec strips at most one leading space.
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			hasData = true
		}
	}
	ev.Data = strings.Join(data, "\n")
	return ev, named || hasData
}

// Result is everything one drained stream produced. HasContent is true only
// when some token carried non-whitespace text or an assistant event arrived,
// which is the signal that separates a usable reply from a stall.
type Result struct {
	Text       string
	HasContent bool
	Completed  bool
	NextStep   string
	State      *StatePayload
}

// Sink receives events as they decode, for live re-emission to a client.
// OnToken gets both the delta and the running accumulator so callers can
// re-emit increments or render partial text without keeping their own copy.
// Any callback may be nil.
type Sink struct {
	OnToken     func(delta, total string)
	OnAssistant func(content string)
	OnState     func(st StatePayload)
	OnDone      func(d DonePayload)
}

func (s *Sink) token(delta, total string) {
	if s != nil && s.OnToken != nil {
		s.OnToken(delta, total)
	}
}

func (s *Sink) assistant(c string) {
	if s != nil && s.OnAssistant != nil {
		s.OnAssistant(c)
	}
}

func (s *Sink) state(st StatePayload) {
	if s != nil && s.OnState != nil {
		s.OnState(st)
	}
}

func (s *Sink) done(d DonePayload) {
	if s != nil && s.OnDone != nil {
		s.OnDone(d)
	}
}

// Collect drains an assistant stream. Token events append, assistant events
// replace, state events snapshot slots, and done marks the turn completed
// and merges its next step. An error event aborts the drain with a
// StreamError.
func Collect(r io.Reader, sink *Sink) (*Result, error) {
	d := NewDecoder(r)
	var b strings.Builder
	res := &Result{}
	for {
		ev, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read assistant stream")
		}

		switch ev.Name {
		case EventToken, EventMessage:
			c := contentFromData(ev.Data)
			b.WriteString(c)
			if strings.TrimSpace(c) != "" {
				res.HasContent = true
			}
			sink.token(c, b.String())
		case EventAssistant:
			c := contentFromData(ev.Data)
			b.Reset()
			b.WriteString(c)
			res.HasContent = true
			sink.assistant(c)
		case EventState:
			var st StatePayload
			if err := json.Unmarshal([]byte(ev.Data), &st); err != nil {
				continue
			}
			res.State = &st
			if st.NextStep != "" {
				res.NextStep = st.NextStep
			}
			sink.state(st)
		case EventDone:
			res.Completed = true
			var dp DonePayload
			if step := nextStepFromData(ev.Data); step != "" {
				res.NextStep = step
				dp.NextStep = step
			}
			sink.done(dp)
		case EventError:
			return nil, &StreamError{Message: messageFromData(ev.Data)}
		}
	}
	res.Text = b.String()
	return res, nil
}

// contentFromData accepts {"content":"..."} payloads, bare JSON strings, and
// raw text, in that order.
func contentFromData(data string) string {
	var p TokenPayload
	if err := json.Unmarshal([]byte(data), &p); err == nil {
		return p.Content
	}
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		return s
	}
	return data
}

func nextStepFromData(data string) string {
	var p DonePayload
	if err := json.Unmarshal([]byte(data), &p); err == nil {
		return p.NextStep
	}
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(data)
}

func messageFromData(data string) string {
	var p ErrorPayload
	if err := json.Unmarshal([]byte(data), &p); err == nil && p.Message != "" {
		return p.Message
	}
	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		return s
	}
	return data
}
