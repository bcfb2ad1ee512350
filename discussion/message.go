package discussion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MessageType identifies the kind of record stored in a discussion log.
type MessageType string

const (
	// TypeStart opens a discussion; exactly one per log, always seq 1.
	TypeStart MessageType = "start"
	// TypeResponse is an agent's contribution to a round.
	TypeResponse MessageType = "response"
	// TypeFollowup is a user question that initiates a new round.
	TypeFollowup MessageType = "followup"
	// TypeEnd closes a discussion; records after it are ignored by readers.
	TypeEnd MessageType = "end"
	// TypeError reports a failed response attempt for a round.
	TypeError MessageType = "error"
	// TypeStatus reports transient agent state (thinking, retrying).
	TypeStatus MessageType = "status"
)

// Opinion is the stance an agent takes in a response.
type Opinion string

const (
	OpinionAgree       Opinion = "agree"
	OpinionDisagree    Opinion = "disagree"
	OpinionNeutral     Opinion = "neutral"
	OpinionAlternative Opinion = "alternative"
)

// StatusKind is the payload of a status record.
type StatusKind string

const (
	StatusThinking StatusKind = "thinking"
	StatusRetrying StatusKind = "retrying"
)

// FromUser is the sender identity of human-authored records.
const FromUser = "user"

// ContextWorkingDir is the recognized context key carrying the working
// directory agents should run their CLI in.
const ContextWorkingDir = "workingDir"

// Message is one record of a discussion log. A record is serialized as a
// single JSON object on its own line; only the fields relevant to its type
// are populated.
type Message struct {
	Seq  int64       `json:"seq"`
	Ts   string      `json:"ts"` // RFC 3339, UTC
	From string      `json:"from"`
	Type MessageType `json:"type"`

	// Round is set on response records, on followups (assigned at append
	// time when the caller leaves it zero), and on error/status records
	// emitted while serving a round.
	Round int `json:"round,omitempty"`

	// start payload
	Topic        string            `json:"topic,omitempty"`
	Participants []string          `json:"participants,omitempty"`
	Context      map[string]string `json:"context,omitempty"`

	// response payload
	Opinion    Opinion `json:"opinion,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// shared by response, followup and status
	Content string `json:"content,omitempty"`

	// followup payload; empty target means broadcast
	Target string `json:"target,omitempty"`

	// end payload
	Decision  string `json:"decision,omitempty"`
	Consensus bool   `json:"consensus,omitempty"`

	// error payload
	Error string `json:"error,omitempty"`

	// status payload
	Status StatusKind `json:"status,omitempty"`
}

// Timestamp returns the record time in UTC, or the zero time when ts does
// not parse.
func (m Message) Timestamp() time.Time {
	t, err := time.Parse(time.RFC3339, m.Ts)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// valid reports whether the record satisfies the minimal reader schema:
// a positive sequence number, a sender and a type.
func (m Message) valid() bool {
	return m.Seq >= 1 && m.From != "" && m.Type != ""
}

// EncodeLine serializes m as a single JSON line terminated by '\n'.
func EncodeLine(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message seq=%d: %w", m.Seq, err)
	}
	return append(b, '\n'), nil
}

// DecodeLine parses one log line into a Message.
func DecodeLine(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("decode message line: %w", err)
	}
	if !m.valid() {
		return Message{}, fmt.Errorf("decode message line: missing seq/from/type")
	}
	return m, nil
}

// Scanner buffer sizing. Agent responses can run long; a torn or oversized
// line must not abort the whole read.
const (
	scanInitialBuffer = 256 * 1024
	scanMaxBuffer     = 1024 * 1024
)

// DecodeAll reads every record from r in file order. Blank lines are
// skipped and malformed lines (torn writes included) are dropped without
// error; they never surface as messages. Records with an unknown type are
// preserved so callers can ignore them selectively.
func DecodeAll(r io.Reader) []Message {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanInitialBuffer), scanMaxBuffer)

	var msgs []Message
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		m, err := DecodeLine(line)
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	// Scanner errors (for example a line beyond the buffer cap) truncate the
	// tail; everything parsed so far is still returned.
	return msgs
}

// nowTs returns the current time in the log timestamp format.
func nowTs() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewStart builds the opening record of a discussion.
func NewStart(topic string, participants []string, context map[string]string) Message {
	return Message{
		From:         FromUser,
		Type:         TypeStart,
		Topic:        topic,
		Participants: participants,
		Context:      context,
	}
}

// NewResponse builds an agent response for round.
func NewResponse(from string, round int, opinion Opinion, content string, confidence float64) Message {
	return Message{
		From:       from,
		Type:       TypeResponse,
		Round:      round,
		Opinion:    opinion,
		Content:    content,
		Confidence: confidence,
	}
}

// NewFollowup builds a user follow-up. Target narrows the question to one
// agent; leave it empty to address every participant. The round is assigned
// at append time.
func NewFollowup(content, target string) Message {
	return Message{
		From:    FromUser,
		Type:    TypeFollowup,
		Content: content,
		Target:  target,
	}
}

// NewEnd builds the closing record.
func NewEnd(decision string, consensus bool) Message {
	return Message{
		From:      FromUser,
		Type:      TypeEnd,
		Decision:  decision,
		Consensus: consensus,
	}
}

// NewError builds an error record for a failed response attempt.
func NewError(from string, round int, errMsg string) Message {
	return Message{
		From:  from,
		Type:  TypeError,
		Round: round,
		Error: errMsg,
	}
}

// NewStatus builds a transient status record.
func NewStatus(from string, round int, kind StatusKind, content string) Message {
	return Message{
		From:    from,
		Type:    TypeStatus,
		Round:   round,
		Status:  kind,
		Content: content,
	}
}
