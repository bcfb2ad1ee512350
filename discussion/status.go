package discussion

import "time"

// Status is the summary derived from a discussion's message sequence.
// Everything here is recomputed from the log on demand; nothing is stored.
type Status struct {
	ID           string
	Topic        string
	Participants []string
	Context      map[string]string

	// Active stays true until the first end record.
	Active    bool
	Decision  string
	Consensus bool

	// Round is the highest round any response has reached, 0 before the
	// first response.
	Round int

	StartedAt    time.Time
	EndedAt      time.Time
	LastSeq      int64
	LastActivity time.Time
	MessageCount int
}

// WorkingDir returns the workingDir context option, if set.
func (st Status) WorkingDir() string {
	if st.Context == nil {
		return ""
	}
	return st.Context[ContextWorkingDir]
}

// HasParticipant reports whether name is one of the discussion participants
// (exact match; participant names are canonical).
func (st Status) HasParticipant(name string) bool {
	for _, p := range st.Participants {
		if p == name {
			return true
		}
	}
	return false
}

// DeriveStatus computes the summary for one discussion. Records after the
// first end are ignored for the status fields, though they still count
// toward LastSeq and LastActivity.
func DeriveStatus(id string, msgs []Message) Status {
	st := Status{ID: id, Active: true}
	if len(msgs) == 0 {
		return st
	}

	for _, m := range Effective(msgs) {
		switch m.Type {
		case TypeStart:
			st.Topic = m.Topic
			st.Participants = m.Participants
			st.Context = m.Context
			st.StartedAt = m.Timestamp()
		case TypeResponse:
			if m.Round > st.Round {
				st.Round = m.Round
			}
		case TypeEnd:
			st.Active = false
			st.Decision = m.Decision
			st.Consensus = m.Consensus
			st.EndedAt = m.Timestamp()
		}
	}

	last := msgs[len(msgs)-1]
	st.LastSeq = last.Seq
	st.LastActivity = last.Timestamp()
	st.MessageCount = len(msgs)
	return st
}

// Effective truncates the sequence at the first end record (inclusive).
// Readers treat anything appended after an end as noise.
func Effective(msgs []Message) []Message {
	for i, m := range msgs {
		if m.Type == TypeEnd {
			return msgs[:i+1]
		}
	}
	return msgs
}

// HasEnd reports whether the sequence contains an end record.
func HasEnd(msgs []Message) bool {
	for _, m := range msgs {
		if m.Type == TypeEnd {
			return true
		}
	}
	return false
}

// MaxResponseRound returns the highest round carried by any response
// record, 0 when no responses exist.
func MaxResponseRound(msgs []Message) int {
	max := 0
	for _, m := range msgs {
		if m.Type == TypeResponse && m.Round > max {
			max = m.Round
		}
	}
	return max
}

// ResponsesInRound returns the response records of one round in file order.
func ResponsesInRound(msgs []Message, round int) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Type == TypeResponse && m.Round == round {
			out = append(out, m)
		}
	}
	return out
}

// RespondedIn reports whether from has a response in the given round.
func RespondedIn(msgs []Message, from string, round int) bool {
	for _, m := range msgs {
		if m.Type == TypeResponse && m.Round == round && m.From == from {
			return true
		}
	}
	return false
}

// LatestFollowup returns the most recent followup record, if any.
func LatestFollowup(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == TypeFollowup {
			return msgs[i], true
		}
	}
	return Message{}, false
}
