package agent

import (
	"strings"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

// Candidate is a response the agent believes it owes: the round to answer
// in and the record that prompted it.
type Candidate struct {
	Round   int
	Trigger discussion.Message
}

func (r *Runtime) decideTurn(msgs []discussion.Message) *Candidate {
	return decideTurn(r.cfg.Name, msgs, r.cfg.MaxRounds)
}

// decideTurn 基于讨论日志判定本代理是否轮到发言：
// 追问优先，其次补交当前轮，最后在全员到齐时推进下一轮。
// 任何分支都受 maxRounds 上限约束。
//
// decideTurn decides whether the agent owes a response, evaluated on the
// effective sequence (nothing after an end record). The checks, in order:
//
//  1. No start, or the agent is not a participant: no turn.
//  2. Ended: no turn.
//  3. Latest followup targeted at another agent: no turn at all, the
//     asker wants a specific voice.
//  4. Latest followup broadcast or targeted at us, round not yet answered
//     by us: answer it.
//  5. No responses yet: open round 1.
//  6. Current round missing our response while everyone else (or all but
//     one participant) has spoken: catch up.
//  7. Current round complete including us: advance to the next round.
//  8. Otherwise wait.
//
// Every branch refuses rounds beyond maxRounds, so the final round can
// complete but never spill over.
func decideTurn(self string, msgs []discussion.Message, maxRounds int) *Candidate {
	var start *discussion.Message
	for i := range msgs {
		if msgs[i].Type == discussion.TypeStart {
			start = &msgs[i]
			break
		}
	}
	if start == nil {
		return nil
	}
	participants := start.Participants
	if !containsFold(participants, self) {
		return nil
	}
	if discussion.HasEnd(msgs) {
		return nil
	}

	highest := discussion.MaxResponseRound(msgs)

	if f, ok := discussion.LatestFollowup(msgs); ok {
		if f.Target != "" && !strings.EqualFold(f.Target, self) {
			return nil
		}
		round := f.Round
		if round == 0 {
			round = highest + 1
		}
		if round <= maxRounds && !discussion.RespondedIn(msgs, self, round) {
			return &Candidate{Round: round, Trigger: f}
		}
	}

	if highest == 0 {
		if maxRounds < 1 {
			return nil
		}
		return &Candidate{Round: 1, Trigger: *start}
	}
	if highest > maxRounds {
		return nil
	}

	responses := discussion.ResponsesInRound(msgs, highest)
	trigger := responses[len(responses)-1]

	if !discussion.RespondedIn(msgs, self, highest) {
		others := distinctResponders(responses, self)
		if others >= len(participants)-1 {
			return &Candidate{Round: highest, Trigger: trigger}
		}
		return nil
	}

	if distinctResponders(responses, "") >= len(participants) && highest+1 <= maxRounds {
		return &Candidate{Round: highest + 1, Trigger: trigger}
	}
	return nil
}

// distinctResponders counts distinct senders among responses, skipping
// exclude when non-empty.
func distinctResponders(responses []discussion.Message, exclude string) int {
	seen := make(map[string]bool, len(responses))
	for _, m := range responses {
		if exclude != "" && strings.EqualFold(m.From, exclude) {
			continue
		}
		seen[strings.ToLower(m.From)] = true
	}
	return len(seen)
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
