package agent

import (
	"fmt"
	"strings"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

// BuildPrompt renders the discussion for the external CLI: topic, cast,
// the full history in a stable textual form, and the output contract. The
// contract is restated on every turn because the CLI is stateless between
// invocations.
//
// BuildPrompt 为外部 CLI 渲染讨论内容：主题、参与者、完整历史与输出约定。
// CLI 在两次调用之间无状态，因此每一轮都要重申约定。
func BuildPrompt(self string, st discussion.Status, history []discussion.Message, round int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %q, one participant in a multi-round technical discussion between AI agents.\n\n", self)
	fmt.Fprintf(&b, "Topic: %s\n", st.Topic)
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(st.Participants, ", "))
	if wd := st.WorkingDir(); wd != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", wd)
	}
	if round > 1 {
		fmt.Fprintf(&b, "Current round: %d. Address what the others said in earlier rounds instead of repeating yourself.\n", round)
	}

	b.WriteString("\nDiscussion so far:\n")
	for _, m := range history {
		b.WriteString(renderMessage(m))
	}

	fmt.Fprintf(&b, `
Rules:
1. The first non-empty line of your output must be exactly: AGENT: %s
2. Speak only as %s. Never role-play, quote as if speaking, or answer for the other participants.
3. After the header, give your reasoning for round %d.
4. Declare your stance on its own line: opinion: agree|disagree|alternative|neutral
5. Declare how sure you are on its own line: confidence: <0.0-1.0>
`, self, self, round)

	return b.String()
}

// renderMessage formats one record for the prompt. The shape is stable so
// the CLI sees the same transcript every agent sees.
func renderMessage(m discussion.Message) string {
	switch m.Type {
	case discussion.TypeStart:
		return fmt.Sprintf("[%d] %s opened the discussion: %s\n", m.Seq, m.From, m.Topic)
	case discussion.TypeResponse:
		return fmt.Sprintf("[%d] %s (round %d, %s, confidence %.2f):\n%s\n", m.Seq, m.From, m.Round, m.Opinion, m.Confidence, indent(m.Content))
	case discussion.TypeFollowup:
		target := "all participants"
		if m.Target != "" {
			target = m.Target
		}
		return fmt.Sprintf("[%d] %s asked a follow-up (round %d, to %s): %s\n", m.Seq, m.From, m.Round, target, m.Content)
	case discussion.TypeEnd:
		return fmt.Sprintf("[%d] %s ended the discussion: %s\n", m.Seq, m.From, m.Decision)
	case discussion.TypeError:
		return fmt.Sprintf("[%d] %s failed in round %d: %s\n", m.Seq, m.From, m.Round, m.Error)
	case discussion.TypeStatus:
		// Transient agent chatter adds nothing to the argument.
		return ""
	default:
		return ""
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
