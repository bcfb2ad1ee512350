package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/7788ken/multi-agent-discussion/agent"
	"github.com/7788ken/multi-agent-discussion/discussion"
)

var (
	flagAgents  string
	flagWorkdir string

	createCmd = &cobra.Command{
		Use:   "create <topic>",
		Short: "Start a new discussion",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			participants := splitAgents(flagAgents)
			if len(participants) < 2 {
				return fmt.Errorf("need at least two participants, got %v", participants)
			}
			var ctx map[string]string
			if flagWorkdir != "" {
				ctx = map[string]string{discussion.ContextWorkingDir: flagWorkdir}
			}
			id, _, err := st.Create(args[0], participants, ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Created discussion %s\n", id)
			fmt.Printf("Participants: %s\n", strings.Join(participants, ", "))
			fmt.Printf("Log: %s\n", filepath.Join(st.BaseDir(), id+".jsonl"))
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List discussions in the base directory",
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			sts, err := st.List()
			if err != nil {
				return err
			}
			if len(sts) == 0 {
				fmt.Println("No discussions found.")
				return nil
			}
			fmt.Printf("%-24s %-8s %-6s %-20s %s\n", "ID", "STATE", "ROUND", "PARTICIPANTS", "TOPIC")
			for _, s := range sts {
				state := "active"
				if !s.Active {
					state = "ended"
				}
				fmt.Printf("%-24s %-8s %-6d %-20s %s\n",
					s.ID, state, s.Round, strings.Join(s.Participants, ","), s.Topic)
			}
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status <id>",
		Short: "Show one discussion's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			s, err := st.Status(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ID:           %s\n", s.ID)
			fmt.Printf("Topic:        %s\n", s.Topic)
			fmt.Printf("Participants: %s\n", strings.Join(s.Participants, ", "))
			if wd := s.WorkingDir(); wd != "" {
				fmt.Printf("Working dir:  %s\n", wd)
			}
			if s.Active {
				fmt.Printf("State:        active (round %d)\n", s.Round)
			} else {
				fmt.Printf("State:        ended after round %d\n", s.Round)
				fmt.Printf("Decision:     %s\n", s.Decision)
				fmt.Printf("Consensus:    %v\n", s.Consensus)
			}
			fmt.Printf("Messages:     %d\n", s.MessageCount)
			if !s.LastActivity.IsZero() {
				fmt.Printf("Last update:  %s\n", s.LastActivity.Format(time.RFC3339))
			}
			return nil
		},
	}

	showCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Print the full transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			msgs, err := st.Read(args[0])
			if err != nil {
				return err
			}
			if msgs == nil {
				return fmt.Errorf("discussion %s: %w", args[0], discussion.ErrNotFound)
			}
			for _, m := range msgs {
				printMessage(m)
			}
			return nil
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a discussion live until it ends or Ctrl+C",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			if !st.Exists(args[0]) {
				return fmt.Errorf("discussion %s: %w", args[0], discussion.ErrNotFound)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			stop := st.Watch(args[0], 2*time.Second, func(tail []discussion.Message) {
				for _, m := range tail {
					printMessage(m)
					if m.Type == discussion.TypeEnd {
						cancel()
					}
				}
			})
			defer stop()

			<-ctx.Done()
			return nil
		},
	}

	flagTarget string

	followupCmd = &cobra.Command{
		Use:   "followup <id> <text>",
		Short: "Ask a follow-up question, opening a new round",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			m, err := st.Append(context.Background(), args[0], discussion.NewFollowup(args[1], flagTarget))
			if err != nil {
				return err
			}
			if flagTarget != "" {
				fmt.Printf("Follow-up for %s appended as round %d\n", flagTarget, m.Round)
			} else {
				fmt.Printf("Follow-up appended as round %d\n", m.Round)
			}
			return nil
		},
	}

	flagConsensus bool

	endCmd = &cobra.Command{
		Use:   "end <id> <decision>",
		Short: "Close a discussion with a decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			if _, err := st.Append(context.Background(), args[0], discussion.NewEnd(args[1], flagConsensus)); err != nil {
				return err
			}
			fmt.Printf("Discussion %s ended.\n", args[0])
			return nil
		},
	}

	flagAs         string
	flagRound      int
	flagOpinion    string
	flagConfidence float64

	respondCmd = &cobra.Command{
		Use:   "respond <id> <text>",
		Short: "Append a response by hand (stance and confidence are parsed from the text unless given)",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			msgs, err := st.Read(args[0])
			if err != nil {
				return err
			}
			if msgs == nil {
				return fmt.Errorf("discussion %s: %w", args[0], discussion.ErrNotFound)
			}

			round := flagRound
			if round <= 0 {
				round = discussion.MaxResponseRound(discussion.Effective(msgs))
				if round == 0 {
					round = 1
				}
			}
			opinion := discussion.Opinion(flagOpinion)
			switch opinion {
			case "":
				opinion = agent.ParseOpinion(args[1])
			case discussion.OpinionAgree, discussion.OpinionDisagree,
				discussion.OpinionNeutral, discussion.OpinionAlternative:
			default:
				return fmt.Errorf("unknown opinion %q", flagOpinion)
			}
			confidence := flagConfidence
			if confidence == 0 {
				confidence = agent.ParseConfidence(args[1])
			}

			m, err := st.Append(context.Background(), args[0],
				discussion.NewResponse(flagAs, round, opinion, args[1], confidence))
			if err != nil {
				return err
			}
			fmt.Printf("Response appended (seq %d, round %d, %s %.2f)\n", m.Seq, m.Round, m.Opinion, m.Confidence)
			return nil
		},
	}
)

func init() {
	createCmd.Flags().StringVar(&flagAgents, "agents", "claude,codex", "comma-separated participant names")
	createCmd.Flags().StringVar(&flagWorkdir, "workdir", "", "working directory agents run their CLI in")
	followupCmd.Flags().StringVar(&flagTarget, "target", "", "address the follow-up to one participant only")
	endCmd.Flags().BoolVar(&flagConsensus, "consensus", false, "record that the participants reached consensus")
	respondCmd.Flags().StringVar(&flagAs, "as", discussion.FromUser, "identity to respond as")
	respondCmd.Flags().IntVar(&flagRound, "round", 0, "round to respond in (default: current round)")
	respondCmd.Flags().StringVar(&flagOpinion, "opinion", "", "stance: agree, disagree, neutral or alternative")
	respondCmd.Flags().Float64Var(&flagConfidence, "confidence", 0, "confidence in [0,1]")
}

func splitAgents(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printMessage renders one record the way a chat transcript reads.
func printMessage(m discussion.Message) {
	ts := m.Ts
	if t := m.Timestamp(); !t.IsZero() {
		ts = t.Local().Format("15:04:05")
	}
	switch m.Type {
	case discussion.TypeStart:
		fmt.Printf("[%s] ── %s (participants: %s)\n", ts, m.Topic, strings.Join(m.Participants, ", "))
	case discussion.TypeResponse:
		fmt.Printf("[%s] %s (round %d, %s %.2f):\n%s\n\n", ts, m.From, m.Round, m.Opinion, m.Confidence, strings.TrimSpace(m.Content))
	case discussion.TypeFollowup:
		target := ""
		if m.Target != "" {
			target = " → " + m.Target
		}
		fmt.Printf("[%s] %s follow-up%s (round %d): %s\n", ts, m.From, target, m.Round, m.Content)
	case discussion.TypeEnd:
		fmt.Printf("[%s] ── ended: %s (consensus: %v)\n", ts, m.Decision, m.Consensus)
	case discussion.TypeError:
		fmt.Printf("[%s] %s error (round %d): %s\n", ts, m.From, m.Round, m.Error)
	case discussion.TypeStatus:
		fmt.Printf("[%s] %s %s: %s\n", ts, m.From, m.Status, m.Content)
	default:
		fmt.Printf("[%s] %s %s\n", ts, m.From, m.Type)
	}
}
