package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/7788ken/multi-agent-discussion/discussion"
	"github.com/7788ken/multi-agent-discussion/discussion/render"
	"github.com/7788ken/multi-agent-discussion/store"
)

var (
	flagHistTopic       string
	flagHistParticipant string
	flagHistConsensus   bool
	flagHistLimit       int

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List archived discussions from the daemon's archive database",
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := openArchive()
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only session
			if err := db.Migrate(context.Background()); err != nil {
				return err
			}

			find := &store.FindArchived{ConsensusOnly: flagHistConsensus}
			if flagHistTopic != "" {
				find.TopicContains = &flagHistTopic
			}
			if flagHistParticipant != "" {
				find.Participant = &flagHistParticipant
			}
			if flagHistLimit > 0 {
				find.Limit = &flagHistLimit
			}

			rows, err := db.ListArchived(context.Background(), find)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No archived discussions found.")
				return nil
			}
			fmt.Printf("%-24s %-20s %-7s %-10s %s\n", "ID", "ENDED", "ROUNDS", "CONSENSUS", "TOPIC")
			for _, row := range rows {
				ended := ""
				if row.EndedTs > 0 {
					ended = time.Unix(row.EndedTs, 0).Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-24s %-20s %-7d %-10v %s\n", row.ID, ended, row.Rounds, row.Consensus, row.Topic)
			}
			return nil
		},
	}

	flagExportHTML bool
	flagExportOut  string

	exportCmd = &cobra.Command{
		Use:   "export <id>",
		Short: "Render a discussion to markdown (or HTML) from its log",
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

			status := discussion.DeriveStatus(args[0], msgs)
			out := []byte(render.RenderMarkdown(status, discussion.Effective(msgs)))
			if flagExportHTML {
				if out, err = render.ExportHTML(out); err != nil {
					return err
				}
			}

			if flagExportOut == "" || flagExportOut == "-" {
				_, err = os.Stdout.Write(out)
				return err
			}
			if err := os.WriteFile(flagExportOut, out, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", flagExportOut)
			return nil
		},
	}
)

func init() {
	historyCmd.Flags().StringVar(&flagHistTopic, "topic", "", "filter by topic substring")
	historyCmd.Flags().StringVar(&flagHistParticipant, "participant", "", "filter by participant name")
	historyCmd.Flags().BoolVar(&flagHistConsensus, "consensus", false, "only discussions that reached consensus")
	historyCmd.Flags().IntVar(&flagHistLimit, "limit", 50, "max rows to list")
	exportCmd.Flags().BoolVar(&flagExportHTML, "html", false, "convert the markdown to HTML")
	exportCmd.Flags().StringVar(&flagExportOut, "out", "", `write to file instead of stdout ("-" for stdout)`)
}
