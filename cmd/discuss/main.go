package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/7788ken/multi-agent-discussion/discussion"
	"github.com/7788ken/multi-agent-discussion/store"
)

var (
	flagBaseDir string
	flagMode    string

	rootCmd = &cobra.Command{
		Use:   "discuss",
		Short: `Create and steer multi-agent discussions from the command line.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Try to load .env file from current directory (ignore error if file doesn't exist)
			_ = godotenv.Load()
			return nil
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", "", "discussion base directory (default $MULTI_AGENT_BASE_DIR or ~/.discussions)")
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "dev", `daemon mode the archive database belongs to ("prod", "dev" or "demo")`)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(followupCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)
}

// baseDir resolves the shared discussion directory the same way the daemon
// does, so both tools operate on the same logs.
func baseDir() (string, error) {
	if flagBaseDir != "" {
		return flagBaseDir, nil
	}
	if dir := os.Getenv("MULTI_AGENT_BASE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".discussions"), nil
}

func openStore() (*discussion.Store, error) {
	dir, err := baseDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, fmt.Errorf("create discussion directory: %w", err)
	}
	// The CLI keeps store logging quiet; warnings still surface.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return discussion.NewStore(dir, logger)
}

func openArchive() (*store.DB, error) {
	dir, err := baseDir()
	if err != nil {
		return nil, err
	}
	dsn := filepath.Join(dir, fmt.Sprintf("discussiond_%s.db", flagMode))
	return store.NewDB(dsn)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
