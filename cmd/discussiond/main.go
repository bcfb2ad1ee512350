package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/7788ken/multi-agent-discussion/agent"
	"github.com/7788ken/multi-agent-discussion/discussion"
	"github.com/7788ken/multi-agent-discussion/discussion/render"
	"github.com/7788ken/multi-agent-discussion/internal/metrics"
	"github.com/7788ken/multi-agent-discussion/internal/profile"
	"github.com/7788ken/multi-agent-discussion/internal/version"
	"github.com/7788ken/multi-agent-discussion/server"
	"github.com/7788ken/multi-agent-discussion/store"
)

var rootCmd = &cobra.Command{
	Use:   "discussiond",
	Short: `Agent daemon for multi-agent discussions. Watches the shared discussion directory, invokes the agent CLI and appends its responses to the log.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		// Systemd units carry their environment in the unit file
		if !isRunningAsSystemdService() {
			// Try to load .env file from current directory (ignore error if file doesn't exist)
			_ = godotenv.Load()
		}
		return nil
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:          viper.GetString("mode"),
			Agent:         viper.GetString("agent"),
			Data:          viper.GetString("base-dir"),
			Addr:          viper.GetString("addr"),
			Port:          viper.GetInt("port"),
			Driver:        viper.GetString("driver"),
			DSN:           viper.GetString("dsn"),
			InvokeTimeout: viper.GetInt("invoke-timeout"),
			Version:       version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}
		return runDaemon(cmd.Context(), instanceProfile)
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28086)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of daemon, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("agent", "", `agent identity to speak as ("claude" or "codex")`)
	rootCmd.PersistentFlags().String("base-dir", "", "discussion base directory (logs, results, archive)")
	rootCmd.PersistentFlags().String("addr", "", "address of status server")
	rootCmd.PersistentFlags().Int("port", 28086, "port of status server")
	rootCmd.PersistentFlags().String("driver", "sqlite", "archive database driver (only sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "archive database source name(aka. DSN)")
	rootCmd.PersistentFlags().Int("invoke-timeout", 0, "agent CLI timeout in seconds (default 180)")
	rootCmd.PersistentFlags().Duration("poll", 0, "per-discussion poll interval (default 2s)")
	rootCmd.PersistentFlags().Int("max-concurrent", 0, "max concurrent agent invocations (default 5)")
	rootCmd.PersistentFlags().Int("max-queue", 0, "max queued discussions awaiting a response slot (default 20)")
	rootCmd.PersistentFlags().Int("max-rounds", 0, "max discussion rounds to participate in (default 5)")

	for _, key := range []string{
		"mode", "agent", "base-dir", "addr", "port", "driver", "dsn",
		"invoke-timeout", "poll", "max-concurrent", "max-queue", "max-rounds",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("discuss")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(ctx context.Context, p *profile.Profile) error {
	logger := newLogger(p)
	slog.SetDefault(logger)

	agentProfile, err := agent.ProfileFor(p.Agent)
	if err != nil {
		return err
	}
	agentProfile.Timeout = time.Duration(p.InvokeTimeout) * time.Second

	st, err := discussion.NewStore(p.Data, logger)
	if err != nil {
		return err
	}

	archive, err := store.NewDB(p.DSN)
	if err != nil {
		return err
	}
	defer archive.Close() //nolint:errcheck // shutdown path
	if err := archive.Migrate(ctx); err != nil {
		return err
	}

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	rt, err := agent.NewRuntime(agent.Config{
		Name:          agentProfile.Name,
		Store:         st,
		Invoke:        agentProfile.InvokeFunc(logger),
		PollInterval:  viper.GetDuration("poll"),
		MaxConcurrent: viper.GetInt("max-concurrent"),
		MaxQueueSize:  viper.GetInt("max-queue"),
		MaxRounds:     viper.GetInt("max-rounds"),
		Archiver:      archive,
		Logger:        logger,
		Metrics:       exporter,
	})
	if err != nil {
		return err
	}

	renderer := render.NewRenderer(st, 0, logger)

	srv := server.New(server.Config{
		Addr:    net.JoinHostPort(p.Addr, strconv.Itoa(p.Port)),
		Store:   st,
		Runtime: rt,
		Metrics: exporter,
		Archive: archive,
		Logger:  logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	// The default signal sent by the `kill` command is SIGTERM,
	// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
	signal.Notify(c, terminationSignals...)
	go func() {
		sig := <-c
		logger.Info("received termination signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := rt.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return renderer.Run(gctx) })

	printGreetings(p)

	err = g.Wait()
	// In-flight agent invocations settle on their own timeouts; Stop only
	// halts polling and new admissions.
	rt.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(p *profile.Profile) *slog.Logger {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("discussiond %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	fmt.Printf("Agent: %s\n", p.Agent)
	fmt.Printf("Discussion directory: %s\n", p.Data)
	fmt.Printf("Archive database: %s\n", p.DSN)
	fmt.Printf("Mode: %s\n", p.Mode)

	if len(p.Addr) == 0 {
		fmt.Printf("Status server running on port %d\n", p.Port)
		fmt.Printf("Check status at: http://localhost:%d/healthz\n", p.Port)
	} else {
		fmt.Printf("Status server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Check status at: http://%s:%d/healthz\n", p.Addr, p.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	// Check if invoked by systemd (environment variables set by systemd)
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
