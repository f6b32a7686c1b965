package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"chatbroker/internal/broker"
	"chatbroker/internal/config"
	"chatbroker/internal/httpapi"
)

// Version is the broker's release identifier, overridable at link time
// with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	var (
		hostname    string
		port        int
		logPath     string
		configPath  string
		maxSessions int
		adminAddr   string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the chat relay broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFileDefaults(cmd, file, &hostname, &port, &logPath, &maxSessions, &adminAddr)

			logger, closeLog, err := newLogger(logPath)
			if err != nil {
				return err
			}
			defer closeLog()
			slog.SetDefault(logger)

			b := broker.New(broker.Config{
				Addr:        fmt.Sprintf("%s:%d", hostname, port),
				MaxSessions: maxSessions,
				Logger:      logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			var wg sync.WaitGroup
			var errOnce sync.Once
			var firstErr error
			record := func(err error) {
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					stop()
				}
			}

			wg.Add(1)
			go func() { defer wg.Done(); record(b.Run(ctx)) }()

			if adminAddr != "" {
				api := httpapi.New(b)
				wg.Add(1)
				go func() { defer wg.Done(); record(api.Run(ctx, adminAddr)) }()
			}

			wg.Wait()
			return firstErr
		},
	}
	runCmd.Flags().StringVar(&hostname, "hostname", "localhost", "address to listen on")
	runCmd.Flags().IntVar(&port, "port", 50000, "port to listen on")
	runCmd.Flags().StringVar(&logPath, "log", "", "optional path to write structured logs to (default: stderr)")
	runCmd.Flags().StringVar(&configPath, "config", "", "optional YAML file supplying defaults for the flags above")
	runCmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "maximum concurrent sessions (0 = default bound)")
	runCmd.Flags().StringVar(&adminAddr, "admin-addr", "", "optional address for the read-only admin HTTP API (empty disables it)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the broker version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}

	rootCmd := &cobra.Command{
		Use:   "broker",
		Short: "A non-federated JSON chat relay",
	}
	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFileDefaults fills flag-shaped variables from the config file for
// any flag the operator did not explicitly set on the command line.
func applyFileDefaults(cmd *cobra.Command, f config.File, hostname *string, port *int, logPath *string, maxSessions *int, adminAddr *string) {
	if !cmd.Flags().Changed("hostname") && f.Hostname != "" {
		*hostname = f.Hostname
	}
	if !cmd.Flags().Changed("port") && f.Port != 0 {
		*port = f.Port
	}
	if !cmd.Flags().Changed("log") && f.LogPath != "" {
		*logPath = f.LogPath
	}
	if !cmd.Flags().Changed("max-sessions") && f.MaxSessions != 0 {
		*maxSessions = f.MaxSessions
	}
	if !cmd.Flags().Changed("admin-addr") && f.AdminAddr != "" {
		*adminAddr = f.AdminAddr
	}
}

// newLogger builds the slog logger per §10: JSON to a file when --log is
// set, human-readable text to stderr otherwise. The returned close func
// must be called on shutdown.
func newLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil)), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(f, nil))
	return logger, func() { _ = f.Close() }, nil
}
