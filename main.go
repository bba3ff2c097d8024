// Package main provides a microphone activity monitor that reports, in near
// real time, whether any process on the host is capturing audio.
//
// Usage:
//
//	micwatch [--config path/to/config.json] [--log-level debug]
//	micwatch devices
//	micwatch status
//
// If --config is not specified, micwatch looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-micwatch/internal/apps"
	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
	"github.com/oszuidwest/zwfm-micwatch/internal/config"
	"github.com/oszuidwest/zwfm-micwatch/internal/detector"
	"github.com/oszuidwest/zwfm-micwatch/internal/dictation"
	"github.com/oszuidwest/zwfm-micwatch/internal/events"
	"github.com/oszuidwest/zwfm-micwatch/internal/notify"
	"github.com/oszuidwest/zwfm-micwatch/internal/procstat"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// commandTimeout bounds every pactl/ffmpeg helper invocation.
const commandTimeout = 3 * time.Second

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "micwatch",
		Short:   "Microphone activity monitor",
		Long:    "Detects whether any process is capturing audio and reports the state over HTTP, WebSocket and alerts.",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: config.json next to binary)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(newDevicesCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))

	return rootCmd
}

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			backend := newBackend(cfg.Snapshot())
			return printDevices(cmd.OutOrStdout(), backend)
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Evaluate the microphone state once and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			snap := cfg.Snapshot()
			backend := newBackend(snap)
			procs := procstat.NewTable()

			// A single sample only sees the instantaneous dictation signal.
			dict := dictation.NewDetector(cfg.DictationSettings(), procs)
			if current, ok := dictation.NewSourceWatcher().Current(); ok {
				dict.OnInputSourceChanged(current)
			}

			state := detector.Probe(detector.Options{
				Enumerator: backend,
				Capture:    backend,
				Dictation:  dict,
			})
			return printStatus(cmd.OutOrStdout(), state, procs, time.Now())
		},
	}
}

// loadConfig resolves the config path, loads it and configures logging.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		execPath, err := os.Executable()
		if err != nil {
			return nil, util.WrapError("get executable path", err)
		}
		path = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		return nil, util.WrapError("load config", err)
	}

	level := opts.logLevel
	if level == "" {
		level = cfg.Snapshot().LogLevel
	}
	if err := setupLogging(level); err != nil {
		return nil, err
	}

	slog.Debug("using config file", "path", path)
	return cfg, nil
}

// setupLogging installs the default text logger at the given level.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

//nolint:gocritic // hugeParam: called once at startup
func newBackend(snap config.Snapshot) audio.Backend {
	return audio.NewBackend(audio.Options{
		PactlPath:  snap.PactlPath,
		FFmpegPath: snap.FFmpegPath,
		Timeout:    commandTimeout,
	})
}

// runDaemon runs the detector, notifier and web server until a shutdown signal.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, util.ShutdownSignals()...)
	defer stop()

	snap := cfg.Snapshot()
	backend := newBackend(snap)
	procs := procstat.NewTable()

	engine := detector.New(detector.Options{
		Enumerator:     backend,
		Capture:        backend,
		Events:         events.NewPlatformSource(snap.PactlPath, snap.DeviceDir),
		Dictation:      dictation.NewDetector(cfg.DictationSettings(), procs),
		Sources:        dictation.NewSourceWatcher(),
		FastInterval:   snap.FastPoll,
		NormalInterval: snap.NormalPoll,
	})

	notifier := notify.NewStateNotifier(cfg)
	transitions, unsubscribe := engine.Subscribe(16)
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		notifier.Run(ctx, transitions)
	}()

	engine.Start()

	version := NewVersionChecker()
	srv := NewServer(cfg, engine, backend, procs, notifier, version)
	httpServer := srv.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	version.Stop()

	// Shut down HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	engine.Stop()
	unsubscribe()
	<-notifyDone

	slog.Info("shutdown complete")
	return nil
}

// printDevices writes the input devices as a table.
func printDevices(w io.Writer, enum audio.Enumerator) error {
	def, hasDefault := enum.DefaultInput()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEFAULT\tRUNNING\tMUTED\tID\tNAME")
	for _, d := range enum.InputDevices() {
		marker := ""
		if hasDefault && d.ID == def.ID {
			marker = "*"
		}
		muted := "n/a"
		if d.Muted != nil {
			muted = fmt.Sprint(*d.Muted)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", marker, d.Running, muted, d.ID, d.Name)
	}
	return tw.Flush()
}

// statusOutput is the JSON form printed by the status command.
type statusOutput struct {
	types.MicState
	Duration  string `json:"duration,omitempty"`
	LikelyApp string `json:"likely_app,omitempty"`
}

// printStatus writes state as indented JSON.
func printStatus(w io.Writer, state types.MicState, procs procstat.Table, now time.Time) error {
	out := statusOutput{MicState: state}
	if state.Active {
		out.Duration = util.FormatDuration(state.Duration(now))
		if procs != nil {
			out.LikelyApp, _ = apps.Lookup(procstat.Names(procs))
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
