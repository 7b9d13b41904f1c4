package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/engine"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/server"
	"github.com/nixlim/drowsewatch/internal/stats"
	"github.com/nixlim/drowsewatch/internal/transport"
)

// start and stop talk to the unary channel directly: an engine would
// beacon a stop for the session it just started when it closes.
func newStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a monitoring session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			started, err := newHTTPClient(cfg).StartSession(context.Background())
			if err != nil {
				return fmt.Errorf("starting session: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "session %s started at %s\n",
				started.SessionID, started.StartTime.Local().Format("15:04:05"))
			return nil
		},
	}
}

func newStopCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the current monitoring session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			summary, err := newHTTPClient(cfg).EndSession(context.Background())
			if errors.Is(err, transport.ErrNoActiveSession) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no active session")
				return nil
			}
			if err != nil {
				return fmt.Errorf("stopping session: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "session %s stopped\n", summary.SessionID)
			return nil
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var pf periodFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current runtime and derived statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			period, err := pf.period()
			if err != nil {
				return err
			}
			logger, closer, err := openDebugLogger(flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			// One-shot: no push stream, no timers.
			cfg.Client.RuntimePollMS = 0
			cfg.Client.RefreshPollMS = 0
			eng := engine.New(cfg, engine.WithPush(nil), engine.WithLogger(logger))
			ctx := context.Background()
			if err := eng.Open(ctx); err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.SetPeriod(period); err != nil {
				return err
			}
			if err := eng.PollRuntime(ctx); err != nil {
				return fmt.Errorf("fetching runtime: %w", err)
			}
			if err := eng.Refresh(ctx); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), period, eng.Runtime(), eng.Derived())
			return nil
		},
	}
	pf.register(cmd, 1)
	return cmd
}

func printStatus(w io.Writer, period protocol.Period, runtime float64, d stats.Derived) {
	_, _ = fmt.Fprintf(w, "runtime      %.1fs\n", runtime)
	_, _ = fmt.Fprintf(w, "period       %s\n", period)
	_, _ = fmt.Fprintf(w, "total time   %.1fs (%s)\n", d.TotalTime, d.Source)
	_, _ = fmt.Fprintf(w, "safe time    %.1fs (%d%%)\n", d.SafeTime, d.SafePercentage)
	_, _ = fmt.Fprintf(w, "drowsy time  %.1fs\n", d.DisplayDrowsyTime)
	_, _ = fmt.Fprintf(w, "alerts       %d\n", d.AlertCount)
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var pf periodFlags
	var format string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export logged drowsiness events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			period, err := pf.period()
			if err != nil {
				return err
			}
			events, err := newHTTPClient(cfg).Events(context.Background(), period)
			if err != nil {
				return fmt.Errorf("fetching events: %w", err)
			}
			return writeEvents(cmd.OutOrStdout(), format, events)
		},
	}
	pf.register(cmd, 30)
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv|yaml|json")
	return cmd
}

func writeEvents(w io.Writer, format string, events []protocol.DrowsinessEvent) error {
	switch strings.ToLower(format) {
	case "csv":
		return server.WriteEventsCSV(w, events)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(events); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	default:
		return fmt.Errorf("unknown format %q (want csv, yaml or json)", format)
	}
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration commands"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return config.Encode(cmd.OutOrStdout(), cfg)
		},
	})
	return cfgCmd
}
