package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nixlim/drowsewatch/internal/config"
	"github.com/nixlim/drowsewatch/internal/protocol"
	"github.com/nixlim/drowsewatch/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "drowsewatch: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debugPath  string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "drowsewatch",
		Short:         "Drowsiness monitoring session server and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultPath(), "config file path")
	root.PersistentFlags().StringVar(&flags.debugPath, "debug", "", "write push/unary debug log (JSONL) to this file")

	root.AddCommand(newServeCmd(&flags))
	root.AddCommand(newWatchCmd(&flags))
	root.AddCommand(newStartCmd(&flags))
	root.AddCommand(newStopCmd(&flags))
	root.AddCommand(newStatusCmd(&flags))
	root.AddCommand(newExportCmd(&flags))
	root.AddCommand(newConfigCmd(&flags))
	return root
}

// loadConfig reads the config file and prints its warnings to stderr.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	result, err := config.LoadFrom(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	for _, w := range result.Warnings {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "drowsewatch: config warning: %s\n", w)
	}
	return result.Config, nil
}

// openDebugLogger returns the JSONL logger for --debug, or a no-op logger.
// The returned closer is never nil.
func openDebugLogger(flags *globalFlags) (transport.Logger, io.Closer, error) {
	if flags.debugPath == "" {
		return transport.NopLogger{}, io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(flags.debugPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening debug log %q: %w", flags.debugPath, err)
	}
	return transport.NewFileLogger(f), f, nil
}

func newHTTPClient(cfg config.Config) *transport.HTTPClient {
	return transport.NewHTTPClient(cfg.Client.HTTPURL, transport.StaticToken(cfg.Client.Token), cfg.Client.RequestTimeout())
}

// periodFlags selects a statistics period on the command line.
type periodFlags struct {
	days     int
	from, to string
}

func (p *periodFlags) register(cmd *cobra.Command, defaultDays int) {
	cmd.Flags().IntVar(&p.days, "days", defaultDays, "trailing days including today")
	cmd.Flags().StringVar(&p.from, "from", "", "range start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.to, "to", "", "range end date (YYYY-MM-DD)")
}

func (p *periodFlags) period() (protocol.Period, error) {
	var period protocol.Period
	if p.from != "" || p.to != "" {
		period = protocol.DateRange(p.from, p.to)
	} else {
		period = protocol.TrailingDays(p.days)
	}
	if err := period.Validate(); err != nil {
		return protocol.Period{}, err
	}
	return period, nil
}
