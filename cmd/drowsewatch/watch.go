package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nixlim/drowsewatch/internal/alerts"
	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/engine"
	"github.com/nixlim/drowsewatch/internal/tui"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live dashboard (s start, x stop, q quit)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger, closer, err := openDebugLogger(flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			notifier := alerts.NewThrottle(
				alerts.NewPlatformNotifier(cfg.Alerts.SystemNotify),
				time.Duration(cfg.Alerts.CooldownSeconds)*time.Second,
				clock.Real(),
			)
			eng := engine.New(cfg, engine.WithLogger(logger), engine.WithAlerts(notifier))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// The dashboard owns the terminal.
			log.SetOutput(io.Discard)
			defer log.SetOutput(os.Stderr)

			if err := eng.Open(ctx); err != nil {
				return err
			}

			var closeOnce sync.Once
			shutdown := func() { closeOnce.Do(eng.Close) }
			defer shutdown()

			startView := tui.ViewDashboard
			if history {
				startView = tui.ViewHistory
			}
			model := tui.NewModel(cfg,
				tui.WithEngine(eng),
				tui.WithStartView(startView),
				tui.WithPersistenceFlag(true),
				tui.WithOnShutdown(shutdown),
			)

			p := tea.NewProgram(model, tea.WithAltScreen())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					shutdown()
					p.Quit()
				case <-ctx.Done():
				}
			}()

			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "open on the session history view")
	return cmd
}
