package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nixlim/drowsewatch/internal/clock"
	"github.com/nixlim/drowsewatch/internal/server"
	"github.com/nixlim/drowsewatch/internal/storage"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server (gRPC push + HTTP API)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			store, isPersistent, err := storage.NewStore(cfg.Storage)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}

			srv := server.New(cfg, store, isPersistent, clock.Real())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Start(ctx); err != nil {
				_ = store.Close()
				return fmt.Errorf("starting server: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "drowsewatch: grpc on %s, http on %s\n", srv.GRPC.Addr(), srv.HTTP.Addr())

			<-ctx.Done()
			log.Printf("shutting down")
			if err := srv.Stop(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "drowsewatch: shutdown: %v\n", err)
			}
			return nil
		},
	}
}
