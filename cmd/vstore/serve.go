package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/internal/app"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and gRPC health server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := vstore.SignalContext(cmd.Context())
			defer stop()

			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			if err := a.Seed(ctx); err != nil {
				_ = a.Close(ctx)
				return fmt.Errorf("seed: %w", err)
			}

			log.Info("starting", "service", app.ServiceName, "version", appVersion,
				"http", cfg.GetPort("http.port", ":8080"), "grpc", cfg.GetPort("grpc.port", ":50051"))
			if err := a.Micro().Run(ctx); err != nil {
				return fmt.Errorf("%s (%s) stopped with error: %w", app.ServiceName, appVersion, err)
			}
			return nil
		},
	}
}
