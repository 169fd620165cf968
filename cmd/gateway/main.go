package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/config"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "AI gateway reverse proxy",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := config.Load()
			if errLoad != nil {
				return errLoad
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(*cobra.Command, []string) error {
			cfg, errLoad := config.Load()
			if errLoad != nil {
				return errLoad
			}
			return app.Migrate(cfg)
		},
	})

	if errExecute := root.ExecuteContext(context.Background()); errExecute != nil {
		log.WithError(errExecute).Fatal("gateway failed")
	}
}
