package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ironfront/server/internal/app"
	"ironfront/server/internal/config"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "ironfront-server",
		Short: "Authoritative match server speaking the legacy binary protocol",
		Long: `ironfront-server hosts one match: it accepts websocket sessions from
deployed game clients, replicates entity state to them once per simulation
tick, and arbitrates chat, objectives, and scores.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file (defaults and IRONFRONT_* environment apply without one)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
