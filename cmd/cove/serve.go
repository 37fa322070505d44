package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/covekit/cove/pkg/api"
	"github.com/covekit/cove/pkg/config"
	"github.com/covekit/cove/pkg/events"
	"github.com/covekit/cove/pkg/pool"
	"github.com/covekit/cove/pkg/volume"
)

var serveListen string

// serveCmd runs the monitoring endpoint against the local pool. It holds
// the pool's metadata lock, so volume operations on the same pool must go
// through another process only between runs.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, metrics and volume state over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pool.Open(poolDir)
		if err != nil {
			return err
		}
		defer p.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		svc, err := volume.NewService(&volume.ServiceConfig{
			Config: config.NewStore(configPath),
			Pool:   p,
			Broker: broker,
		})
		if err != nil {
			return err
		}
		if err := svc.Start(); err != nil {
			return err
		}

		srv := api.NewServer(svc, broker, Version)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(serveListen) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-sigCh:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":7420",
		"Address for the HTTP monitoring endpoint")
	rootCmd.AddCommand(serveCmd)
}
