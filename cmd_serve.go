package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ScoreBoard/internal/engine"
	sbnet "ScoreBoard/internal/net"
	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int
	var noMDNS bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the sync server for this LAN",
		Long:  "serve starts the websocket and REST server, connects the annotation store\nand advertises itself over mDNS so participants can find it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(false)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.HTTPPort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
			}
			defer store.Close()

			bridge := persist.NewBridge(store, nil, persist.BridgeConfig{
				WriteTimeout:   cfg.PersistTimeout,
				RetryBase:      cfg.RetryInterval,
				HealthInterval: cfg.HealthInterval,
			}, log)
			defer bridge.Close()

			hub := engine.NewHub(bridge, store, nil, engine.HubConfig{
				CursorTTL:     cfg.CursorTTL,
				StrokeTTL:     cfg.StrokeTTL,
				SweepInterval: cfg.SweepInterval,
				WriteTimeout:  cfg.PersistTimeout,
			}, log)

			go func() { _ = bridge.Run(ctx) }()
			go func() { _ = hub.Run(ctx) }()

			if cfg.MDNSEnabled && !noMDNS {
				mdns, err := sbnet.Advertise(cfg.HTTPPort)
				if err != nil {
					log.Warn().Err(err).Msg("mDNS advertisement disabled")
				} else {
					defer mdns.Shutdown()
					log.Info().Str("service", sbnet.ServiceType).Msg("advertising over mDNS")
				}
			}

			host := cfg.PublicHost
			if host == "" {
				host = sbnet.GetOutgoingIP()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Share this link: %s\n", sbnet.ShareLink(host, cfg.HTTPPort))
			log.Info().
				Str("store", cfg.StoreDriver).
				Int("port", cfg.HTTPPort).
				Str("environment", string(cfg.Environment)).
				Msg("sync server starting")

			err = server.New(hub, bridge, store, nil, log).ListenAndServe(ctx, cfg.HTTPPort)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("sync server stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides SCOREBOARD_HTTP_PORT)")
	cmd.Flags().BoolVar(&noMDNS, "no-mdns", false, "do not advertise over mDNS")

	return cmd
}
