package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/carspot"
	"pkt.systems/carspot/core"
	"pkt.systems/carspot/httpapi"
	"pkt.systems/carspot/internal/appconfig"
	"pkt.systems/pslog"
)

const serveBanner = `  ___ __ _ _ _ ____ __  ___| |_
 / __/ _' | '_(_-< '_ \/ _ \  _|
 \___\__,_|_| /__/ .__/\___/\__|
                 |_|
`

func newServeCmd() *cobra.Command {
	var cfgPath string
	var noBanner bool
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the carspot HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logMode := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_MODE")))
			if !noBanner && logMode != "json" && logMode != "structured" {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), serveBanner)
			}
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			serverCfg, err := toServerConfig(cfg)
			if err != nil {
				return err
			}
			server, err := carspot.New(serverCfg, carspot.ServerDeps{
				ServiceDeps: core.ServiceDeps{Logger: logger},
			}, carspot.WithHTTP())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			logger.Info("http server listening", "addr", server.Addr(), "base_path", serverCfg.HTTP.BasePath)
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "disable startup banner")
	return cmd
}

func toServerConfig(cfg appconfig.Config) (carspot.ServerConfig, error) {
	serviceCfg, err := cfg.ServiceConfig()
	if err != nil {
		return carspot.ServerConfig{}, err
	}
	return carspot.ServerConfig{
		Service: serviceCfg,
		HTTP:    toHTTPConfig(cfg.HTTP),
		Identify: carspot.IdentifyConfig{
			Enabled:     cfg.Identify.Enabled,
			CatalogPath: cfg.Identify.CatalogPath,
			Watch:       cfg.Identify.Watch,
			Latency:     time.Duration(cfg.Identify.LatencyMS) * time.Millisecond,
		},
		Cards: carspot.CardsConfig{DBPath: cfg.Cards.DBPath},
	}, nil
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:       cfg.Addr,
		BasePath:   cfg.BasePath,
		HubHistory: 1000,
	}
}
