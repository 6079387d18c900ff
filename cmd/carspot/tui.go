package main

import (
	"context"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pkt.systems/carspot"
	"pkt.systems/carspot/core"
	"pkt.systems/carspot/internal/appconfig"
	"pkt.systems/carspot/internal/eventbus"
	"pkt.systems/carspot/internal/tui"
	"pkt.systems/pslog"
)

func newTUICmd() *cobra.Command {
	var cfgPath string
	var logPath string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal client on a local service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closeLog, err := tuiLogger(logPath)
			if err != nil {
				return err
			}
			defer closeLog()
			ctx := pslog.ContextWithLogger(cmd.Context(), logger)
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			serverCfg, err := toServerConfig(cfg)
			if err != nil {
				return err
			}
			server, err := carspot.New(serverCfg, carspot.ServerDeps{
				ServiceDeps: core.ServiceDeps{Logger: logger},
			})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			if err := server.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()

			events, unsubscribe := server.Bus().Subscribe(eventbus.Filter{})
			defer unsubscribe()
			app, err := tui.NewApp(ctx, server.Service(), events)
			if err != nil {
				return err
			}
			defer app.Close()

			program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = program.Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&logPath, "log-file", "", "write logs to this file instead of discarding them")
	return cmd
}

// tuiLogger keeps log output off the terminal the client draws on.
func tuiLogger(path string) (pslog.Logger, func(), error) {
	if path == "" {
		return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured}), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	logger := pslog.NewWithOptions(f, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	return logger, func() { _ = f.Close() }, nil
}
