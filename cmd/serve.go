package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/soundsentry/internal/observe"
	"github.com/audiolibrelab/soundsentry/internal/server"
	"github.com/audiolibrelab/soundsentry/internal/service"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the SoundSentry web server to control recording over HTTP.
This allows you to start and stop recording from your smartphone or any device on the same network,
and to follow detection events live over a websocket.

The server will display the local network URL for easy access from mobile devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		requirePermission, _ := cmd.Flags().GetBool("require-permission")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
			if err != nil {
				return fmt.Errorf("failed to initialize metrics: %w", err)
			}
			defer shutdown(context.Background())
		}

		events := server.NewBroadcaster()
		ctrl, err := service.New(cfg, events, service.WithPermission(!requirePermission))
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer ctrl.Close()

		slog.Info("SoundSentry web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		// Start server (this blocks until interrupted)
		srv := server.New(ctrl, events, port, cfg.Metrics.Enabled)
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
	serveCmd.Flags().Bool("require-permission", false, "refuse to record until a client grants permission via POST /permission")
}
