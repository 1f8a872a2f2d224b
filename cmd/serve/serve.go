// Package serve implements the serve command: the local JSON API, a
// background refresher and the optional MQTT publisher.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/farmdash/internal/app"
	api "github.com/tphakala/farmdash/internal/api/v1"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/mqtt"
)

const shutdownTimeout = 10 * time.Second

// Command returns the serve command.
func Command(opts *app.Options) *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local JSON API",
		Long: `Serve the cached collections over HTTP and keep them fresh.

Stale collections are refreshed every --refresh-interval; set it to 0 to
only fetch on request. When mqtt.enabled is set, changes and statistics are
also published to the broker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen != "" {
				a.Settings.API.Listen = listen
			}
			return Run(cmd.Context(), a, interval)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides api.listen)")
	cmd.Flags().DurationVar(&interval, "refresh-interval", time.Minute, "How often stale collections are refreshed")
	return cmd
}

// Run serves until ctx is cancelled or a component fails.
func Run(ctx context.Context, a *app.App, interval time.Duration) error {
	logger := logging.ForService("serve")
	level := new(slog.LevelVar)
	if a.Settings.Debug {
		level.Set(slog.LevelDebug)
	}
	apiLogger, closeLog := logging.ServiceLogger("api", level)
	defer func() { _ = closeLog() }()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	apiOpts := []api.Option{api.WithLogger(apiLogger)}
	if a.Settings.API.Metrics {
		apiOpts = append(apiOpts, api.WithMetrics(a.Metrics))
	}
	api.New(e, a.Fetcher, a.Sessions, apiOpts...)

	var publisher *mqtt.Publisher
	if a.Settings.MQTT.Enabled {
		client, err := mqtt.NewClient(a.Settings.MQTTConfig(), a.Metrics.MQTT)
		if err != nil {
			return err
		}
		defer client.Disconnect()
		if err := client.Connect(ctx); err != nil {
			logger.Warn("mqtt broker unavailable, publishing disabled", "error", err)
		}
		publisher = mqtt.NewPublisher(client, a.Store, a.Settings.MQTT.Topic, a.Metrics.MQTT)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving API", "listen", a.Settings.API.Listen)
		if err := e.Start(a.Settings.API.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if interval > 0 {
		g.Go(func() error {
			refreshLoop(ctx, a, interval, logger)
			return nil
		})
	}

	if publisher != nil {
		g.Go(func() error { return publisher.Run(ctx) })
	}

	return g.Wait()
}

// refreshLoop refreshes stale collections until ctx is done. Nothing is
// fetched while logged out.
func refreshLoop(ctx context.Context, a *app.App, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.Store.Token() == "" {
				continue
			}
			if err := a.Fetcher.RefreshAll(ctx, false); err != nil && ctx.Err() == nil {
				logger.Warn("background refresh failed", "error", err)
			}
		}
	}
}
