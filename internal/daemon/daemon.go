// Package daemon wires the chat channel, the media integrations and the
// webhook listener into the running bot.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nous-labs/arrbot/internal/channel/matrix"
	"github.com/nous-labs/arrbot/internal/media"
	"github.com/nous-labs/arrbot/internal/media/arr"
	"github.com/nous-labs/arrbot/internal/media/radarr"
	"github.com/nous-labs/arrbot/internal/media/sonarr"
	"github.com/nous-labs/arrbot/internal/media/tvdb"
	"github.com/nous-labs/arrbot/internal/render"
	"github.com/nous-labs/arrbot/internal/router"
	"github.com/nous-labs/arrbot/internal/status"
	"github.com/nous-labs/arrbot/internal/webhook"
	"github.com/nous-labs/arrbot/pkg/channel"
)

const startupReportTimeout = 30 * time.Second

// chat is the channel the daemon talks through.
type chat interface {
	channel.Channel
	status.Pinger
	OnReady(fn func(ctx context.Context))
}

// Daemon is the main arrbot process.
type Daemon struct {
	config  *Config
	chat    chat
	router  *router.Router
	checker *status.Checker
	webhook *webhook.Listener

	// webhookLn overrides the configured listen address when set.
	webhookLn net.Listener
	startedAt time.Time
}

// New creates a daemon. It fails when cfg does not pass Validate.
func New(cfg *Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mx := matrix.New(matrix.Config{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		Password:     cfg.Matrix.Password,
		ServerName:   cfg.Matrix.ServerName,
		AllowedUsers: cfg.Matrix.AllowedUsers,
	})

	var (
		services    []media.Service
		sonarrPing  status.Pinger
		radarrPing  status.Pinger
		tvdbPing    status.Pinger
		posters     sonarr.PosterSource
		arrSettings = func(s ServiceConfig) arr.Config {
			return arr.Config{BaseURL: s.URL, APIKey: s.APIKey, VerifyTLS: cfg.VerifyTLS}
		}
	)

	if cfg.TVDB.APIKey != "" {
		tv := tvdb.New(cfg.TVDB.BaseURL, cfg.TVDB.APIKey)
		posters = tv
		tvdbPing = tv
	}
	if cfg.Sonarr.Configured() {
		svc := sonarr.New(arrSettings(cfg.Sonarr), posters)
		services = append(services, svc)
		sonarrPing = svc
	}
	if cfg.Radarr.Configured() {
		svc := radarr.New(arrSettings(cfg.Radarr))
		services = append(services, svc)
		radarrPing = svc
	}

	checker := status.NewChecker(duration(cfg.StatusTimeout, 5*time.Second),
		status.Probe{Name: "Matrix", Pinger: mx},
		status.Probe{Name: "Sonarr", Pinger: sonarrPing},
		status.Probe{Name: "Radarr", Pinger: radarrPing},
		status.Probe{Name: "TVDB", Pinger: tvdbPing},
	)

	slog.Info("integrations configured",
		"sonarr", cfg.Sonarr.Configured(),
		"radarr", cfg.Radarr.Configured(),
		"tvdb", tvdbPing != nil,
		"webhook", cfg.Webhook.Enabled,
	)
	return newDaemon(cfg, mx, checker, services...), nil
}

func newDaemon(cfg *Config, c chat, checker *status.Checker, services ...media.Service) *Daemon {
	d := &Daemon{
		config:    cfg,
		chat:      c,
		checker:   checker,
		startedAt: time.Now(),
	}
	d.router = router.New(router.Scope{
		Prefix:         cfg.CommandPrefix,
		TargetRoomID:   cfg.TargetRoomID,
		CommandTimeout: duration(cfg.CommandTimeout, 30*time.Second),
	}, c, checker, services...)

	if cfg.Webhook.Enabled {
		d.webhook = webhook.New(webhook.Config{
			Host:          cfg.Webhook.Host,
			Port:          cfg.Webhook.Port,
			TargetRoomID:  cfg.TargetRoomID,
			EnrichTimeout: duration(cfg.Webhook.EnrichTimeout, 10*time.Second),
		}, c, services...)
	}

	c.OnReady(d.startupReport)
	return d
}

// Run starts the chat channel and, when enabled, the webhook listener. It
// blocks until ctx is cancelled or either component fails; a failure in one
// stops the other.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("arrbot daemon running",
		"matrix", d.config.Matrix.Homeserver,
		"prefix", d.config.CommandPrefix,
		"target_room", d.config.TargetRoomID,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting chat channel", "channel", d.chat.Name())
		if err := d.chat.Start(gctx, d.router.Handle); err != nil {
			return fmt.Errorf("%s channel: %w", d.chat.Name(), err)
		}
		return nil
	})
	if d.webhook != nil {
		g.Go(func() error {
			if d.webhookLn != nil {
				return d.webhook.Serve(gctx, d.webhookLn)
			}
			return d.webhook.Run(gctx)
		})
	}

	err := g.Wait()
	if stopErr := d.chat.Stop(); stopErr != nil {
		slog.Warn("chat channel stop failed", "error", stopErr)
	}
	slog.Info("arrbot daemon stopped", "uptime", time.Since(d.startedAt).Round(time.Second))
	return err
}

// startupReport posts a status report to the target room once the chat
// channel is connected.
func (d *Daemon) startupReport(ctx context.Context) {
	if !d.config.StartupReport || d.config.TargetRoomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, startupReportTimeout)
	defer cancel()

	reports := d.checker.Check(ctx)
	msg := render.Status(reports)
	err := d.chat.Send(ctx, channel.Response{
		RoomID:  d.config.TargetRoomID,
		Content: "🤖 arrbot is online.\n\n" + msg.Text,
	})
	if err != nil {
		slog.Warn("startup report failed", "room", d.config.TargetRoomID, "error", err)
		return
	}
	slog.Info("startup report sent", "healthy", status.Healthy(reports))
}
