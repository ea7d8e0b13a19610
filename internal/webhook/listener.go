// Package webhook receives Sonarr and Radarr webhooks and relays them to the
// chat channel.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/nous-labs/arrbot/internal/media"
	"github.com/nous-labs/arrbot/internal/render"
	"github.com/nous-labs/arrbot/pkg/channel"
)

const (
	maxBodyBytes         = 1 << 20
	defaultEnrichTimeout = 10 * time.Second
	sendTimeout          = 30 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// Config configures the listener.
type Config struct {
	Host          string
	Port          int
	TargetRoomID  string        // room that receives notifications
	EnrichTimeout time.Duration // bound on the service lookup for Download events
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Listener is the webhook HTTP server.
type Listener struct {
	cfg      Config
	sender   channel.Sender
	services map[media.ServiceType]media.Service
	router   *mux.Router
	ready    atomic.Bool
}

// New creates a listener. services are used to enrich Download events and may be empty.
func New(cfg Config, sender channel.Sender, services ...media.Service) *Listener {
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = defaultEnrichTimeout
	}
	l := &Listener{
		cfg:      cfg,
		sender:   sender,
		services: make(map[media.ServiceType]media.Service),
	}
	for _, svc := range services {
		if svc != nil {
			l.services[svc.Type()] = svc
		}
	}

	r := mux.NewRouter()
	r.HandleFunc("/webhook/{service:sonarr|radarr}", l.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/healthz", l.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", l.handleReady).Methods(http.MethodGet)
	l.router = r
	return l
}

// Handler exposes the routes, mainly for tests.
func (l *Listener) Handler() http.Handler { return l.router }

// Run listens on the configured address until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Addr())
	if err != nil {
		return fmt.Errorf("webhook listen %s: %w", l.cfg.Addr(), err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. In-flight requests get a few seconds to finish.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	l.ready.Store(true)
	slog.Info("webhook listener started", "addr", ln.Addr().String(), "endpoints", []string{"/webhook/sonarr", "/webhook/radarr"})

	select {
	case err := <-errCh:
		l.ready.Store(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
	}

	l.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		<-errCh
		return fmt.Errorf("webhook shutdown: %w", err)
	}
	<-errCh
	slog.Info("webhook listener stopped")
	return nil
}

func (l *Listener) handleWebhook(w http.ResponseWriter, r *http.Request) {
	svc, _ := media.ParseServiceType(mux.Vars(r)["service"])
	log := slog.With("service", svc, "remote", r.RemoteAddr)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read body"})
		return
	}

	evt, err := Normalize(svc, body)
	if err != nil {
		log.Warn("rejected webhook", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if evt == nil {
		log.Info("ignoring webhook event", "event_type", gjson.GetBytes(body, "eventType").String())
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	l.enrich(ctx, evt)

	msg := render.WebhookEvent(*evt)
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := l.sender.Send(sendCtx, channel.Response{
		RoomID:   l.cfg.TargetRoomID,
		Content:  msg.Text,
		ImageURL: msg.ImageURL,
	}); err != nil {
		log.Error("webhook delivery failed", "event_type", evt.EventType, "room", l.cfg.TargetRoomID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delivery failed"})
		return
	}

	log.Info("webhook delivered", "event_type", evt.EventType, "test", evt.IsTest)
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// enrich replaces the payload item with the service's current view of it.
// Lookup failures keep the payload data.
func (l *Listener) enrich(ctx context.Context, evt *media.Event) {
	if evt.IsTest || evt.Item == nil || evt.Item.ExternalID <= 0 {
		return
	}
	svc, ok := l.services[evt.Service]
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.EnrichTimeout)
	defer cancel()
	found, err := svc.GetByID(ctx, evt.Item.ExternalID)
	if err != nil {
		slog.Warn("webhook enrichment failed, using payload data",
			"service", evt.Service,
			"external_id", evt.Item.ExternalID,
			"error", err,
		)
		return
	}
	if !found.IsPresent() {
		return
	}

	item := found.MustGet()
	item.Added = true
	if item.PosterURL == "" {
		item.PosterURL = evt.Item.PosterURL
	}
	if item.Overview == "" {
		item.Overview = evt.Item.Overview
	}
	evt.Item = &item
}

func (l *Listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (l *Listener) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !l.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
