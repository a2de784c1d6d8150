// Package stream pushes aggregated propagation results to browsers over a
// websocket. Clients connect via GET /api/v1/stream and receive:
//
//   - a JSON text message {"type":"metadata",...} on connect and again
//     whenever the catalog (and so the propagator) is replaced;
//   - a binary frame (see EncodeFrame) each time the result version changes,
//     throttled to the client's frame rate.
//
// The server pings every KeepaliveInterval; a client that stops answering is
// dropped after two missed pongs.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/httputil"
	"github.com/1valdis/heavensat-web/internal/metrics"
	"github.com/1valdis/heavensat-web/internal/propagation"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // default: 10
	MaxConcurrent      int           // default: 1000
	MaxFPS             float64       // upper bound on frames per second per client (default: 30)
	KeepaliveInterval  time.Duration // default: 30s
	WriteTimeout       time.Duration // default: 10s
	TrustProxy         bool
	AllowedOrigins     []string // empty: same-origin only
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.MaxFPS <= 0 {
		c.MaxFPS = 30
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Source is what the handler streams from; *driver.Driver satisfies it.
type Source interface {
	Propagator() *propagation.ConcurrentPropagator
	Subscribe() (<-chan struct{}, func())
}

// Handler manages websocket stream connections.
type Handler struct {
	source   Source
	store    *catalog.Store
	config   Config
	limiter  *connLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(source Source, store *catalog.Store, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	h := &Handler{
		source:  source,
		store:   store,
		config:  config,
		limiter: newConnLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     httputil.OriginChecker(config.AllowedOrigins),
	}
	return h
}

// Active returns the number of open stream connections.
func (h *Handler) Active() int {
	_, total := h.limiter.held("")
	return total
}

// metadataMessage describes the catalog behind the frames that follow it.
type metadataMessage struct {
	Type             string    `json:"type"`
	CatalogSource    string    `json:"catalog_source,omitempty"`
	CatalogFetchedAt time.Time `json:"catalog_fetched_at"`
	CatalogAge       int       `json:"catalog_age_seconds"`
	Satellites       int       `json:"satellites"`
	FloatsPerVertex  int       `json:"text_floats_per_vertex"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HandleStream serves the result stream.
// GET /api/v1/stream?fps=10
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	fps := h.config.MaxFPS
	if v := r.URL.Query().Get("fps"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 || n > h.config.MaxFPS {
			writeJSONError(w, http.StatusBadRequest,
				"invalid fps parameter, must be in (0, "+strconv.FormatFloat(h.config.MaxFPS, 'f', -1, 64)+"]")
			return
		}
		fps = n
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	release, err := h.limiter.admit(ip)
	if err != nil {
		reason := "ip_limit"
		if errors.Is(err, errTotalLimit) {
			reason = "capacity"
		}
		metrics.IncStreamErrors(reason)
		forIP, total := h.limiter.held(ip)
		h.logger.Warn("stream rejected",
			"remote_ip", ip,
			"reason", reason,
			"ip_streams", forIP,
			"total_streams", total,
		)
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		metrics.IncStreamErrors("upgrade")
		h.logger.Debug("stream upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	metrics.IncStreamsActive()
	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"fps", fps,
	)

	c := &client{
		conn:         conn,
		ip:           ip,
		writeTimeout: h.config.WriteTimeout,
		logger:       h.logger,
	}
	defer func() {
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
			"messages", c.messagesSent,
			"bytes", c.bytesSent,
		)
	}()

	done := make(chan struct{})
	go c.readLoop(2*h.config.KeepaliveInterval+h.config.WriteTimeout, done)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := h.serve(ctx, c, rate.NewLimiter(rate.Limit(fps), 1)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// serve writes frames until ctx ends or a write fails.
func (h *Handler) serve(ctx context.Context, c *client, throttle *rate.Limiter) error {
	changes, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	var (
		lastProp    *propagation.ConcurrentPropagator
		lastVersion uint64
	)
	push := func() error {
		p := h.source.Propagator()
		if p == nil {
			return nil
		}
		if p != lastProp {
			if err := c.sendJSON(h.metadata()); err != nil {
				return err
			}
			lastProp, lastVersion = p, 0
		}
		res, version := p.Snapshot()
		if version == lastVersion {
			return nil
		}
		if err := c.sendFrame(EncodeFrame(version, res)); err != nil {
			return err
		}
		lastVersion = version
		keepaliveTicker.Reset(h.config.KeepaliveInterval)
		return nil
	}

	if err := c.sendJSON(h.metadata()); err != nil {
		return err
	}
	if p := h.source.Propagator(); p != nil {
		lastProp = p
	}
	if err := push(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-changes:
			if err := throttle.Wait(ctx); err != nil {
				return nil
			}
			// Take the snapshot after the wait so the newest result goes out.
			if err := push(); err != nil {
				return err
			}

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) metadata() metadataMessage {
	m := metadataMessage{
		Type:            "metadata",
		FloatsPerVertex: propagation.TextFloatsPerVertex,
	}
	if ds := h.store.Get(); ds != nil {
		m.CatalogSource = ds.Source
		m.CatalogFetchedAt = ds.FetchedAt.UTC()
		m.CatalogAge = int(time.Since(ds.FetchedAt).Seconds())
		m.Satellites = len(ds.Satellites)
	}
	return m
}
