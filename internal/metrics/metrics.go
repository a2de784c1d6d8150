package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heavensat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heavensat_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	propagationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heavensat_propagation_duration_seconds",
			Help:    "Time a worker spends on one propagation round.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	satellitesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heavensat_satellites_total",
			Help: "Satellites processed per propagation round, by outcome.",
		},
		[]string{"outcome"},
	)

	staleResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heavensat_stale_responses_total",
			Help: "Worker responses superseded by a newer request.",
		},
		[]string{"kind"},
	)

	unitFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heavensat_unit_failures_total",
			Help: "Propagation workers that crashed.",
		},
	)

	resultVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heavensat_result_version",
			Help: "Aggregated propagation result version.",
		},
	)

	propagationUnits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heavensat_propagation_units",
			Help: "Number of propagation workers.",
		},
	)

	framesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heavensat_frames_total",
			Help: "Animation frames that issued a propagation request.",
		},
	)

	catalogSatellites = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heavensat_catalog_satellites",
			Help: "Satellites in the current catalog.",
		},
	)

	catalogAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heavensat_catalog_age_seconds",
			Help: "Seconds since the current catalog was fetched.",
		},
	)

	catalogRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heavensat_catalog_refresh_total",
			Help: "Catalog refresh attempts, by result.",
		},
		[]string{"result"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heavensat_stream_connections_active",
			Help: "Open result stream connections.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heavensat_stream_messages_total",
			Help: "Result frames written to stream clients.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heavensat_stream_bytes_total",
			Help: "Bytes written to stream clients.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heavensat_stream_errors_total",
			Help: "Stream errors and rejections, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		propagationDuration,
		satellitesTotal,
		staleResponsesTotal,
		unitFailuresTotal,
		resultVersion,
		propagationUnits,
		framesTotal,
		catalogSatellites,
		catalogAgeSeconds,
		catalogRefreshTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RoundStats counts the outcomes of one worker round.
type RoundStats struct {
	Visible  int
	Culled   int
	Filtered int
	Failed   int
}

// RecordPropagation records one worker round.
func RecordPropagation(duration time.Duration, s RoundStats) {
	propagationDuration.Observe(duration.Seconds())
	satellitesTotal.WithLabelValues("visible").Add(float64(s.Visible))
	satellitesTotal.WithLabelValues("culled").Add(float64(s.Culled))
	satellitesTotal.WithLabelValues("filtered").Add(float64(s.Filtered))
	satellitesTotal.WithLabelValues("failed").Add(float64(s.Failed))
}

// IncStaleResponses counts a superseded response; kind is "init" or "propagate".
func IncStaleResponses(kind string) { staleResponsesTotal.WithLabelValues(kind).Inc() }

// IncUnitFailures counts a crashed worker.
func IncUnitFailures() { unitFailuresTotal.Inc() }

// SetResultVersion publishes the aggregated result version.
func SetResultVersion(v uint64) { resultVersion.Set(float64(v)) }

// SetPropagationUnits publishes the worker count.
func SetPropagationUnits(n int) { propagationUnits.Set(float64(n)) }

// IncFrames counts a driver frame.
func IncFrames() { framesTotal.Inc() }

// SetCatalogCount publishes the catalog size.
func SetCatalogCount(n int) { catalogSatellites.Set(float64(n)) }

// SetCatalogAge publishes the catalog age.
func SetCatalogAge(seconds float64) { catalogAgeSeconds.Set(seconds) }

// IncCatalogRefresh counts a refresh attempt; result is "ok" or "error".
func IncCatalogRefresh(result string) { catalogRefreshTotal.WithLabelValues(result).Inc() }

func IncStreamsActive() { streamsActive.Inc() }

func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream failure or rejection by reason.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// knownRoutes are the exact paths served; anything else is labelled "other"
// to bound label cardinality.
var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/catalog/metadata": true,
	"/api/v1/catalog/refresh":  true,
	"/api/v1/view":             true,
	"/api/v1/diagnostics":      true,
	"/api/v1/scene":            true,
	"/api/v1/stream":           true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/satellites/"); ok && rest != "" {
		if strings.HasSuffix(rest, "/passes") {
			return "/api/v1/satellites/{norad}/passes"
		}
		if !strings.Contains(rest, "/") {
			return "/api/v1/satellites/{norad}"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
