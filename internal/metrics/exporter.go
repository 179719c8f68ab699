package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricewatch"

// Exporter exposes a Collector as Prometheus metrics.
// Values are read from the collector on every scrape.
type Exporter struct {
	collector *Collector

	uptime   *prometheus.Desc
	count    *prometheus.Desc
	duration *prometheus.Desc
	tokens   *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter creates an exporter over c.
func NewExporter(c *Collector) *Exporter {
	return &Exporter{
		collector: c,
		uptime: prometheus.NewDesc(namespace+"_uptime_seconds",
			"Seconds since the worker started.", nil, nil),
		count: prometheus.NewDesc(namespace+"_operations_total",
			"Number of recorded pipeline operations.", []string{"op"}, nil),
		duration: prometheus.NewDesc(namespace+"_operation_seconds_total",
			"Total time spent in pipeline operations.", []string{"op"}, nil),
		tokens: prometheus.NewDesc(namespace+"_llm_tokens_total",
			"Language model tokens consumed.", []string{"op", "direction"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.uptime
	ch <- e.count
	ch <- e.duration
	ch <- e.tokens
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, snap.UptimeSeconds)

	for _, op := range Ops {
		s := e.collector.Op(op)
		if s == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(e.count, prometheus.CounterValue, float64(s.Count), op)
		ch <- prometheus.MustNewConstMetric(e.duration, prometheus.CounterValue, float64(s.TotalTimeMs)/1000, op)
		if s.TotalInputTokens != nil {
			ch <- prometheus.MustNewConstMetric(e.tokens, prometheus.CounterValue, float64(*s.TotalInputTokens), op, "input")
			ch <- prometheus.MustNewConstMetric(e.tokens, prometheus.CounterValue, float64(*s.TotalOutputTokens), op, "output")
		}
	}
}

// Handler returns an HTTP mux serving /metrics and /health.
// healthy may be nil; otherwise its error turns /health into a 503.
func Handler(c *Collector, healthy func() error) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewExporter(c)); err != nil {
		return nil, fmt.Errorf("register exporter: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if healthy != nil {
			if err := healthy(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return logRequests(mux), nil
}

// slowRequestThreshold is the duration above which scrapes are logged at WARN level.
const slowRequestThreshold = 500 * time.Millisecond

// statusRecorder captures the response code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs every request with timing. Slow requests and server
// errors are raised above DEBUG.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		attrs := []any{
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case rec.status >= 500:
			slog.Error("request failed", attrs...)
		case duration > slowRequestThreshold:
			slog.Warn("slow request", attrs...)
		default:
			slog.Debug("request completed", attrs...)
		}
	})
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, c *Collector, healthy func() error) error {
	handler, err := Handler(c, healthy)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
