// Package metrics exposes scan session counters for Prometheus scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/maxvaer/pathhunter/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pathhunter"

var sessionLabels = []string{"session", "target"}

// Collector reads every session of an engine at scrape time. Values come
// straight from session progress, so nothing is double counted and no
// per-request hook is needed.
type Collector struct {
	eng *engine.Engine

	candidates *prometheus.Desc
	dispatched *prometheus.Desc
	completed  *prometheus.Desc
	found      *prometheus.Desc
	errors     *prometheus.Desc
	elapsed    *prometheus.Desc
	state      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over eng's sessions.
func NewCollector(eng *engine.Engine) *Collector {
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, append(sessionLabels, extra...), nil)
	}
	return &Collector{
		eng:        eng,
		candidates: desc("candidates", "Number of candidate paths in the session"),
		dispatched: desc("requests_dispatched_total", "Candidates claimed by a worker"),
		completed:  desc("requests_completed_total", "Probes that produced a result"),
		found:      desc("findings_total", "Probe results accepted as findings"),
		errors:     desc("errors_total", "Probes that failed at the transport level"),
		elapsed:    desc("session_elapsed_seconds", "Time since the session started"),
		state:      desc("session_state", "1 for the session's current lifecycle state", "state"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.candidates, c.dispatched, c.completed, c.found, c.errors, c.elapsed, c.state} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, id := range c.eng.Sessions() {
		s, err := c.eng.Session(id)
		if err != nil {
			// Removed between Sessions and Session.
			continue
		}
		p := s.Progress()
		labels := []string{string(id), s.Target()}

		ch <- prometheus.MustNewConstMetric(c.candidates, prometheus.GaugeValue, float64(p.Total), labels...)
		ch <- prometheus.MustNewConstMetric(c.dispatched, prometheus.CounterValue, float64(p.Dispatched), labels...)
		ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(p.Completed), labels...)
		ch <- prometheus.MustNewConstMetric(c.found, prometheus.CounterValue, float64(p.Found), labels...)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(p.Errors), labels...)
		ch <- prometheus.MustNewConstMetric(c.elapsed, prometheus.GaugeValue, p.Elapsed.Seconds(), labels...)
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, 1, append(labels, p.State.String())...)
	}
}

// Server serves /metrics for one engine.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// Handler returns an http.Handler exposing eng's metrics from a private
// registry.
func Handler(eng *engine.Engine) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(eng)); err != nil {
		return nil, fmt.Errorf("registering collector: %w", err)
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

// Serve listens on addr and serves metrics until Close. Listen errors are
// returned synchronously.
func Serve(addr string, eng *engine.Engine, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	handler, err := Handler(eng)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	s := &Server{
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", s.URL()))
	return s, nil
}

// URL returns the full address of the metrics endpoint.
func (s *Server) URL() string {
	return "http://" + s.listener.Addr().String() + "/metrics"
}

// Close shuts the server down gracefully.
func (s *Server) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
