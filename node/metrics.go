package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fzft/go-time-server/log"
	"github.com/fzft/go-time-server/proto"
)

const metricsNamespace = "timeserver"

// Metrics holds the server collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	accepted      prometheus.Counter
	closed        prometheus.Counter
	active        prometheus.Gauge
	orders        *prometheus.CounterVec
	partialWrites prometheus.Counter
	droppedBytes  prometheus.Counter
	loopErrors    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the event loop.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_closed_total",
			Help:      "Connections closed by the event loop.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Connections currently registered for readiness.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orders_total",
			Help:      "Requests answered, by order type.",
		}, []string{"order"}),
		partialWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "partial_writes_total",
			Help:      "Responses the socket accepted only part of.",
		}),
		droppedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_response_bytes_total",
			Help:      "Response bytes discarded after a short write.",
		}),
		loopErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "loop_errors_total",
			Help:      "Failures of the readiness wait call.",
		}),
	}

	m.registry.MustRegister(m.accepted, m.closed, m.active, m.orders,
		m.partialWrites, m.droppedBytes, m.loopErrors)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) connAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.closed.Inc()
	m.active.Dec()
}

func (m *Metrics) observeOrder(order proto.OrderType) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(order.String()).Inc()
}

func (m *Metrics) partialWrite(dropped int) {
	if m == nil {
		return
	}
	m.partialWrites.Inc()
	m.droppedBytes.Add(float64(dropped))
}

func (m *Metrics) loopError() {
	if m == nil {
		return
	}
	m.loopErrors.Inc()
}

// ServeMetrics exposes m on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr, path string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	log.Logger.Info("metrics listening", zap.String("addr", addr), zap.String("path", path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
