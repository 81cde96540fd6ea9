// Package metrics holds the client-side Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "segclient"

var (
	wsConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connect_attempts_total",
			Help:      "Duplex connection attempts by result",
		},
		[]string{"result"},
	)

	wsReconnectsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnects scheduled after an abnormal close",
		},
	)

	wsMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "Duplex messages by direction and type",
		},
		[]string{"direction", "type"},
	)

	wsDroppedSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "dropped_sends_total",
			Help:      "Outbound messages dropped while not connected",
		},
		[]string{"type"},
	)

	wsParseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "parse_errors_total",
			Help:      "Inbound duplex messages that failed to decode",
		},
	)

	wsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connected",
			Help:      "1 while the duplex connection is open",
		},
	)

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "REST requests by operation and status",
		},
		[]string{"op", "status"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "REST request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "upload_bytes_total",
			Help:      "Image bytes sent to the backend",
		},
	)

	persistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persist_errors_total",
			Help:      "Failed state persistence writes by store",
		},
		[]string{"store"},
	)
)

func init() {
	prometheus.MustRegister(
		wsConnectAttempts, wsReconnectsScheduled, wsMessages, wsDroppedSends,
		wsParseErrors, wsConnected, apiRequests, apiDuration, uploadBytes, persistErrors,
	)
}

// ConnectAttempt records a dial outcome.
func ConnectAttempt(ok bool) {
	if ok {
		wsConnectAttempts.WithLabelValues("ok").Inc()
		return
	}
	wsConnectAttempts.WithLabelValues("error").Inc()
}

func ReconnectScheduled() { wsReconnectsScheduled.Inc() }

func MessageIn(typ string) { wsMessages.WithLabelValues("in", label(typ)).Inc() }
func MessageOut(typ string) { wsMessages.WithLabelValues("out", label(typ)).Inc() }
func DroppedSend(typ string) { wsDroppedSends.WithLabelValues(label(typ)).Inc() }
func ParseError() { wsParseErrors.Inc() }

// SetConnected flips the connection gauge.
func SetConnected(up bool) {
	if up {
		wsConnected.Set(1)
		return
	}
	wsConnected.Set(0)
}

// ObserveRequest records one REST call. status 0 means no response.
func ObserveRequest(op string, status int, d time.Duration) {
	apiRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()
	apiDuration.WithLabelValues(op).Observe(d.Seconds())
}

func UploadBytes(n int) { uploadBytes.Add(float64(n)) }

func PersistError(store string) { persistErrors.WithLabelValues(store).Inc() }

func label(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
