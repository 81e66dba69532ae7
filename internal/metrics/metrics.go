// Package metrics exposes Prometheus counters for the store, the
// reconciliation loop and notification delivery.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors registered with the default Prometheus registry.
var (
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalbot_store_retries_total",
		Help: "Store operations retried after a transient failure",
	}, []string{"op"})

	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalbot_store_failures_total",
		Help: "Store operations that failed after retries or with a permanent error",
	}, []string{"op"})

	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalbot_reconcile_ticks_total",
		Help: "Reconciliation ticks by outcome",
	}, []string{"outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalbot_transitions_total",
		Help: "Status transitions detected, by target status",
	}, []string{"status"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalbot_notifications_total",
		Help: "Notification dispatch outcomes",
	}, []string{"outcome"})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalbot_submissions_total",
		Help: "Inbound submissions by outcome",
	}, []string{"outcome"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rentalbot_reconcile_tick_duration_seconds",
		Help:    "Duration of reconciliation ticks",
		Buckets: prometheus.DefBuckets,
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
