// Package metrics provides Prometheus metrics for postfs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog request metrics
	catalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postfs_catalog_requests_total",
			Help: "Total number of catalog HTTP requests",
		},
		[]string{"op", "status"},
	)

	catalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postfs_catalog_request_duration_seconds",
			Help:    "Catalog request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	variantBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postfs_variant_bytes_downloaded_total",
			Help: "Total media bytes downloaded from the catalog",
		},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postfs_cache_lookups_total",
			Help: "Object cache lookups by result",
		},
		[]string{"result"},
	)

	cacheObjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postfs_cache_objects",
			Help: "Number of posts held in the object cache",
		},
	)

	// Filesystem metrics
	fsOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postfs_fs_ops_total",
			Help: "Filesystem operations by result",
		},
		[]string{"op", "result"},
	)
)

// RecordCatalogRequest records one catalog request attempt.
func RecordCatalogRequest(op, status string, duration time.Duration) {
	catalogRequestsTotal.WithLabelValues(op, status).Inc()
	catalogRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordVariantBytes adds downloaded media bytes.
func RecordVariantBytes(n int64) {
	variantBytesDownloaded.Add(float64(n))
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	}
}

// SetCacheObjects sets the current cached object count.
func SetCacheObjects(n int) {
	cacheObjects.Set(float64(n))
}

// RecordFSOp records a filesystem operation outcome ("ok", "enoent", ...).
func RecordFSOp(op, result string) {
	fsOpsTotal.WithLabelValues(op, result).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
