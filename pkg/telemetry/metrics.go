package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for modhost. All record methods are safe on a nil
// or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Autoload metrics
	modulesLoaded *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	loadErrors    *prometheus.CounterVec
	indexEntries  *prometheus.GaugeVec
	fragments     *prometheus.GaugeVec

	// Dispatch metrics
	dispatches   *prometheus.CounterVec
	unresolved   *prometheus.CounterVec
	dispatchTime *prometheus.HistogramVec

	// Bundle metrics
	bundleSyncs *prometheus.CounterVec

	// Diagnostic metrics
	diagnostics *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		modulesLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "modules_loaded_total",
				Help:      "Total number of module files loaded on demand",
			},
			[]string{"identity"},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_load_duration_seconds",
				Help:      "Duration of module file loads in seconds",
				Buckets:   buckets,
			},
			[]string{"identity"},
		),
		loadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_load_errors_total",
				Help:      "Total number of module files that failed to load",
			},
			[]string{"identity"},
		),
		indexEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "autoload_entries",
				Help:      "Current number of pending autoload entries",
			},
			[]string{"identity"},
		),
		fragments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bundle_fragments",
				Help:      "Current number of discovered bundle fragments",
			},
			[]string{"identity"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of resolved capability dispatches by tier",
			},
			[]string{"identity", "tier"},
		),
		unresolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_unresolved_total",
				Help:      "Total number of dispatches with no matching capability",
			},
			[]string{"identity"},
		),
		dispatchTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of capability dispatch in seconds",
				Buckets:   buckets,
			},
			[]string{"identity", "tier"},
		),
		bundleSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundle_syncs_total",
				Help:      "Total number of bundle syncs by outcome (written, unchanged)",
			},
			[]string{"identity", "outcome"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostics_total",
				Help:      "Total number of diagnostics reported by type",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.modulesLoaded,
		m.loadDuration,
		m.loadErrors,
		m.indexEntries,
		m.fragments,
		m.dispatches,
		m.unresolved,
		m.dispatchTime,
		m.bundleSyncs,
		m.diagnostics,
	)

	return m, nil
}

// RecordModuleLoad records a module file load and its duration.
func (m *Metrics) RecordModuleLoad(identity string, duration time.Duration, err error) {
	if m == nil || m.modulesLoaded == nil {
		return
	}
	if err != nil {
		m.loadErrors.WithLabelValues(identity).Inc()
		return
	}
	m.modulesLoaded.WithLabelValues(identity).Inc()
	m.loadDuration.WithLabelValues(identity).Observe(duration.Seconds())
}

// SetIndexSize sets the pending autoload entry and fragment counts for identity.
func (m *Metrics) SetIndexSize(identity string, entries, fragments int) {
	if m == nil || m.indexEntries == nil {
		return
	}
	m.indexEntries.WithLabelValues(identity).Set(float64(entries))
	m.fragments.WithLabelValues(identity).Set(float64(fragments))
}

// RecordDispatch records a resolved dispatch on tier.
func (m *Metrics) RecordDispatch(identity, tier string, duration time.Duration) {
	if m == nil || m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(identity, tier).Inc()
	m.dispatchTime.WithLabelValues(identity, tier).Observe(duration.Seconds())
}

// RecordUnresolved records a dispatch that matched no tier.
func (m *Metrics) RecordUnresolved(identity string) {
	if m == nil || m.unresolved == nil {
		return
	}
	m.unresolved.WithLabelValues(identity).Inc()
}

// RecordBundleSync records the outcome of a bundle sync.
func (m *Metrics) RecordBundleSync(identity string, written bool) {
	if m == nil || m.bundleSyncs == nil {
		return
	}
	outcome := "unchanged"
	if written {
		outcome = "written"
	}
	m.bundleSyncs.WithLabelValues(identity, outcome).Inc()
}

// RecordDiagnostic counts a reported diagnostic by type.
func (m *Metrics) RecordDiagnostic(eventType string) {
	if m == nil || m.diagnostics == nil {
		return
	}
	m.diagnostics.WithLabelValues(eventType).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the underlying Prometheus registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if m == nil || !m.config.Enabled {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return server, nil
}
