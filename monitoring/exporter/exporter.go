// Package exporter serves engine observability over HTTP: Prometheus
// metrics for the verifier counters and alert levels, and a JSON view of
// the alert histories.
package exporter

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keelstore/pkg/engine"
	"keelstore/pkg/logging"
	"keelstore/pkg/verify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Exporter publishes engine state.
type Exporter struct {
	engine   *engine.Engine
	registry *prometheus.Registry

	journalAddress prometheus.GaugeFunc
	alertLevel     prometheus.GaugeFunc
	treeCount      prometheus.GaugeFunc

	verifyFaults  prometheus.Gauge
	verifyCounter *prometheus.GaugeVec
	checksRun     prometheus.Counter
}

// New builds an exporter bound to one engine.
func New(e *engine.Engine) *Exporter {
	registry := prometheus.NewRegistry()
	x := &Exporter{engine: e, registry: registry}

	x.journalAddress = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "keelstore_journal_current_address",
		Help: "Journal address the next record will be written at",
	}, func() float64 { return float64(e.Journal().CurrentAddress()) })

	x.alertLevel = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "keelstore_alert_level",
		Help: "Highest alert level across categories (0 normal, 1 warn, 2 error)",
	}, func() float64 { return float64(e.Alerts().AlertLevel()) })

	x.treeCount = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "keelstore_tree_count",
		Help: "Registered trees",
	}, func() float64 { return float64(len(e.Trees())) })

	x.verifyFaults = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keelstore_verify_faults",
		Help: "Faults found by the most recent integrity check",
	})
	x.verifyCounter = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keelstore_verify_counter",
		Help: "Counters from the most recent integrity check",
	}, []string{"counter"})
	x.checksRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keelstore_verify_runs_total",
		Help: "Integrity check runs recorded by the exporter",
	})

	registry.MustRegister(x.journalAddress, x.alertLevel, x.treeCount,
		x.verifyFaults, x.verifyCounter, x.checksRun)
	return x
}

// RecordCheck publishes the outcome of an integrity check run.
func (x *Exporter) RecordCheck(ic *verify.IntegrityCheck) {
	x.checksRun.Inc()
	x.verifyFaults.Set(float64(len(ic.Faults())))
	c := ic.Counters()
	x.verifyCounter.WithLabelValues("index_pages").Set(float64(c.IndexPageCount))
	x.verifyCounter.WithLabelValues("index_bytes").Set(float64(c.IndexBytesInUse))
	x.verifyCounter.WithLabelValues("data_pages").Set(float64(c.DataPageCount))
	x.verifyCounter.WithLabelValues("data_bytes").Set(float64(c.DataBytesInUse))
	x.verifyCounter.WithLabelValues("long_record_pages").Set(float64(c.LongRecordPageCount))
	x.verifyCounter.WithLabelValues("long_record_bytes").Set(float64(c.LongRecordBytesInUse))
	x.verifyCounter.WithLabelValues("mvv_pages").Set(float64(c.MvvPageCount))
	x.verifyCounter.WithLabelValues("mvv_records").Set(float64(c.MvvCount))
	x.verifyCounter.WithLabelValues("mvv_overhead").Set(float64(c.MvvOverhead))
	x.verifyCounter.WithLabelValues("mvv_anti_values").Set(float64(c.MvvAntiValues))
	x.verifyCounter.WithLabelValues("index_holes").Set(float64(c.IndexHoleCount))
	x.verifyCounter.WithLabelValues("pruned_pages").Set(float64(c.PrunedPageCount))
	x.verifyCounter.WithLabelValues("garbage_pages").Set(float64(c.GarbagePageCount))
}

type alertEntry struct {
	Category string `json:"category"`
	Level    string `json:"level"`
	Count    int    `json:"count"`
	Duration int64  `json:"durationSeconds"`
	Last     string `json:"lastEvent,omitempty"`
}

// Router mounts /metrics and /alerts.
func (x *Exporter) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{}))
	r.Get("/alerts", x.handleAlerts)
	return r
}

func (x *Exporter) handleAlerts(w http.ResponseWriter, r *http.Request) {
	monitor := x.engine.Alerts()
	var entries []alertEntry
	for _, category := range monitor.Categories() {
		h := monitor.History(category)
		if h == nil {
			continue
		}
		e := alertEntry{
			Category: category,
			Level:    h.Level().String(),
			Count:    h.Count(),
			Duration: h.DurationSeconds(),
		}
		if last := h.LastEvent(); last != nil {
			e.Last = last.String()
		}
		entries = append(entries, e)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		logging.Error("alert encoding failed", "error", err)
	}
}

// Serve blocks serving the exporter on addr.
func (x *Exporter) Serve(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           x.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logging.Info("metrics exporter listening", "addr", addr)
	return server.ListenAndServe()
}
