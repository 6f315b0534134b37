// Package metrics exposes Prometheus counters derived from activity events.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/guardian/internal/activity"
)

const namespace = "guardian"

// Collector counts license and restore activity. It implements activity.Logger.
type Collector struct {
	registry *prometheus.Registry

	licensesIssued   *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	requestsCreated  prometheus.Counter
	requestsHandled  *prometheus.CounterVec
	capsulesRestored *prometheus.CounterVec
	restoreRuns      *prometheus.CounterVec
	backupsCreated   prometheus.Counter
}

// InitMetrics creates a Collector and registers its counters with registry.
// A nil registry gets a fresh one.
func InitMetrics(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		licensesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "license", Name: "issued_total",
			Help: "Licenses issued, by license type.",
		}, []string{"type"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "license", Name: "verifications_total",
			Help: "License verifications, by outcome.",
		}, []string{"outcome"}),
		requestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "license", Name: "requests_created_total",
			Help: "License requests created.",
		}),
		requestsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "license", Name: "requests_processed_total",
			Help: "License requests processed, by action.",
		}, []string{"action"}),
		capsulesRestored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "restore", Name: "capsules_total",
			Help: "Capsules handled by restore runs, by outcome.",
		}, []string{"outcome"}),
		restoreRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "restore", Name: "runs_total",
			Help: "Restore runs, by mode.",
		}, []string{"mode"}),
		backupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backup", Name: "created_total",
			Help: "Backup artifacts created.",
		}),
	}
	registry.MustRegister(
		c.licensesIssued, c.verifications, c.requestsCreated, c.requestsHandled,
		c.capsulesRestored, c.restoreRuns, c.backupsCreated,
	)
	return c
}

// Registry returns the registry the counters are registered with.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Log implements activity.Logger.
func (c *Collector) Log(_ context.Context, _, event string, payload map[string]any) {
	switch event {
	case activity.LicenseIssued:
		c.licensesIssued.WithLabelValues(stringField(payload, "license_type")).Inc()
	case activity.LicenseVerified:
		outcome, _ := payload["outcome"].(string)
		if outcome == "" {
			outcome = "invalid"
			if v, _ := payload["valid"].(bool); v {
				outcome = "valid"
			}
		}
		c.verifications.WithLabelValues(outcome).Inc()
	case activity.LicenseRequestCreated:
		c.requestsCreated.Inc()
	case activity.LicenseRequestApproved:
		c.requestsHandled.WithLabelValues("approve").Inc()
	case activity.LicenseRequestRejected:
		c.requestsHandled.WithLabelValues("reject").Inc()
	case activity.RestoreDryRun:
		c.restoreRuns.WithLabelValues("dry_run").Inc()
	case activity.RestoreCompleted, activity.RestoreMerged:
		mode := "restore"
		if event == activity.RestoreMerged {
			mode = "merge"
		}
		c.restoreRuns.WithLabelValues(mode).Inc()
		c.capsulesRestored.WithLabelValues("restored").Add(intField(payload, "restored"))
		c.capsulesRestored.WithLabelValues("skipped").Add(intField(payload, "skipped"))
		c.capsulesRestored.WithLabelValues("error").Add(intField(payload, "errors"))
	case activity.BackupCreated:
		c.backupsCreated.Inc()
	}
}

func stringField(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func intField(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case int:
		if v > 0 {
			return float64(v)
		}
	case int64:
		if v > 0 {
			return float64(v)
		}
	case float64:
		if v > 0 {
			return v
		}
	}
	return 0
}
