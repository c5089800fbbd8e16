// Package metrics provides Prometheus metrics for the sync job
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for chat-sync. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	PassesTotal      *prometheus.CounterVec
	PassDuration     prometheus.Histogram
	LastPassUnixTime prometheus.Gauge

	UsersTotal    *prometheus.CounterVec
	ChatsTotal    *prometheus.CounterVec
	MessagesTotal prometheus.Counter
	BytesTotal    *prometheus.CounterVec

	StoreOperationDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_passes_total",
				Help: "Total number of sync passes by outcome",
			},
			[]string{"status"},
		),
		PassDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatsync_pass_duration_seconds",
				Help:    "Duration of sync passes in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		LastPassUnixTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_last_pass_timestamp_seconds",
				Help: "Unix time at which the last pass finished",
			},
		),
		UsersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_users_total",
				Help: "Users handled by sync passes by outcome",
			},
			[]string{"outcome"},
		),
		ChatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_chats_total",
				Help: "Chats handled by sync passes by outcome",
			},
			[]string{"outcome"},
		),
		MessagesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_messages_synced_total",
				Help: "Messages written to the document store",
			},
		),
		BytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_bytes_total",
				Help: "Serialized chat bytes before and after minimization",
			},
			[]string{"stage"},
		),
		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatsync_store_operation_duration_seconds",
				Help:    "Duration of store calls in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"store", "operation", "status"},
		),
	}
}

// RecordPass records a finished pass.
func (m *Metrics) RecordPass(status string, duration time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(status).Inc()
	m.PassDuration.Observe(duration.Seconds())
	m.LastPassUnixTime.Set(float64(finished.Unix()))
}

// RecordUser records the outcome for one user: processed, empty or error.
func (m *Metrics) RecordUser(outcome string) {
	if m == nil {
		return
	}
	m.UsersTotal.WithLabelValues(outcome).Inc()
}

// RecordChat records one chat outcome: synced, skipped or failed.
func (m *Metrics) RecordChat(outcome string, messages int) {
	if m == nil {
		return
	}
	m.ChatsTotal.WithLabelValues(outcome).Inc()
	if outcome == "synced" {
		m.MessagesTotal.Add(float64(messages))
	}
}

// RecordBytes records the serialized size of one chat before and after
// minimization.
func (m *Metrics) RecordBytes(raw, minimized int) {
	if m == nil {
		return
	}
	m.BytesTotal.WithLabelValues("raw").Add(float64(raw))
	m.BytesTotal.WithLabelValues("minimized").Add(float64(minimized))
}

// RecordStoreOperation records one call against the source or destination.
func (m *Metrics) RecordStoreOperation(store, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationDuration.WithLabelValues(store, operation, status).Observe(duration.Seconds())
}
