// Package metrics holds the Prometheus instruments for the sync engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LocalWrites        *prometheus.CounterVec
	RemoteFailures     *prometheus.CounterVec
	SweepRecords       *prometheus.CounterVec
	PendingRecords     prometheus.Gauge
	UploadAttempts     prometheus.Counter
	UploadResults      *prometheus.CounterVec
	UploadDuration     prometheus.Histogram
	Submissions        prometheus.Counter
	ConnectivityOnline prometheus.Gauge
}

// New registers the instruments with reg. A nil reg uses a fresh registry so
// repeated construction in tests never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		LocalWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_local_writes_total",
			Help: "Local progress writes by result",
		}, []string{"result"}),
		RemoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_remote_failures_total",
			Help: "Remote store failures by operation",
		}, []string{"op"}),
		SweepRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_sync_sweep_records_total",
			Help: "Records processed by the pending-data sweep by result",
		}, []string{"result"}),
		PendingRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "onboard_pending_records",
			Help: "Local records not yet confirmed by the remote store",
		}),
		UploadAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "onboard_upload_attempts_total",
			Help: "Upload attempts including retries",
		}),
		UploadResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_upload_results_total",
			Help: "Finished uploads by outcome",
		}, []string{"outcome"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboard_upload_duration_seconds",
			Help:    "Wall time from upload start to terminal event",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Submissions: f.NewCounter(prometheus.CounterOpts{
			Name: "onboard_submissions_total",
			Help: "Onboarding submissions accepted for review",
		}),
		ConnectivityOnline: f.NewGauge(prometheus.GaugeOpts{
			Name: "onboard_remote_online",
			Help: "1 when the last remote probe succeeded",
		}),
	}
}

func (m *Metrics) LocalWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LocalWrites.WithLabelValues("error").Inc()
		return
	}
	m.LocalWrites.WithLabelValues("ok").Inc()
}

func (m *Metrics) RemoteFailure(op string) {
	if m == nil {
		return
	}
	m.RemoteFailures.WithLabelValues(op).Inc()
}

// Sweep records one pending-data sweep.
func (m *Metrics) Sweep(synced, failed, stillPending int) {
	if m == nil {
		return
	}
	m.SweepRecords.WithLabelValues("synced").Add(float64(synced))
	m.SweepRecords.WithLabelValues("failed").Add(float64(failed))
	m.PendingRecords.Set(float64(stillPending))
}

func (m *Metrics) UploadAttempt() {
	if m == nil {
		return
	}
	m.UploadAttempts.Inc()
}

func (m *Metrics) UploadFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UploadResults.WithLabelValues(outcome).Inc()
	m.UploadDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.Submissions.Inc()
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.ConnectivityOnline.Set(1)
	} else {
		m.ConnectivityOnline.Set(0)
	}
}
