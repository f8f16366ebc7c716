// Package metrics exports domain counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/classroom-attendance/internal/application"
)

// Recorder implements application.Metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	outcomes       *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	signIns        *prometheus.CounterVec
	auditFailures  *prometheus.CounterVec
	backupAttempts *prometheus.CounterVec
}

// New registers the attendance counters, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "attendance_outcomes_total",
			Help:      "Attendance signals by outcome and source.",
		}, []string{"outcome", "source"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "attendance_rejections_total",
			Help:      "Attendance signals refused, by reason.",
		}, []string{"reason"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "identity_sign_ins_total",
			Help:      "Sign-in attempts by result.",
		}, []string{"result"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "audit_write_failures_total",
			Help:      "Audit records that could not be written.",
		}, []string{"kind"}),
		backupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "backups_total",
			Help:      "Backup attempts by status.",
		}, []string{"status"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.outcomes,
		r.rejections,
		r.signIns,
		r.auditFailures,
		r.backupAttempts,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) AttendanceRecorded(outcome, source string) {
	r.outcomes.WithLabelValues(outcome, source).Inc()
}

func (r *Recorder) AttendanceRejected(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) SignIn(result string) {
	r.signIns.WithLabelValues(result).Inc()
}

func (r *Recorder) AuditWriteFailed(kind string) {
	r.auditFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) BackupRecorded(status string) {
	r.backupAttempts.WithLabelValues(status).Inc()
}

var _ application.Metrics = (*Recorder)(nil)
