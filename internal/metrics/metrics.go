// Package metrics exposes routing, dispatch and alerting counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"missionctl/internal/domain"
)

const (
	ModePreview = "preview"
	ModeApplied = "applied"

	DispatchSuccess = "success"
	DispatchFailure = "failure"
	DispatchDropped = "dropped"
)

// Recorder owns a private registry so several engines (tests, embedded
// servers) can coexist in one process. A nil *Recorder is a no-op.
type Recorder struct {
	registry        *prometheus.Registry
	routeDecisions  *prometheus.CounterVec
	dispatchResults *prometheus.CounterVec
	mentionsCreated prometheus.Counter
	lateTasks       *prometheus.GaugeVec
	lateScans       prometheus.Counter
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		routeDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "missionctl_route_decisions_total",
				Help: "Routing decisions by mode (preview or applied)",
			},
			[]string{"mode"},
		),
		dispatchResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "missionctl_dispatch_total",
				Help: "Outbound gateway dispatches by result",
			},
			[]string{"result"},
		),
		mentionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "missionctl_mentions_created_total",
				Help: "Mention records created from comments",
			},
		),
		lateTasks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "missionctl_late_tasks",
				Help: "Late tasks returned by the most recent scan, by status",
			},
			[]string{"status"},
		),
		lateScans: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "missionctl_late_scans_total",
				Help: "Late-task scans executed",
			},
		),
	}
}

func (r *Recorder) ObserveRoute(mode string) {
	if r == nil {
		return
	}
	r.routeDecisions.WithLabelValues(mode).Inc()
}

func (r *Recorder) ObserveDispatch(result string) {
	if r == nil {
		return
	}
	r.dispatchResults.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveMentions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.mentionsCreated.Add(float64(n))
}

// ObserveLateScan sets the late gauge from one scan's grouping.
func (r *Recorder) ObserveLateScan(grouped map[string][]domain.Task) {
	if r == nil {
		return
	}
	r.lateScans.Inc()
	for _, status := range domain.LateStatuses {
		r.lateTasks.WithLabelValues(status).Set(float64(len(grouped[status])))
	}
}

// Registry is exposed for tests that read counter values.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
