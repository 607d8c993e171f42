// Package metrics exposes rig counters in Prometheus format.
//
// All Recorder methods are safe on a nil receiver so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "olfacto"

// Tag read results.
const (
	TagRecognized   = "recognized"
	TagUnrecognized = "unrecognized"
	TagDecodeError  = "decode_error"
	TagReadError    = "read_error"
)

// Recorder owns a private registry with the rig's collectors.
type Recorder struct {
	reg *prometheus.Registry

	transitions    *prometheus.CounterVec
	trials         *prometheus.CounterVec
	tagReads       *prometheus.CounterVec
	maintenance    *prometheus.CounterVec
	inPortTimeouts prometheus.Counter
	trialFailures  prometheus.Counter
	licks          prometheus.Histogram
	paused         prometheus.Gauge
}

// New builds a Recorder for rig, registering Go runtime and process collectors.
func New(rig string) *Recorder {
	labels := prometheus.Labels{"rig": rig}
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_transitions_total",
			Help: "State machine entries by state.", ConstLabels: labels,
		}, []string{"state"}),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trials_total",
			Help: "Completed trials by score.", ConstLabels: labels,
		}, []string{"score"}),
		tagReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tag_reads_total",
			Help: "Serial tag reads by result.", ConstLabels: labels,
		}, []string{"result"}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "maintenance_runs_total",
			Help: "Idle maintenance tasks by task and result.", ConstLabels: labels,
		}, []string{"task", "result"}),
		inPortTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "inport_timeouts_total",
			Help: "Presence confirmations that timed out.", ConstLabels: labels,
		}),
		trialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trial_failures_total",
			Help: "Trials aborted by an error or panic.", ConstLabels: labels,
		}),
		licks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "trial_licks",
			Help: "Licks recorded per trial.", ConstLabels: labels,
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "paused",
			Help: "1 while tag polling is paused.", ConstLabels: labels,
		}),
	}
	r.reg.MustRegister(
		r.transitions, r.trials, r.tagReads, r.maintenance,
		r.inPortTimeouts, r.trialFailures, r.licks, r.paused,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) Transition(state string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(state).Inc()
}

func (r *Recorder) TrialScored(score string, licks int) {
	if r == nil {
		return
	}
	r.trials.WithLabelValues(score).Inc()
	r.licks.Observe(float64(licks))
}

func (r *Recorder) TagRead(result string) {
	if r == nil {
		return
	}
	r.tagReads.WithLabelValues(result).Inc()
}

func (r *Recorder) InPortTimeout() {
	if r == nil {
		return
	}
	r.inPortTimeouts.Inc()
}

func (r *Recorder) TrialFailed() {
	if r == nil {
		return
	}
	r.trialFailures.Inc()
}

func (r *Recorder) SetPaused(paused bool) {
	if r == nil {
		return
	}
	v := 0.0
	if paused {
		v = 1
	}
	r.paused.Set(v)
}

// MaintenanceRun implements maintenance.Reporter.
func (r *Recorder) MaintenanceRun(task, result string) {
	if r == nil {
		return
	}
	r.maintenance.WithLabelValues(task, result).Inc()
}
