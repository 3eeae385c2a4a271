// Package metrics records session activity (staging steps, compiles, mirror
// copies and classified failures) in a Prometheus registry that the
// development server exposes.
package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stagehand"

// Recorder implements the recording interfaces of the staging, build, mirror
// and errors packages. A nil *Recorder is valid and records nothing.
type Recorder struct {
	once            sync.Once
	registry        *prom.Registry
	stagingDuration *prom.HistogramVec
	compileDuration *prom.HistogramVec
	compiles        *prom.CounterVec
	mirrorCopies    *prom.CounterVec
	failures        *prom.CounterVec
}

// NewRecorder constructs and registers the session metrics on reg. A nil reg
// gets a fresh registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{registry: reg}
	r.once.Do(func() {
		r.stagingDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "staging_step_duration_seconds",
			Help:      "Duration of individual staging steps",
			Buckets:   prom.DefBuckets,
		}, []string{"step", "result"})
		r.compileDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Duration of compilations per target",
			Buckets:   prom.DefBuckets,
		}, []string{"target"})
		r.compiles = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Compilations per target by outcome",
		}, []string{"target", "result"})
		r.mirrorCopies = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_copies_total",
			Help:      "Mirror copy attempts by outcome",
		}, []string{"result"})
		r.failures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Classified failures by site and classification",
		}, []string{"site", "classification"})
		reg.MustRegister(r.stagingDuration, r.compileDuration, r.compiles, r.mirrorCopies, r.failures)
	})
	return r
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveStagingStep records one staging step.
func (r *Recorder) ObserveStagingStep(step string, d time.Duration, err error) {
	if r == nil || r.stagingDuration == nil {
		return
	}
	r.stagingDuration.WithLabelValues(step, result(err)).Observe(d.Seconds())
}

// ObserveCompile records one compilation of target.
func (r *Recorder) ObserveCompile(target string, d time.Duration, err error) {
	if r == nil || r.compiles == nil {
		return
	}
	r.compileDuration.WithLabelValues(target).Observe(d.Seconds())
	r.compiles.WithLabelValues(target, result(err)).Inc()
}

// RecordMirrorCopy records one mirror copy attempt.
func (r *Recorder) RecordMirrorCopy(err error) {
	if r == nil || r.mirrorCopies == nil {
		return
	}
	r.mirrorCopies.WithLabelValues(result(err)).Inc()
}

// RecordFailure records a classified failure.
func (r *Recorder) RecordFailure(site, classification string) {
	if r == nil || r.failures == nil {
		return
	}
	r.failures.WithLabelValues(site, classification).Inc()
}
