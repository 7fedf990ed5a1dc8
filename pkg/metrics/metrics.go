package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the set of counters the workflows report into.
type Recorder interface {
	ObserveLLMCall(purpose, outcome string, duration time.Duration)
	IncLLMRetry(purpose string)
	IncPersonaCommit(mode, outcome string)
	IncRollback(outcome string)
	IncBackupsTrimmed(count int)
	IncProfileFlush(trigger, outcome string)
	IncBufferRequeue(restored bool)
	SetBufferedMessages(count int)
	IncIntentCache(hit bool)
}

// Registry pairs a Recorder with the HTTP handler exposing it.
type Registry struct {
	Recorder
	handler http.Handler
}

func (r *Registry) Handler() http.Handler {
	return r.handler
}

type promRecorder struct {
	llmCalls        *prometheus.HistogramVec
	llmRetries      *prometheus.CounterVec
	commits         *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	backupsTrimmed  prometheus.Counter
	flushes         *prometheus.CounterVec
	requeues        *prometheus.CounterVec
	bufferedMessage prometheus.Gauge
	intentCache     *prometheus.CounterVec
}

// New returns a prometheus-backed registry, or a no-op one when disabled.
// Each registry owns its own prometheus.Registry so tests and multiple
// instances never collide on collector registration.
func New(enabled bool) *Registry {
	if !enabled {
		return &Registry{Recorder: Noop(), handler: http.NotFoundHandler()}
	}

	reg := prometheus.NewRegistry()
	r := &promRecorder{
		llmCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dotpersona_llm_call_duration_seconds",
			Help:    "Duration of architect LLM calls, including retries.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120, 180},
		}, []string{"purpose", "outcome"}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotpersona_llm_retries_total",
			Help: "Architect LLM call retries.",
		}, []string{"purpose"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotpersona_persona_commits_total",
			Help: "Persona commits by edit mode and outcome.",
		}, []string{"mode", "outcome"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotpersona_persona_rollbacks_total",
			Help: "Persona rollbacks by outcome.",
		}, []string{"outcome"}),
		backupsTrimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dotpersona_backups_trimmed_total",
			Help: "Backup files removed by retention.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotpersona_profile_flushes_total",
			Help: "Message buffer flushes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		requeues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotpersona_buffer_requeues_total",
			Help: "Failed flushes, split by whether messages were restored.",
		}, []string{"restored"}),
		bufferedMessage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dotpersona_buffered_messages",
			Help: "Messages currently waiting in profile buffers.",
		}),
		intentCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotpersona_intent_cache_lookups_total",
			Help: "Smart-command intent cache lookups.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		r.llmCalls, r.llmRetries, r.commits, r.rollbacks, r.backupsTrimmed,
		r.flushes, r.requeues, r.bufferedMessage, r.intentCache,
	)
	return &Registry{
		Recorder: r,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

func (m *promRecorder) ObserveLLMCall(purpose, outcome string, duration time.Duration) {
	m.llmCalls.WithLabelValues(purpose, outcome).Observe(duration.Seconds())
}

func (m *promRecorder) IncLLMRetry(purpose string) {
	m.llmRetries.WithLabelValues(purpose).Inc()
}

func (m *promRecorder) IncPersonaCommit(mode, outcome string) {
	m.commits.WithLabelValues(mode, outcome).Inc()
}

func (m *promRecorder) IncRollback(outcome string) {
	m.rollbacks.WithLabelValues(outcome).Inc()
}

func (m *promRecorder) IncBackupsTrimmed(count int) {
	if count > 0 {
		m.backupsTrimmed.Add(float64(count))
	}
}

func (m *promRecorder) IncProfileFlush(trigger, outcome string) {
	m.flushes.WithLabelValues(trigger, outcome).Inc()
}

func (m *promRecorder) IncBufferRequeue(restored bool) {
	label := "false"
	if restored {
		label = "true"
	}
	m.requeues.WithLabelValues(label).Inc()
}

func (m *promRecorder) SetBufferedMessages(count int) {
	m.bufferedMessage.Set(float64(count))
}

func (m *promRecorder) IncIntentCache(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	m.intentCache.WithLabelValues(label).Inc()
}

type noopRecorder struct{}

// Noop returns a Recorder that discards everything.
func Noop() Recorder { return noopRecorder{} }

func (noopRecorder) ObserveLLMCall(string, string, time.Duration) {}
func (noopRecorder) IncLLMRetry(string)                           {}
func (noopRecorder) IncPersonaCommit(string, string)              {}
func (noopRecorder) IncRollback(string)                           {}
func (noopRecorder) IncBackupsTrimmed(int)                        {}
func (noopRecorder) IncProfileFlush(string, string)               {}
func (noopRecorder) IncBufferRequeue(bool)                        {}
func (noopRecorder) SetBufferedMessages(int)                      {}
func (noopRecorder) IncIntentCache(bool)                          {}
