package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the observability port used by the evaluation pipeline. Calls are
// synchronous and must never influence results.
type Recorder interface {
	LLMCall(provider, model string, success bool, duration time.Duration)
	LLMRetry(provider, model, reason string)
	LLMFallback(from, to string)
	AgentRun(role string, success bool, duration time.Duration)
	Evaluation(decision string, success bool, duration time.Duration)
	EvaluationError(category string, status int)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) LLMCall(string, string, bool, time.Duration) {}
func (Nop) LLMRetry(string, string, string) {}
func (Nop) LLMFallback(string, string) {}
func (Nop) AgentRun(string, bool, time.Duration) {}
func (Nop) Evaluation(string, bool, time.Duration) {}
func (Nop) EvaluationError(string, int) {}

// Prometheus implements Recorder with client_golang collectors.
type Prometheus struct {
	llmCalls         *prometheus.CounterVec
	llmDuration      *prometheus.HistogramVec
	llmRetries       *prometheus.CounterVec
	llmFallbacks     *prometheus.CounterVec
	agentRuns        *prometheus.CounterVec
	agentDuration    *prometheus.HistogramVec
	evaluations      *prometheus.CounterVec
	evalDuration     prometheus.Histogram
	evaluationErrors *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Prometheus
)

// Default returns collectors registered with the global Prometheus registry.
// They are created once so repeated server construction does not panic on
// duplicate registration.
func Default() *Prometheus {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the jury collectors with reg and panics on conflicting
// registrations. Tests should pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_jury",
			Name:      "llm_calls_total",
			Help:      "Provider calls by outcome.",
		}, []string{"provider", "model", "status"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent_jury",
			Name:      "llm_call_duration_seconds",
			Help:      "Provider call latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_jury",
			Name:      "llm_retries_total",
			Help:      "Retried provider attempts.",
		}, []string{"provider", "model", "reason"}),
		llmFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_jury",
			Name:      "llm_fallbacks_total",
			Help:      "Provider chain fallbacks.",
		}, []string{"from", "to"}),
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_jury",
			Name:      "agent_runs_total",
			Help:      "Evaluator role runs by outcome.",
		}, []string{"role", "status"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent_jury",
			Name:      "agent_run_duration_seconds",
			Help:      "Evaluator role run latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"role"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_jury",
			Name:      "evaluations_total",
			Help:      "Finished evaluations by decision.",
		}, []string{"decision", "status"}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent_jury",
			Name:      "evaluation_duration_seconds",
			Help:      "End-to-end evaluation latency.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80},
		}),
		evaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_jury",
			Name:      "evaluation_errors_total",
			Help:      "Classified evaluation failures.",
		}, []string{"category", "status"}),
	}
	reg.MustRegister(
		p.llmCalls, p.llmDuration, p.llmRetries, p.llmFallbacks,
		p.agentRuns, p.agentDuration,
		p.evaluations, p.evalDuration, p.evaluationErrors,
	)
	return p
}

// LLMCall records one provider call.
func (p *Prometheus) LLMCall(provider, model string, success bool, duration time.Duration) {
	if p == nil {
		return
	}
	p.llmCalls.WithLabelValues(provider, model, statusLabel(success)).Inc()
	p.llmDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// LLMRetry records one retried attempt.
func (p *Prometheus) LLMRetry(provider, model, reason string) {
	if p == nil {
		return
	}
	p.llmRetries.WithLabelValues(provider, model, reason).Inc()
}

// LLMFallback records a hop to the next provider in the chain.
func (p *Prometheus) LLMFallback(from, to string) {
	if p == nil {
		return
	}
	p.llmFallbacks.WithLabelValues(from, to).Inc()
}

// AgentRun records one evaluator role run.
func (p *Prometheus) AgentRun(role string, success bool, duration time.Duration) {
	if p == nil {
		return
	}
	p.agentRuns.WithLabelValues(role, statusLabel(success)).Inc()
	p.agentDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// Evaluation records a finished evaluation.
func (p *Prometheus) Evaluation(decision string, success bool, duration time.Duration) {
	if p == nil {
		return
	}
	if decision == "" {
		decision = "error"
	}
	p.evaluations.WithLabelValues(decision, statusLabel(success)).Inc()
	p.evalDuration.Observe(duration.Seconds())
}

// EvaluationError records a classified failure surfaced to a caller.
func (p *Prometheus) EvaluationError(category string, status int) {
	if p == nil {
		return
	}
	p.evaluationErrors.WithLabelValues(category, strconv.Itoa(status)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
