package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/llm"
	"agent-jury/backend/internal/metrics"
	"agent-jury/backend/internal/schema"
)

// Generator is satisfied by *llm.Chain.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Response, error)
}

// RunInput describes one role evaluation.
type RunInput struct {
	Role        RoleSpec
	CaseText    string
	Seed        *int64
	Temperature float64
	DualPass    bool
}

// Runner drives provider call, parsing and bias analysis for one role.
type Runner struct {
	generator Generator
	metrics   metrics.Recorder
}

// NewRunner wires a runner to a provider chain.
func NewRunner(generator Generator, recorder metrics.Recorder) *Runner {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Runner{generator: generator, metrics: recorder}
}

// Run evaluates the case for one role. Provider and parse failures are
// returned as-is; a failed verification pass is recorded on the result.
func (r *Runner) Run(ctx context.Context, in RunInput) (Assessment, error) {
	log := logrus.WithField("agent", in.Role.Name)
	start := time.Now()

	req := llm.Request{
		System:      BuildSystemPrompt(in.Role),
		User:        BuildUserPrompt(in.CaseText, in.Role),
		Temperature: in.Temperature,
		Seed:        in.Seed,
	}

	primary, err := r.singlePass(ctx, in.Role, req)
	if err != nil {
		r.metrics.AgentRun(in.Role.Key, false, time.Since(start))
		log.WithError(err).Error("agent failed")
		return Assessment{}, err
	}

	primary.BiasFlags = DetectBias(primary)
	if len(primary.BiasFlags) > 0 {
		log.WithField("bias_flags", primary.BiasFlags).Warn("bias detected in agent response")
	}

	if !in.DualPass {
		r.metrics.AgentRun(in.Role.Key, true, time.Since(start))
		log.WithFields(logrus.Fields{
			"score":      primary.Score,
			"confidence": primary.Confidence,
		}).Info("agent completed")
		return primary, nil
	}

	verifyReq := req
	verifyReq.Seed = nil
	if in.Seed != nil {
		next := *in.Seed + 1
		verifyReq.Seed = &next
	}

	verification, verifyErr := r.singlePass(ctx, in.Role, verifyReq)
	if verifyErr != nil {
		log.WithError(verifyErr).Warn("dual-pass verification failed")
		result := Reconcile(primary, nil, verifyErr)
		r.metrics.AgentRun(in.Role.Key, true, time.Since(start))
		return result, nil
	}

	result := Reconcile(primary, &verification, nil)
	if !result.Consistency.Passed {
		log.WithFields(logrus.Fields{
			"delta":         *result.Consistency.Delta,
			"primary_score": primary.Score,
			"verify_score":  verification.Score,
		}).Warn("consistency check failed, averaging scores")
	}
	r.metrics.AgentRun(in.Role.Key, true, time.Since(start))
	log.WithFields(logrus.Fields{
		"score":              result.Score,
		"confidence":         result.Confidence,
		"consistency_passed": result.Consistency.Passed,
	}).Info("agent completed (dual-pass)")
	return result, nil
}

func (r *Runner) singlePass(ctx context.Context, role RoleSpec, req llm.Request) (Assessment, error) {
	resp, err := r.generator.Generate(ctx, req)
	if err != nil {
		return Assessment{}, err
	}
	parsed, err := schema.Parse(resp.Text)
	if err != nil {
		return Assessment{}, err
	}
	a := fromResponse(role.Name, parsed)
	a.Provider = resp.Provider
	a.Model = resp.Model
	return a, nil
}
