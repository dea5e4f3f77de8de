package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/agent"
	"agent-jury/backend/internal/metrics"
	"agent-jury/backend/internal/scoring"
	"agent-jury/backend/internal/util"
)

// DefaultInterCallDelay spaces consecutive role calls against the shared provider.
const DefaultInterCallDelay = 1500 * time.Millisecond

// State is the evaluation lifecycle position.
type State string

const (
	StateCollecting  State = "collecting"
	StateAggregating State = "aggregating"
	StateDecided     State = "decided"
	StateAborted     State = "aborted"
)

// RoleRunner evaluates one role. *agent.Runner satisfies it.
type RoleRunner interface {
	Run(ctx context.Context, in agent.RunInput) (agent.Assessment, error)
}

// Config is fixed for the process lifetime.
type Config struct {
	Roles          []agent.RoleSpec
	InterCallDelay time.Duration
	Temperature    float64
	Seed           *int64
	DualPass       bool
	Scoring        scoring.Config
	ProviderChain  []string
}

// DefaultConfig returns the three default roles and stock scoring settings.
func DefaultConfig() Config {
	return Config{
		Roles:          agent.DefaultRoles(),
		InterCallDelay: DefaultInterCallDelay,
		Temperature:    0.2,
		Scoring:        scoring.DefaultConfig(),
	}
}

// Options override per-evaluation behaviour.
type Options struct {
	Seed        *int64
	Temperature *float64
	DualPass    *bool
	// TolerateAbsence turns a failed role into an absence marker instead of
	// aborting the evaluation.
	TolerateAbsence bool
	RequestID       string
	Progress        func(ProgressEvent)
}

// ProgressEvent is emitted as each role starts and finishes.
type ProgressEvent struct {
	RequestID string `json:"request_id,omitempty"`
	State     State  `json:"state"`
	Role      string `json:"role,omitempty"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Score     *int   `json:"score,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Metadata records how a verdict was produced.
type Metadata struct {
	RequestID      string           `json:"request_id,omitempty"`
	PromptVersion  string           `json:"prompt_version"`
	DualPass       bool             `json:"dual_pass"`
	Seed           *int64           `json:"seed"`
	Temperature    float64          `json:"temperature"`
	ModelUsed      string           `json:"model_used"`
	ProviderUsed   string           `json:"provider_used"`
	ProviderChain  []string         `json:"provider_chain"`
	AgentTimingsMs map[string]int64 `json:"agent_timings_ms"`
	ElapsedMs      int64            `json:"elapsed_ms"`
	AbsentRoles    []string         `json:"absent_roles,omitempty"`
	State          State            `json:"state"`
}

// Result is the engine output for one case.
type Result struct {
	Assessments []agent.Assessment `json:"agent_results"`
	Verdict     scoring.Verdict    `json:"final_verdict"`
	Meta        Metadata           `json:"meta"`
}

// RoleError reports the role whose failure aborted the evaluation.
type RoleError struct {
	Role string
	Err  error
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Role, e.Err)
}

func (e *RoleError) Unwrap() error {
	return e.Err
}

// Engine sequences the roles and aggregates their assessments.
type Engine struct {
	runner  RoleRunner
	cfg     Config
	sleeper util.Sleeper
	metrics metrics.Recorder
}

// New constructs an engine. A nil sleeper waits on the wall clock.
func New(runner RoleRunner, cfg Config, sleeper util.Sleeper, recorder metrics.Recorder) *Engine {
	if len(cfg.Roles) == 0 {
		cfg.Roles = agent.DefaultRoles()
	}
	if sleeper == nil {
		sleeper = util.RealSleeper{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Engine{runner: runner, cfg: cfg, sleeper: sleeper, metrics: recorder}
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

type evaluation struct {
	state State
	log   *logrus.Entry
}

func (ev *evaluation) transition(to State) {
	ev.log.WithFields(logrus.Fields{"from": ev.state, "to": to}).Debug("evaluation state changed")
	ev.state = to
}

// Evaluate runs every role in order and returns the aggregated verdict. A
// role failure aborts with *RoleError unless opts.TolerateAbsence is set.
func (e *Engine) Evaluate(ctx context.Context, caseText string, opts Options) (*Result, error) {
	timer := util.StartTimer()
	seed, temperature, dualPass := e.resolve(opts)
	ev := &evaluation{
		state: StateCollecting,
		log:   logrus.WithField("request_id", opts.RequestID),
	}
	emit := func(evt ProgressEvent) {
		if opts.Progress == nil {
			return
		}
		evt.RequestID = opts.RequestID
		evt.Total = len(e.cfg.Roles)
		opts.Progress(evt)
	}

	ev.log.WithField("case_text_length", len(caseText)).Info("evaluation started")

	abort := func(role string, err error) (*Result, error) {
		ev.transition(StateAborted)
		e.metrics.Evaluation("", false, timer.Elapsed())
		emit(ProgressEvent{State: StateAborted, Role: role, Error: err.Error()})
		ev.log.WithError(err).WithField("role", role).Error("evaluation aborted")
		if role == "" {
			return nil, err
		}
		return nil, &RoleError{Role: role, Err: err}
	}

	var (
		assessments = make([]agent.Assessment, 0, len(e.cfg.Roles))
		keys        = make([]string, 0, len(e.cfg.Roles))
		timings     = make(map[string]int64, len(e.cfg.Roles))
		absent      []string
	)

	for idx, role := range e.cfg.Roles {
		if idx > 0 {
			if err := e.sleeper.Sleep(ctx, e.cfg.InterCallDelay); err != nil {
				return abort("", err)
			}
		}
		emit(ProgressEvent{State: StateCollecting, Role: role.Name, Index: idx})

		roleTimer := util.StartTimer()
		result, err := e.runner.Run(ctx, agent.RunInput{
			Role:        role,
			CaseText:    caseText,
			Seed:        seed,
			Temperature: temperature,
			DualPass:    dualPass,
		})
		timings[role.Name] = roleTimer.ElapsedMs()

		if err != nil {
			if !opts.TolerateAbsence || ctx.Err() != nil {
				return abort(role.Name, err)
			}
			ev.log.WithError(err).WithField("role", role.Name).Warn("role failed, marking absent")
			absent = append(absent, role.Name)
			emit(ProgressEvent{State: StateCollecting, Role: role.Name, Index: idx, Error: err.Error()})
			continue
		}

		score := result.Score
		emit(ProgressEvent{State: StateCollecting, Role: role.Name, Index: idx, Score: &score})
		assessments = append(assessments, result)
		keys = append(keys, role.Key)
	}

	ev.transition(StateAggregating)
	var inputs scoring.Inputs
	for i := range assessments {
		assign(&inputs, keys[i], &assessments[i])
	}
	verdict := scoring.Aggregate(inputs, e.cfg.Scoring)
	ev.transition(StateDecided)

	provider, model := usedProvider(assessments, e.cfg.ProviderChain)
	elapsed := timer.Elapsed()
	e.metrics.Evaluation(string(verdict.Decision), true, elapsed)
	emit(ProgressEvent{State: StateDecided, Index: len(e.cfg.Roles), Decision: string(verdict.Decision)})

	ev.log.WithFields(logrus.Fields{
		"decision":       verdict.Decision,
		"final_score":    verdict.FinalScore,
		"duration_ms":    elapsed.Milliseconds(),
		"agent_timings":  timings,
		"absent_roles":   absent,
		"consensus":      verdict.Consensus.Level,
		"edge_severity":  verdict.EdgeCases.Severity,
		"provider_used":  provider,
		"model_used":     model,
		"dual_pass":      dualPass,
		"prompt_version": agent.PromptVersion,
	}).Info("evaluation completed")

	return &Result{
		Assessments: assessments,
		Verdict:     verdict,
		Meta: Metadata{
			RequestID:      opts.RequestID,
			PromptVersion:  agent.PromptVersion,
			DualPass:       dualPass,
			Seed:           seed,
			Temperature:    temperature,
			ModelUsed:      model,
			ProviderUsed:   provider,
			ProviderChain:  append([]string{}, e.cfg.ProviderChain...),
			AgentTimingsMs: timings,
			ElapsedMs:      elapsed.Milliseconds(),
			AbsentRoles:    absent,
			State:          ev.state,
		},
	}, nil
}

func (e *Engine) resolve(opts Options) (*int64, float64, bool) {
	seed := e.cfg.Seed
	if opts.Seed != nil {
		seed = opts.Seed
	}
	temperature := e.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	dualPass := e.cfg.DualPass
	if opts.DualPass != nil {
		dualPass = *opts.DualPass
	}
	return seed, temperature, dualPass
}

func assign(in *scoring.Inputs, key string, a *agent.Assessment) {
	switch key {
	case agent.RoleFeasibility:
		in.Feasibility = a
	case agent.RoleInnovation:
		in.Innovation = a
	case agent.RoleRisk:
		in.Risk = a
	}
}

// usedProvider lists the distinct providers and models that served the roles.
// With no completed role the chain head is reported.
func usedProvider(assessments []agent.Assessment, chain []string) (string, string) {
	var providers, models []string
	seenProvider := map[string]bool{}
	seenModel := map[string]bool{}
	for _, a := range assessments {
		if a.Provider != "" && !seenProvider[a.Provider] {
			seenProvider[a.Provider] = true
			providers = append(providers, a.Provider)
		}
		if a.Model != "" && !seenModel[a.Model] {
			seenModel[a.Model] = true
			models = append(models, a.Model)
		}
	}
	if len(providers) == 0 && len(chain) > 0 {
		provider, model, _ := strings.Cut(chain[0], "/")
		return provider, model
	}
	if len(providers) == 0 {
		return "unknown", "unknown"
	}
	return strings.Join(providers, ", "), strings.Join(models, ", ")
}
