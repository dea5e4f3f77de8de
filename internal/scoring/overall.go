package scoring

import (
	"fmt"

	"agent-jury/backend/internal/agent"
	"agent-jury/backend/internal/schema"
)

// Decision is the final verdict outcome.
type Decision string

const (
	DecisionShip    Decision = "SHIP"
	DecisionIterate Decision = "ITERATE"
	DecisionReject  Decision = "REJECT"
	DecisionAbstain Decision = "ABSTAIN"
)

// Inputs carries the three role assessments. A nil entry marks an absent role.
type Inputs struct {
	Feasibility *agent.Assessment
	Innovation  *agent.Assessment
	Risk        *agent.Assessment
}

// DimensionScore is a presence-aware normalized score.
type DimensionScore struct {
	Raw        *int `json:"raw"`
	Normalized int  `json:"normalized"`
	Confidence int  `json:"-"`
	Present    bool `json:"-"`
}

// Normalization documents how role scores were normalized.
type Normalization struct {
	Feasibility DimensionScore `json:"feasibility"`
	Innovation  DimensionScore `json:"innovation"`
	Risk        DimensionScore `json:"risk"`
	Method      string         `json:"method"`
	Guarantee   string         `json:"guarantee"`
}

// Component is one dimension's share of the raw score.
type Component struct {
	Score        int     `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// RiskComponent is the risk share, with inversion details.
type RiskComponent struct {
	RawScore       int     `json:"raw_score"`
	Inverted       bool    `json:"inverted"`
	EffectiveScore int     `json:"effective_score"`
	Weight         float64 `json:"weight"`
	Contribution   float64 `json:"contribution"`
	Explanation    string  `json:"explanation"`
}

// Components groups the per-dimension contributions.
type Components struct {
	Feasibility Component     `json:"feasibility"`
	Innovation  Component     `json:"innovation"`
	Risk        RiskComponent `json:"risk"`
}

// ScoringMath explains how the final score was produced.
type ScoringMath struct {
	RawScore                int        `json:"raw_score"`
	ConfidenceWeightedScore int        `json:"confidence_weighted_score"`
	ScoreUsed               string     `json:"score_used"`
	Components              Components `json:"components"`
	WeightsApplied          Weights    `json:"weights_applied"`
	ThresholdsApplied       Thresholds `json:"thresholds_applied"`
	RiskInversionEnabled    bool       `json:"risk_inversion_enabled"`
}

// Verdict is the aggregate jury decision.
type Verdict struct {
	FinalScore     int             `json:"final_score"`
	Decision       Decision        `json:"decision"`
	DecisionReason string          `json:"decision_reason"`
	ScoringMath    ScoringMath     `json:"scoring_math"`
	Normalization  Normalization   `json:"normalization"`
	Consensus      ConsensusReport `json:"consensus"`
	EdgeCases      EdgeCaseReport  `json:"edge_cases"`
	Summary        string          `json:"summary"`
	NextSteps      []string        `json:"next_steps"`
}

type dimensions struct {
	feasibility DimensionScore
	innovation  DimensionScore
	risk        DimensionScore
}

func (d dimensions) present() []DimensionScore {
	var out []DimensionScore
	for _, s := range []DimensionScore{d.feasibility, d.innovation, d.risk} {
		if s.Present {
			out = append(out, s)
		}
	}
	return out
}

// Aggregate combines the three role assessments into a verdict.
func Aggregate(in Inputs, cfg Config) Verdict {
	dims := dimensions{
		feasibility: normalize(in.Feasibility),
		innovation:  normalize(in.Innovation),
		risk:        normalize(in.Risk),
	}

	edge := detectEdgeCases(dims, cfg.LowConfidenceThreshold)
	consensus := analyzeConsensus(in, cfg.Consensus)

	raw, components := rawScore(dims, cfg.Weights, cfg.RiskInversion)
	weighted := confidenceWeightedScore(dims, cfg.Weights, cfg.RiskInversion)

	final, used := weighted, "confidence_weighted"
	if consensus.Level == LevelStrong {
		final, used = raw, "raw"
	}

	decision, reason := decideOutcome(final, consensus, edge, cfg.Thresholds)

	f, i, r := dims.feasibility, dims.innovation, dims.risk
	summary := fmt.Sprintf(
		"Feasibility %d (conf %d), Innovation %d (conf %d), Risk %d (conf %d). Consensus: %s. Final score %d, decision: %s.",
		f.Normalized, f.Confidence, i.Normalized, i.Confidence, r.Normalized, r.Confidence,
		consensus.Level, final, decision,
	)

	return Verdict{
		FinalScore:     final,
		Decision:       decision,
		DecisionReason: reason,
		ScoringMath: ScoringMath{
			RawScore:                raw,
			ConfidenceWeightedScore: weighted,
			ScoreUsed:               used,
			Components:              components,
			WeightsApplied:          cfg.Weights,
			ThresholdsApplied:       cfg.Thresholds,
			RiskInversionEnabled:    cfg.RiskInversion,
		},
		Normalization: Normalization{
			Feasibility: f,
			Innovation:  i,
			Risk:        r,
			Method:      "clamp(round(value), 0, 100)",
			Guarantee:   "All scores are integers in [0, 100] after normalization.",
		},
		Consensus: consensus,
		EdgeCases: edge,
		Summary:   summary,
		NextSteps: nextSteps(decision, dims, consensus),
	}
}

func normalize(a *agent.Assessment) DimensionScore {
	if a == nil {
		return DimensionScore{}
	}
	raw := a.Score
	return DimensionScore{
		Raw:        &raw,
		Normalized: schema.ClampScore(float64(a.Score)),
		Confidence: schema.ClampScore(float64(a.Confidence)),
		Present:    true,
	}
}

func effectiveRisk(score int, invert bool) int {
	if invert {
		return 100 - score
	}
	return score
}

func contribution(score int, weight float64) float64 {
	return roundTenth(float64(score) * weight)
}

// rawScore weighs all three dimensions; an absent role counts as score 0.
func rawScore(d dimensions, w Weights, invert bool) (int, Components) {
	f := d.feasibility.Normalized
	i := d.innovation.Normalized
	rRaw := d.risk.Normalized
	rEff := effectiveRisk(rRaw, invert)

	value := schema.ClampScore(float64(f)*w.Feasibility + float64(i)*w.Innovation + float64(rEff)*w.Risk)

	explanation := fmt.Sprintf("Risk raw=%d used directly (higher risk → higher contribution)", rRaw)
	if invert {
		explanation = fmt.Sprintf("Risk raw=%d inverted to %d (lower risk → higher contribution)", rRaw, rEff)
	}

	return value, Components{
		Feasibility: Component{Score: f, Weight: w.Feasibility, Contribution: contribution(f, w.Feasibility)},
		Innovation:  Component{Score: i, Weight: w.Innovation, Contribution: contribution(i, w.Innovation)},
		Risk: RiskComponent{
			RawScore:       rRaw,
			Inverted:       invert,
			EffectiveScore: rEff,
			Weight:         w.Risk,
			Contribution:   contribution(rEff, w.Risk),
			Explanation:    explanation,
		},
	}
}

// confidenceWeightedScore scales each present dimension's weight by
// 0.5 + 0.5*confidence/100 and takes the weighted mean. With one present
// role the result is that role's effective score.
func confidenceWeightedScore(d dimensions, w Weights, invert bool) int {
	entries := []struct {
		score  DimensionScore
		weight float64
		invert bool
	}{
		{d.feasibility, w.Feasibility, false},
		{d.innovation, w.Innovation, false},
		{d.risk, w.Risk, invert},
	}

	var total, weighted float64
	for _, e := range entries {
		if !e.score.Present {
			continue
		}
		adjusted := e.weight * (0.5 + 0.5*float64(e.score.Confidence)/100)
		weighted += float64(effectiveRisk(e.score.Normalized, e.invert)) * adjusted
		total += adjusted
	}
	if total <= 0 {
		return 0
	}
	return schema.ClampScore(weighted / total)
}
