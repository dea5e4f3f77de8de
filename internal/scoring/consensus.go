package scoring

import (
	"math"

	"agent-jury/backend/internal/agent"
)

// Consensus levels.
const (
	LevelNone     = "none"
	LevelStrong   = "strong"
	LevelModerate = "moderate"
	LevelWeak     = "weak"
)

// Disagreement is a role pair whose scores differ by at least the configured delta.
type Disagreement struct {
	Agents [2]string `json:"agents"`
	Delta  int       `json:"delta"`
	Scores [2]int    `json:"scores"`
}

// ConsensusReport summarizes agreement among the present roles.
type ConsensusReport struct {
	Level         string         `json:"level"`
	StdDev        float64        `json:"score_std_dev"`
	Spread        int            `json:"score_spread"`
	AvgConfidence int            `json:"avg_confidence"`
	Disagreements []Disagreement `json:"disagreements"`
}

func analyzeConsensus(in Inputs, cfg ConsensusThresholds) ConsensusReport {
	var present []*agent.Assessment
	for _, a := range []*agent.Assessment{in.Feasibility, in.Innovation, in.Risk} {
		if a != nil {
			present = append(present, a)
		}
	}
	if len(present) == 0 {
		return ConsensusReport{Level: LevelNone, Disagreements: []Disagreement{}}
	}

	scores := make([]float64, len(present))
	var confSum float64
	lo, hi := present[0].Score, present[0].Score
	for idx, a := range present {
		scores[idx] = float64(a.Score)
		confSum += float64(a.Confidence)
		lo = min(lo, a.Score)
		hi = max(hi, a.Score)
	}
	stdDev := populationStdDev(scores)
	spread := hi - lo

	disagreements := []Disagreement{}
	for x := 0; x < len(present); x++ {
		for y := x + 1; y < len(present); y++ {
			a, b := present[x], present[y]
			delta := a.Score - b.Score
			if delta < 0 {
				delta = -delta
			}
			if delta >= cfg.DisagreementDelta {
				disagreements = append(disagreements, Disagreement{
					Agents: [2]string{a.Role, b.Role},
					Delta:  delta,
					Scores: [2]int{a.Score, b.Score},
				})
			}
		}
	}

	level := LevelStrong
	if float64(spread) > float64(cfg.WeakSpread) || stdDev > cfg.WeakStdDev {
		level = LevelWeak
	} else if float64(spread) > float64(cfg.ModerateSpread) || stdDev > cfg.ModerateStdDev {
		level = LevelModerate
	}

	return ConsensusReport{
		Level:         level,
		StdDev:        roundTenth(stdDev),
		Spread:        spread,
		AvgConfidence: int(math.Round(confSum / float64(len(present)))),
		Disagreements: disagreements,
	}
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - avg) * (v - avg)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
