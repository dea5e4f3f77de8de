package scoring

import (
	"errors"
	"fmt"
	"math"
)

// WeightEpsilon is the tolerance for the weight sum check.
const WeightEpsilon = 0.001

// Weights are the per-dimension contributions to the raw score.
type Weights struct {
	Feasibility float64 `json:"feasibility"`
	Innovation  float64 `json:"innovation"`
	Risk        float64 `json:"risk"`
}

// Sum returns the total of the three weights.
func (w Weights) Sum() float64 {
	return w.Feasibility + w.Innovation + w.Risk
}

// Thresholds map the selected score to a decision.
type Thresholds struct {
	Ship    int `json:"ship"`
	Iterate int `json:"iterate"`
}

// ConsensusThresholds classify agreement between role scores.
type ConsensusThresholds struct {
	DisagreementDelta int     `json:"disagreement_delta"`
	WeakSpread        int     `json:"weak_spread"`
	WeakStdDev        float64 `json:"weak_std_dev"`
	ModerateSpread    int     `json:"moderate_spread"`
	ModerateStdDev    float64 `json:"moderate_std_dev"`
}

// Config holds the aggregation settings. It is read-only after startup.
type Config struct {
	Weights                Weights             `json:"weights"`
	Thresholds             Thresholds          `json:"thresholds"`
	RiskInversion          bool                `json:"risk_inversion"`
	Consensus              ConsensusThresholds `json:"consensus"`
	LowConfidenceThreshold int                 `json:"low_confidence_threshold"`
}

// DefaultConfig returns the stock jury settings.
func DefaultConfig() Config {
	return Config{
		Weights:       Weights{Feasibility: 0.45, Innovation: 0.35, Risk: 0.20},
		Thresholds:    Thresholds{Ship: 75, Iterate: 50},
		RiskInversion: true,
		Consensus: ConsensusThresholds{
			DisagreementDelta: 30,
			WeakSpread:        40,
			WeakStdDev:        25,
			ModerateSpread:    25,
			ModerateStdDev:    15,
		},
		LowConfidenceThreshold: 30,
	}
}

// Validate checks the weight and threshold invariants.
func (c Config) Validate() error {
	var errs []error
	w := c.Weights
	if sum := w.Sum(); math.Abs(sum-1) > WeightEpsilon {
		errs = append(errs, fmt.Errorf("scoring weights must sum to 1.0, got %.3f", sum))
	}
	for _, dim := range []struct {
		name  string
		value float64
	}{{"feasibility", w.Feasibility}, {"innovation", w.Innovation}, {"risk", w.Risk}} {
		if dim.value < 0 || dim.value > 1 {
			errs = append(errs, fmt.Errorf("%s weight must be between 0 and 1, got %v", dim.name, dim.value))
		}
	}
	t := c.Thresholds
	if t.Ship <= 0 || t.Ship > 100 || t.Iterate <= 0 || t.Iterate > 100 {
		errs = append(errs, fmt.Errorf("thresholds must be in (0, 100], got ship=%d iterate=%d", t.Ship, t.Iterate))
	}
	if t.Ship <= t.Iterate {
		errs = append(errs, fmt.Errorf("ship threshold (%d) must be greater than iterate threshold (%d)", t.Ship, t.Iterate))
	}
	return errors.Join(errs...)
}
