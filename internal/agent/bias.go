package agent

import (
	"fmt"
	"math"
)

// DetectBias applies the response-quality heuristics to one assessment.
// Every check runs independently.
func DetectBias(a Assessment) []string {
	flags := []string{}

	if a.Score == 50 {
		flags = append(flags, "fence_sitting: score is exactly 50 (possible non-committal)")
	}
	if a.Score >= 95 && len(a.Cons) == 0 {
		flags = append(flags, "uncritical_positive: very high score with no cons listed")
	}
	if a.Score <= 5 && len(a.Pros) == 0 {
		flags = append(flags, "uncritical_negative: very low score with no pros listed")
	}
	if len(a.Evidence) == 0 && a.Confidence > 70 {
		flags = append(flags, "ungrounded_confidence: high confidence but no evidence cited")
	}

	b := a.Breakdown
	if b.Primary == b.Secondary && b.Secondary == b.Tertiary && b.Primary == a.Score {
		flags = append(flags, "uniform_breakdown: all sub-scores identical (possible lazy evaluation)")
	}

	subAvg := float64(b.Primary+b.Secondary+b.Tertiary) / 3
	if math.Abs(subAvg-float64(a.Score)) > 20 {
		flags = append(flags, fmt.Sprintf("breakdown_mismatch: sub-score avg %d vs overall %d", int(math.Round(subAvg)), a.Score))
	}
	return flags
}
