package agent

import (
	"fmt"

	"agent-jury/backend/internal/schema"
)

// ConsistencyTolerance is the largest score delta accepted between passes.
const ConsistencyTolerance = 15

// VerificationFailed is recorded when the second pass errors out.
const VerificationFailed = "verification_pass_failed"

// Reconcile folds a verification pass into the primary assessment. Divergent
// scores are averaged and confidence is reduced; a failed verification keeps
// the primary result untouched.
func Reconcile(primary Assessment, verification *Assessment, verifyErr error) Assessment {
	out := primary
	out.UncertaintyFlags = append([]string{}, primary.UncertaintyFlags...)

	if verifyErr != nil || verification == nil {
		out.Consistency = &Consistency{Ran: true, Passed: false, Error: VerificationFailed}
		return out
	}

	delta := primary.Score - verification.Score
	if delta < 0 {
		delta = -delta
	}
	verifyScore := verification.Score
	passed := delta <= ConsistencyTolerance

	if !passed {
		out.Score = schema.ClampScore(float64(primary.Score+verification.Score) / 2)
		out.Confidence = schema.ClampScore(float64(min(primary.Confidence, verification.Confidence)) * 0.8)
		out.UncertaintyFlags = append(out.UncertaintyFlags, fmt.Sprintf(
			"consistency_delta_%d: scores diverged across two runs (%d vs %d)",
			delta, primary.Score, verification.Score,
		))
	}

	out.Consistency = &Consistency{
		Ran:               true,
		Passed:            passed,
		Delta:             &delta,
		VerificationScore: &verifyScore,
	}
	return out
}
