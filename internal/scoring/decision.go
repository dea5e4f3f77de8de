package scoring

import (
	"fmt"
	"strings"
)

func decideOutcome(score int, consensus ConsensusReport, edge EdgeCaseReport, t Thresholds) (Decision, string) {
	if edge.Severity == SeverityCritical {
		return DecisionAbstain, "Critical edge case detected: insufficient data for a reliable decision."
	}

	decision := DecisionReject
	reason := fmt.Sprintf("Final score %d < iterate threshold %d", score, t.Iterate)
	switch {
	case score >= t.Ship:
		decision = DecisionShip
		reason = fmt.Sprintf("Final score %d >= ship threshold %d", score, t.Ship)
	case score >= t.Iterate:
		decision = DecisionIterate
		reason = fmt.Sprintf("Final score %d >= iterate threshold %d", score, t.Iterate)
	}

	if consensus.Level == LevelWeak && decision == DecisionShip {
		decision = DecisionIterate
		reason += " [downgraded from SHIP: weak consensus]"
	}
	if edge.Severity == SeverityWarning && decision == DecisionShip {
		reason += " [caution: edge case warnings present]"
	}
	return decision, reason
}

func nextSteps(decision Decision, d dimensions, consensus ConsensusReport) []string {
	if decision == DecisionAbstain {
		return []string{"Provide more detailed case information and re-evaluate."}
	}

	steps := make([]string, 0, 5)
	if decision == DecisionShip {
		steps = append(steps, "Build a small production pilot and track usage.")
	} else {
		steps = append(steps, "Run one focused iteration on the weakest dimension first.")
	}

	f, i, r := d.feasibility.Normalized, d.innovation.Normalized, d.risk.Normalized
	if f < 60 {
		steps = append(steps, fmt.Sprintf("Feasibility is low (%d): reduce implementation complexity and tighten scope.", f))
	} else {
		steps = append(steps, fmt.Sprintf("Feasibility is solid (%d): keep technical scope disciplined.", f))
	}
	if i < 60 {
		steps = append(steps, fmt.Sprintf("Innovation is low (%d): strengthen differentiation with a unique feature.", i))
	} else {
		steps = append(steps, fmt.Sprintf("Innovation is solid (%d): preserve the most differentiated element.", i))
	}
	if r > 60 {
		steps = append(steps, fmt.Sprintf("Risk is elevated (%d): add explicit safeguards for abuse, privacy, and edge cases.", r))
	} else {
		steps = append(steps, fmt.Sprintf("Risk is manageable (%d): document responsible use and basic guardrails.", r))
	}

	if len(consensus.Disagreements) > 0 {
		pairs := make([]string, 0, len(consensus.Disagreements))
		for _, dis := range consensus.Disagreements {
			pairs = append(pairs, fmt.Sprintf("%s vs %s (Δ%d)", dis.Agents[0], dis.Agents[1], dis.Delta))
		}
		steps = append(steps, "Resolve agent disagreements: "+strings.Join(pairs, "; ")+".")
	}
	return steps
}
