package scoring

import (
	"fmt"
	"strings"
)

// Edge case severities.
const (
	SeverityNone     = "none"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// EdgeCaseReport lists data-quality problems found before deciding.
type EdgeCaseReport struct {
	Flags    []string `json:"flags"`
	Severity string   `json:"severity"`
}

func detectEdgeCases(d dimensions, lowConfidence int) EdgeCaseReport {
	present := d.present()
	if len(present) == 0 {
		return EdgeCaseReport{
			Flags:    []string{"no_agent_data: none of the 3 agents returned a result"},
			Severity: SeverityCritical,
		}
	}

	flags := []string{}
	if len(present) < 3 {
		var missing []string
		if !d.feasibility.Present {
			missing = append(missing, "Feasibility")
		}
		if !d.innovation.Present {
			missing = append(missing, "Innovation")
		}
		if !d.risk.Present {
			missing = append(missing, "Risk")
		}
		flags = append(flags, "missing_agents: "+strings.Join(missing, ", "))
	}

	allLow, allZero, allMax := true, true, true
	for _, s := range present {
		allLow = allLow && s.Confidence < lowConfidence
		allZero = allZero && s.Normalized == 0
		allMax = allMax && s.Normalized == 100
	}
	if allLow {
		flags = append(flags, fmt.Sprintf("all_low_confidence: every agent confidence < %d", lowConfidence))
	}
	if allZero {
		flags = append(flags, "all_zero_scores: every present agent scored 0")
	}
	if allMax {
		flags = append(flags, "all_max_scores: every present agent scored 100")
	}

	severity := SeverityNone
	if len(flags) > 0 {
		severity = SeverityWarning
	}
	if allLow {
		severity = SeverityCritical
	}
	return EdgeCaseReport{Flags: flags, Severity: severity}
}
