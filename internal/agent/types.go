package agent

import "agent-jury/backend/internal/schema"

// Consistency records the outcome of the dual-pass verification call.
type Consistency struct {
	Ran               bool   `json:"ran"`
	Passed            bool   `json:"passed"`
	Delta             *int   `json:"delta"`
	VerificationScore *int   `json:"verification_score,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Assessment is one evaluator role's normalized opinion.
type Assessment struct {
	Role             string           `json:"role"`
	Score            int              `json:"score"`
	Confidence       int              `json:"confidence"`
	Breakdown        schema.Breakdown `json:"score_breakdown"`
	Pros             []string         `json:"pros"`
	Cons             []string         `json:"cons"`
	Evidence         []string         `json:"evidence"`
	Rationale        string           `json:"rationale"`
	UncertaintyFlags []string         `json:"uncertainty_flags"`
	BiasFlags        []string         `json:"bias_flags"`
	Consistency      *Consistency     `json:"consistency"`
	PromptVersion    string           `json:"prompt_version"`
	Provider         string           `json:"provider,omitempty"`
	Model            string           `json:"model,omitempty"`
}

func fromResponse(role string, resp schema.Response) Assessment {
	return Assessment{
		Role:             role,
		Score:            resp.Score,
		Confidence:       resp.Confidence,
		Breakdown:        resp.Breakdown,
		Pros:             nonNil(resp.Pros),
		Cons:             nonNil(resp.Cons),
		Evidence:         nonNil(resp.Evidence),
		Rationale:        resp.Rationale,
		UncertaintyFlags: nonNil(resp.UncertaintyFlags),
		BiasFlags:        []string{},
		PromptVersion:    PromptVersion,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
