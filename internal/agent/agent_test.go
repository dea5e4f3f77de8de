package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-jury/backend/internal/llm"
	"agent-jury/backend/internal/schema"
)

type scriptedGenerator struct {
	replies []string
	errs    []error
	seeds   []*int64
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := len(g.seeds)
	g.seeds = append(g.seeds, req.Seed)
	if i < len(g.errs) && g.errs[i] != nil {
		return llm.Response{}, g.errs[i]
	}
	return llm.Response{Text: g.replies[i], Provider: "openrouter", Model: "test-model"}, nil
}

func reply(score, confidence int) string {
	return fmt.Sprintf(`{"score": %d, "confidence": %d,
		"score_breakdown": {"primary": %d, "secondary": %d, "tertiary": %d},
		"pros": ["p"], "cons": ["c"], "evidence": ["e"],
		"rationale": "r", "uncertainty_flags": []}`,
		score, confidence, score+3, score-2, score+1)
}

func base(score int) Assessment {
	return Assessment{
		Role:             "Feasibility Agent",
		Score:            score,
		Confidence:       80,
		Breakdown:        schema.Breakdown{Primary: score + 5, Secondary: score - 5, Tertiary: score},
		Pros:             []string{"p"},
		Cons:             []string{"c"},
		Evidence:         []string{"e"},
		UncertaintyFlags: []string{},
	}
}

func hasFlag(flags []string, code string) bool {
	for _, f := range flags {
		if strings.HasPrefix(f, code+":") {
			return true
		}
	}
	return false
}

func TestDetectBias(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Assessment)
		expect []string
	}{
		{"clean", func(a *Assessment) {}, nil},
		{"fence sitting", func(a *Assessment) { *a = base(50) }, []string{"fence_sitting"}},
		{"uncritical positive", func(a *Assessment) { *a = base(96); a.Cons = nil }, []string{"uncritical_positive"}},
		{"uncritical negative", func(a *Assessment) { *a = base(4); a.Pros = nil }, []string{"uncritical_negative"}},
		{"ungrounded confidence", func(a *Assessment) { a.Evidence = nil; a.Confidence = 71 }, []string{"ungrounded_confidence"}},
		{"uniform breakdown", func(a *Assessment) {
			a.Breakdown = schema.Breakdown{Primary: 70, Secondary: 70, Tertiary: 70}
		}, []string{"uniform_breakdown"}},
		{"breakdown mismatch", func(a *Assessment) {
			a.Breakdown = schema.Breakdown{Primary: 30, Secondary: 40, Tertiary: 35}
		}, []string{"breakdown_mismatch"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := base(70)
			tc.mutate(&a)
			flags := DetectBias(a)
			if len(flags) != len(tc.expect) {
				t.Fatalf("expected %v got %v", tc.expect, flags)
			}
			for _, code := range tc.expect {
				if !hasFlag(flags, code) {
					t.Fatalf("expected %s in %v", code, flags)
				}
			}
		})
	}
}

func TestDetectBiasMismatchMentionsBothScores(t *testing.T) {
	a := base(70)
	a.Breakdown = schema.Breakdown{Primary: 30, Secondary: 40, Tertiary: 35}
	flags := DetectBias(a)
	require.Len(t, flags, 1)
	assert.Equal(t, "breakdown_mismatch: sub-score avg 35 vs overall 70", flags[0])
}

func TestReconcileWithinTolerance(t *testing.T) {
	primary := base(70)
	verify := base(80)
	out := Reconcile(primary, &verify, nil)

	require.NotNil(t, out.Consistency)
	assert.True(t, out.Consistency.Ran)
	assert.True(t, out.Consistency.Passed)
	assert.Equal(t, 10, *out.Consistency.Delta)
	assert.Equal(t, 80, *out.Consistency.VerificationScore)
	assert.Equal(t, 70, out.Score)
	assert.Equal(t, 80, out.Confidence)
	assert.Empty(t, out.UncertaintyFlags)
}

func TestReconcileDivergentScores(t *testing.T) {
	primary := base(40)
	primary.Confidence = 90
	verify := base(90)
	verify.Confidence = 60
	out := Reconcile(primary, &verify, nil)

	assert.False(t, out.Consistency.Passed)
	assert.Equal(t, 50, *out.Consistency.Delta)
	assert.Equal(t, 65, out.Score)
	assert.Equal(t, 48, out.Confidence)
	assert.Equal(t, []string{"consistency_delta_50: scores diverged across two runs (40 vs 90)"}, out.UncertaintyFlags)
	assert.Empty(t, primary.UncertaintyFlags)
}

func TestReconcileVerificationFailure(t *testing.T) {
	primary := base(70)
	out := Reconcile(primary, nil, errors.New("boom"))
	assert.Equal(t, 70, out.Score)
	assert.Equal(t, &Consistency{Ran: true, Passed: false, Error: VerificationFailed}, out.Consistency)
}

func TestRunnerSinglePass(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{reply(72, 80)}}
	runner := NewRunner(gen, nil)
	role, _ := RoleByKey(RoleInnovation)

	out, err := runner.Run(context.Background(), RunInput{Role: role, CaseText: "An app", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "Innovation Agent", out.Role)
	assert.Equal(t, 72, out.Score)
	assert.Equal(t, PromptVersion, out.PromptVersion)
	assert.Equal(t, "openrouter", out.Provider)
	assert.Nil(t, out.Consistency)
	assert.Empty(t, out.BiasFlags)
}

func TestRunnerDualPassUsesDerivedSeed(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{reply(40, 90), reply(90, 60)}}
	runner := NewRunner(gen, nil)
	seed := int64(7)

	out, err := runner.Run(context.Background(), RunInput{Role: DefaultRoles()[0], CaseText: "x", Seed: &seed, DualPass: true})
	require.NoError(t, err)
	require.Len(t, gen.seeds, 2)
	assert.Equal(t, int64(7), *gen.seeds[0])
	assert.Equal(t, int64(8), *gen.seeds[1])
	assert.Equal(t, 65, out.Score)
	assert.False(t, out.Consistency.Passed)
}

func TestRunnerDualPassWithoutSeed(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{reply(70, 80), "garbage"}}
	runner := NewRunner(gen, nil)

	out, err := runner.Run(context.Background(), RunInput{Role: DefaultRoles()[2], CaseText: "x", DualPass: true})
	require.NoError(t, err)
	assert.Nil(t, gen.seeds[1])
	assert.Equal(t, 70, out.Score)
	assert.Equal(t, VerificationFailed, out.Consistency.Error)
	assert.Nil(t, out.Consistency.Delta)
}

func TestRunnerPropagatesPrimaryFailure(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"not json"}}
	runner := NewRunner(gen, nil)
	_, err := runner.Run(context.Background(), RunInput{Role: DefaultRoles()[0], CaseText: "x"})
	assert.ErrorIs(t, err, schema.ErrInvalidResponseFormat)

	providerErr := &llm.ExhaustedError{Attempts: 2, Last: errors.New("down")}
	gen = &scriptedGenerator{errs: []error{providerErr}}
	_, err = NewRunner(gen, nil).Run(context.Background(), RunInput{Role: DefaultRoles()[0], CaseText: "x"})
	var exhausted *llm.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestPrompts(t *testing.T) {
	role := DefaultRoles()[2]
	system := BuildSystemPrompt(role)
	assert.Contains(t, system, `"Risk & Ethics Agent"`)
	assert.Contains(t, system, "Prompt version: 2.0.0")
	assert.Contains(t, system, "legal_regulatory")
	assert.Contains(t, system, "<CASE_DATA>")

	user := BuildUserPrompt("Drone delivery for pharmacies", role)
	assert.Contains(t, user, "<CASE_DATA>\nDrone delivery for pharmacies\n</CASE_DATA>")
	assert.Contains(t, user, "Higher score means higher risk.")
	assert.Equal(t, "Risk", role.Short())
	assert.Equal(t, "Feasibility", DefaultRoles()[0].Short())
}
