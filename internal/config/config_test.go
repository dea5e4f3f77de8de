package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "LLM_PROVIDER", "LLM_TIMEOUT", "AI_SEED", "AI_INTER_CALL_DELAY", "DATA_STORE_CASE_TEXT",
		"SCORE_WEIGHT_FEASIBILITY", "SCORE_WEIGHT_INNOVATION", "SCORE_WEIGHT_RISK",
		"SCORE_THRESHOLD_SHIP", "SCORE_RISK_INVERSION")
	t.Setenv("LLM_API_KEY", "key")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openrouter", cfg.LLM.Provider)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.AI.InterCallDelay)
	assert.True(t, cfg.Data.StoreCaseText)

	sc := cfg.ScoringSettings()
	assert.InDelta(t, 1.0, sc.Weights.Sum(), 1e-9)
	assert.Equal(t, 75, sc.Thresholds.Ship)
	assert.True(t, sc.RiskInversion)

	seed, err := cfg.Seed()
	require.NoError(t, err)
	assert.Nil(t, seed)
}

func TestProviderChain(t *testing.T) {
	cfg := Config{LLM: LLMConfig{
		Provider:         "openrouter",
		APIKey:           "k1",
		Model:            "m1",
		ModelFallback:    "m2",
		FallbackProvider: "gemini",
		FallbackAPIKey:   "k2",
	}}
	chain := cfg.ProviderChain()
	require.Len(t, chain, 3)
	assert.Equal(t, "openrouter/m2", chain[1].String())
	assert.Equal(t, "k1", chain[1].APIKey)
	assert.Equal(t, "gemini/m1", chain[2].String())

	cfg.LLM.ModelFallback = "m1"
	cfg.LLM.FallbackAPIKey = ""
	assert.Len(t, cfg.ProviderChain(), 1)
}

func TestEngineSettings(t *testing.T) {
	cfg := Config{
		LLM: LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt"},
		AI:  AIConfig{Temperature: 0.4, Seed: "41", DualPass: true, InterCallDelay: time.Second},
	}
	ec, err := cfg.EngineSettings()
	require.NoError(t, err)
	require.NotNil(t, ec.Seed)
	assert.EqualValues(t, 41, *ec.Seed)
	assert.True(t, ec.DualPass)
	assert.Equal(t, []string{"openai/gpt"}, ec.ProviderChain)
	assert.Len(t, ec.Roles, 3)

	cfg.AI.Seed = "abc"
	_, err = cfg.EngineSettings()
	assert.ErrorContains(t, err, "AI_SEED")
}

func validConfig() Config {
	return Config{
		LLM: LLMConfig{Provider: "openrouter", APIKey: "k", Model: "m", ModelFallback: "m2"},
		AI:  AIConfig{Temperature: 0.2, InterCallDelay: time.Second},
		Scoring: ScoringConfig{
			WeightFeasibility: 0.45, WeightInnovation: 0.35, WeightRisk: 0.2,
			ThresholdShip: 75, ThresholdIterate: 50, RiskInversion: true,
			DisagreementDelta: 30, WeakSpread: 40, WeakStdDev: 25, ModerateSpread: 25, ModerateStdDev: 15,
			LowConfidenceThreshold: 30,
		},
		Data: DataConfig{StoreCaseText: true},
	}
}

func TestValidateClean(t *testing.T) {
	warnings, err := validConfig().Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidateErrors(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = ""
	cfg.Scoring.WeightRisk = 0.5
	cfg.Scoring.ThresholdShip = 40

	_, err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "LLM_API_KEY")
	assert.Contains(t, msg, "sum to 1.0")
	assert.Contains(t, msg, "ship threshold")
}

func TestValidateWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.LLM.ModelFallback = ""
	cfg.AI.DualPass = true
	cfg.AI.Temperature = 1.5
	cfg.Scoring.WeakSpread = 20
	cfg.Attestation.PrivateKey = "0x1234"

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	joined := strings.Join(warnings, "\n")
	for _, want := range []string{
		"only one LLM provider",
		"AI_DUAL_PASS",
		"AI_TEMPERATURE",
		"SCORE_WEAK_SPREAD",
		"DATA_RETENTION_DAYS",
		"CORS_ORIGINS",
		"ATTESTATION_PRIVATE_KEY",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "anthropic"
	_, err := cfg.Validate()
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestRetentionExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{}
	assert.Nil(t, cfg.RetentionExpiry(now))

	cfg.Data.RetentionDays = 30
	exp := cfg.RetentionExpiry(now)
	require.NotNil(t, exp)
	assert.Equal(t, now.AddDate(0, 0, 30), *exp)
}
