package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/attest"
	"agent-jury/backend/internal/engine"
	"agent-jury/backend/internal/llm"
	"agent-jury/backend/internal/scoring"
)

// Config is the process configuration, loaded once from the environment.
type Config struct {
	Port      string `env:"PORT" envDefault:"4000"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	LLM         LLMConfig
	AI          AIConfig
	Scoring     ScoringConfig
	Data        DataConfig
	Attestation AttestationConfig

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
}

// LLMConfig describes the provider chain.
type LLMConfig struct {
	Provider         string        `env:"LLM_PROVIDER" envDefault:"openrouter"`
	APIKey           string        `env:"LLM_API_KEY"`
	Model            string        `env:"LLM_MODEL" envDefault:"google/gemini-2.0-flash-001"`
	BaseURL          string        `env:"LLM_BASE_URL"`
	ModelFallback    string        `env:"LLM_MODEL_FALLBACK"`
	FallbackProvider string        `env:"LLM_FALLBACK_PROVIDER"`
	FallbackAPIKey   string        `env:"LLM_FALLBACK_API_KEY"`
	FallbackModel    string        `env:"LLM_FALLBACK_MODEL"`
	FallbackBaseURL  string        `env:"LLM_FALLBACK_BASE_URL"`
	Timeout          time.Duration `env:"LLM_TIMEOUT" envDefault:"15s"`
}

// AIConfig holds generation settings shared by every role.
type AIConfig struct {
	Temperature     float64       `env:"AI_TEMPERATURE" envDefault:"0.2"`
	Seed            string        `env:"AI_SEED"`
	DualPass        bool          `env:"AI_DUAL_PASS" envDefault:"false"`
	InterCallDelay  time.Duration `env:"AI_INTER_CALL_DELAY" envDefault:"1500ms"`
	TolerateAbsence bool          `env:"AI_TOLERATE_ABSENCE" envDefault:"false"`
}

// ScoringConfig mirrors scoring.Config in environment form.
type ScoringConfig struct {
	WeightFeasibility      float64 `env:"SCORE_WEIGHT_FEASIBILITY" envDefault:"0.45"`
	WeightInnovation       float64 `env:"SCORE_WEIGHT_INNOVATION" envDefault:"0.35"`
	WeightRisk             float64 `env:"SCORE_WEIGHT_RISK" envDefault:"0.2"`
	ThresholdShip          int     `env:"SCORE_THRESHOLD_SHIP" envDefault:"75"`
	ThresholdIterate       int     `env:"SCORE_THRESHOLD_ITERATE" envDefault:"50"`
	RiskInversion          bool    `env:"SCORE_RISK_INVERSION" envDefault:"true"`
	DisagreementDelta      int     `env:"SCORE_DISAGREEMENT_DELTA" envDefault:"30"`
	WeakSpread             int     `env:"SCORE_WEAK_SPREAD" envDefault:"40"`
	WeakStdDev             float64 `env:"SCORE_WEAK_STDDEV" envDefault:"25"`
	ModerateSpread         int     `env:"SCORE_MODERATE_SPREAD" envDefault:"25"`
	ModerateStdDev         float64 `env:"SCORE_MODERATE_STDDEV" envDefault:"15"`
	LowConfidenceThreshold int     `env:"SCORE_LOW_CONFIDENCE_THRESHOLD" envDefault:"30"`
}

// DataConfig controls persistence and privacy handling.
type DataConfig struct {
	DBPath        string        `env:"DATA_DB_PATH" envDefault:"data/agent-jury.db"`
	StoreCaseText bool          `env:"DATA_STORE_CASE_TEXT" envDefault:"true"`
	RetentionDays int           `env:"DATA_RETENTION_DAYS" envDefault:"0"`
	AutoRedactPII bool          `env:"DATA_AUTO_REDACT_PII" envDefault:"false"`
	PurgeInterval time.Duration `env:"DATA_PURGE_INTERVAL" envDefault:"1h"`
	SilentDB      bool          `env:"DATA_SILENT_DB" envDefault:"true"`
}

// AttestationConfig holds the optional signing key.
type AttestationConfig struct {
	PrivateKey string `env:"ATTESTATION_PRIVATE_KEY"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// ProviderChain returns the ordered provider descriptors: primary, a
// same-provider fallback model, then an alternate provider.
func (c Config) ProviderChain() []llm.ProviderDescriptor {
	l := c.LLM
	primary := llm.ProviderDescriptor{Provider: l.Provider, APIKey: l.APIKey, Model: l.Model, BaseURL: l.BaseURL}
	chain := []llm.ProviderDescriptor{primary}
	if l.ModelFallback != "" && l.ModelFallback != primary.Model {
		chain = append(chain, llm.ProviderDescriptor{
			Provider: primary.Provider,
			APIKey:   primary.APIKey,
			Model:    l.ModelFallback,
			BaseURL:  primary.BaseURL,
		})
	}
	if l.FallbackProvider != "" && l.FallbackAPIKey != "" {
		model := l.FallbackModel
		if model == "" {
			model = primary.Model
		}
		chain = append(chain, llm.ProviderDescriptor{
			Provider: l.FallbackProvider,
			APIKey:   l.FallbackAPIKey,
			Model:    model,
			BaseURL:  l.FallbackBaseURL,
		})
	}
	return chain
}

// ScoringSettings converts the scoring section into scoring.Config.
func (c Config) ScoringSettings() scoring.Config {
	s := c.Scoring
	return scoring.Config{
		Weights: scoring.Weights{
			Feasibility: s.WeightFeasibility,
			Innovation:  s.WeightInnovation,
			Risk:        s.WeightRisk,
		},
		Thresholds:    scoring.Thresholds{Ship: s.ThresholdShip, Iterate: s.ThresholdIterate},
		RiskInversion: s.RiskInversion,
		Consensus: scoring.ConsensusThresholds{
			DisagreementDelta: s.DisagreementDelta,
			WeakSpread:        s.WeakSpread,
			WeakStdDev:        s.WeakStdDev,
			ModerateSpread:    s.ModerateSpread,
			ModerateStdDev:    s.ModerateStdDev,
		},
		LowConfidenceThreshold: s.LowConfidenceThreshold,
	}
}

// Seed returns the parsed AI_SEED, or nil when unset.
func (c Config) Seed() (*int64, error) {
	raw := strings.TrimSpace(c.AI.Seed)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("AI_SEED must be an integer, got %q", raw)
	}
	return &v, nil
}

// EngineSettings assembles the engine configuration.
func (c Config) EngineSettings() (engine.Config, error) {
	seed, err := c.Seed()
	if err != nil {
		return engine.Config{}, err
	}
	cfg := engine.DefaultConfig()
	cfg.InterCallDelay = c.AI.InterCallDelay
	cfg.Temperature = c.AI.Temperature
	cfg.Seed = seed
	cfg.DualPass = c.AI.DualPass
	cfg.Scoring = c.ScoringSettings()
	for _, desc := range c.ProviderChain() {
		cfg.ProviderChain = append(cfg.ProviderChain, desc.String())
	}
	return cfg, nil
}

// Validate reports startup warnings and a joined error for settings the
// service cannot run with.
func (c Config) Validate() ([]string, error) {
	var warnings []string
	var errs []error

	if strings.TrimSpace(c.LLM.APIKey) == "" {
		errs = append(errs, errors.New("LLM_API_KEY is not set"))
	}
	if len(c.ProviderChain()) < 2 {
		warnings = append(warnings, "only one LLM provider configured; set LLM_MODEL_FALLBACK or LLM_FALLBACK_PROVIDER for resilience")
	}
	for _, desc := range c.ProviderChain() {
		switch strings.ToLower(desc.Provider) {
		case llm.ProviderOpenRouter, llm.ProviderOpenAI, llm.ProviderGemini:
		default:
			errs = append(errs, fmt.Errorf("unsupported LLM provider %q", desc.Provider))
		}
	}

	if t := c.AI.Temperature; t < 0 || t > 1 {
		warnings = append(warnings, fmt.Sprintf("AI_TEMPERATURE=%v is outside the recommended range [0, 1]", t))
	}
	if c.AI.DualPass {
		warnings = append(warnings, "AI_DUAL_PASS=true runs every role twice for consistency checking and doubles LLM cost")
	}
	if _, err := c.Seed(); err != nil {
		errs = append(errs, err)
	}
	if c.AI.InterCallDelay < 0 {
		errs = append(errs, fmt.Errorf("AI_INTER_CALL_DELAY must not be negative, got %s", c.AI.InterCallDelay))
	}

	if err := c.ScoringSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	s := c.Scoring
	if s.WeakSpread <= s.ModerateSpread {
		warnings = append(warnings, fmt.Sprintf("SCORE_WEAK_SPREAD (%d) should be greater than SCORE_MODERATE_SPREAD (%d)", s.WeakSpread, s.ModerateSpread))
	}
	if s.WeakStdDev <= s.ModerateStdDev {
		warnings = append(warnings, fmt.Sprintf("SCORE_WEAK_STDDEV (%v) should be greater than SCORE_MODERATE_STDDEV (%v)", s.WeakStdDev, s.ModerateStdDev))
	}

	d := c.Data
	if d.StoreCaseText && c.IsProduction() && d.RetentionDays == 0 {
		warnings = append(warnings, "DATA_STORE_CASE_TEXT=true in production without DATA_RETENTION_DAYS; case text will be stored indefinitely")
	}
	if d.RetentionDays < 0 {
		warnings = append(warnings, fmt.Sprintf("DATA_RETENTION_DAYS=%d is negative; no auto-purge will occur", d.RetentionDays))
	}
	if c.IsProduction() && len(c.CORSOrigins) == 0 {
		warnings = append(warnings, "CORS_ORIGINS is empty in production; cross-origin requests will be blocked")
	}

	if key := c.Attestation.PrivateKey; key != "" && !attest.ValidKey(key) {
		warnings = append(warnings, "ATTESTATION_PRIVATE_KEY has an invalid hex format; attestation signing will be disabled")
	}

	return warnings, errors.Join(errs...)
}

// ConfigureLogging applies LOG_LEVEL and LOG_FORMAT to the global logger.
func (c Config) ConfigureLogging() {
	if strings.EqualFold(c.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.WithField("level", c.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// RetentionExpiry returns when a record created at now should be purged, or
// nil when retention is disabled.
func (c Config) RetentionExpiry(now time.Time) *time.Time {
	if c.Data.RetentionDays <= 0 {
		return nil
	}
	at := now.Add(time.Duration(c.Data.RetentionDays) * 24 * time.Hour)
	return &at
}
