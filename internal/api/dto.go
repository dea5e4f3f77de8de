package api

import (
	"time"

	"agent-jury/backend/internal/agent"
	"agent-jury/backend/internal/attest"
	"agent-jury/backend/internal/engine"
	"agent-jury/backend/internal/privacy"
	"agent-jury/backend/internal/scoring"
	"agent-jury/backend/internal/store"
)

// EvaluateRequest is the body of POST /api/evaluate. Optional fields override
// the process-wide generation settings for this call.
type EvaluateRequest struct {
	CaseText    string   `json:"case_text"`
	Seed        *int64   `json:"seed"`
	Temperature *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	DualPass    *bool    `json:"dual_pass"`
}

// ResponseMeta extends the engine metadata with request-level details.
type ResponseMeta struct {
	engine.Metadata
	EvalID           string              `json:"eval_id"`
	PIIDetected      []privacy.Detection `json:"pii_detected"`
	CaseTextRedacted bool                `json:"case_text_redacted"`
}

// DataPrivacy tells the caller how the case text is retained.
type DataPrivacy struct {
	CaseTextStored   bool   `json:"case_text_stored"`
	RetentionDays    *int   `json:"retention_days"`
	ErasureAvailable bool   `json:"erasure_available"`
	ErasureEndpoint  string `json:"erasure_endpoint"`
}

// EvaluationResult is the persisted body of an evaluation.
type EvaluationResult struct {
	AgentResults []agent.Assessment  `json:"agent_results"`
	FinalVerdict scoring.Verdict     `json:"final_verdict"`
	Attestation  *attest.Attestation `json:"attestation"`
	Meta         ResponseMeta        `json:"meta"`
}

// EvaluateResponse is returned by POST /api/evaluate.
type EvaluateResponse struct {
	EvaluationResult
	DataPrivacy DataPrivacy `json:"data_privacy"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Category  string `json:"category,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// EvaluationSummaryDTO is one row of the history listing.
type EvaluationSummaryDTO struct {
	ID             string     `json:"id"`
	CaseHash       string     `json:"case_hash"`
	CaseTextStored bool       `json:"case_text_stored"`
	Decision       string     `json:"decision"`
	FinalScore     int        `json:"final_score"`
	PromptVersion  string     `json:"prompt_version"`
	ModelUsed      string     `json:"model_used"`
	ProviderUsed   string     `json:"provider_used"`
	Temperature    float64    `json:"temperature"`
	Seed           *int64     `json:"seed"`
	DualPass       bool       `json:"dual_pass"`
	PIIDetected    []string   `json:"pii_detected"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// Pagination echoes the listing window.
type Pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// EvaluationsResponse is the paginated history listing.
type EvaluationsResponse struct {
	Items      []EvaluationSummaryDTO `json:"items"`
	Pagination Pagination             `json:"pagination"`
}

// EvaluationDetailDTO is a stored evaluation with its audit trail.
type EvaluationDetailDTO struct {
	EvaluationSummaryDTO
	CaseText   *string            `json:"case_text"`
	Result     map[string]any     `json:"result"`
	AuditTrail []store.AuditEntry `json:"audit_trail"`
}

// ExportResponse is the data portability download.
type ExportResponse struct {
	ExportDate        time.Time           `json:"export_date"`
	DataSubjectNotice string              `json:"data_subject_notice"`
	Evaluation        EvaluationDetailDTO `json:"evaluation"`
}

// ActionResponse acknowledges erasure and redaction requests.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	EvalID  string `json:"eval_id"`
}

// SummaryFromModel converts a store.Evaluation into its listing form.
func SummaryFromModel(e store.Evaluation) EvaluationSummaryDTO {
	pii := e.PIITypes()
	if pii == nil {
		pii = []string{}
	}
	return EvaluationSummaryDTO{
		ID:             e.ID,
		CaseHash:       e.CaseHash,
		CaseTextStored: e.CaseTextStored,
		Decision:       e.Decision,
		FinalScore:     e.FinalScore,
		PromptVersion:  e.PromptVersion,
		ModelUsed:      e.ModelUsed,
		ProviderUsed:   e.ProviderUsed,
		Temperature:    e.Temperature,
		Seed:           e.Seed,
		DualPass:       e.DualPass,
		PIIDetected:    pii,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}

// DetailFromModel converts a store.Evaluation and its audit entries.
func DetailFromModel(e store.Evaluation, trail []store.AuditEntry) EvaluationDetailDTO {
	if trail == nil {
		trail = []store.AuditEntry{}
	}
	return EvaluationDetailDTO{
		EvaluationSummaryDTO: SummaryFromModel(e),
		CaseText:             e.CaseText,
		Result:               e.Result(),
		AuditTrail:           trail,
	}
}
