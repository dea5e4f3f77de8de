package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Audit actions.
const (
	ActionEvaluationCreated  = "evaluation_created"
	ActionEvaluationViewed   = "evaluation_viewed"
	ActionEvaluationDeleted  = "evaluation_deleted"
	ActionCaseTextRedacted   = "case_text_redacted"
	ActionDataRetentionPurge = "data_retention_purge"
	ActionExportRequested    = "export_requested"
)

// Evaluation is one persisted verdict with its provenance.
type Evaluation struct {
	ID             string  `gorm:"primaryKey;size:36" json:"id"`
	CaseHash       string  `gorm:"size:66;index;not null" json:"case_hash"`
	CaseTextStored bool    `gorm:"not null;default:false" json:"case_text_stored"`
	CaseText       *string `gorm:"type:text" json:"case_text,omitempty"`
	Decision       string  `gorm:"size:16;index;not null" json:"decision"`
	FinalScore     int     `gorm:"not null" json:"final_score"`
	ResultJSON     string  `gorm:"type:text;not null" json:"-"`
	PromptVersion  string  `gorm:"size:16" json:"prompt_version"`
	ModelUsed      string  `gorm:"size:255" json:"model_used"`
	ProviderUsed   string  `gorm:"size:128" json:"provider_used"`
	Temperature    float64 `json:"temperature"`
	Seed           *int64  `json:"seed"`
	DualPass       bool    `gorm:"not null;default:false" json:"dual_pass"`
	PIIJSON        string  `gorm:"type:text" json:"-"`
	RequestIP      string  `gorm:"size:64" json:"request_ip,omitempty"`
	// CreatedAt is indexed for newest-first listing.
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
	DeletedAt *time.Time `gorm:"index" json:"deleted_at"`
}

// SetPIITypes stores the detected PII pattern names as JSON.
func (e *Evaluation) SetPIITypes(types []string) {
	if types == nil {
		e.PIIJSON = "[]"
		return
	}
	payload, _ := json.Marshal(types)
	e.PIIJSON = string(payload)
}

// PIITypes returns the decoded PII pattern names.
func (e *Evaluation) PIITypes() []string {
	if strings.TrimSpace(e.PIIJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(e.PIIJSON), &out); err != nil {
		return nil
	}
	return out
}

// Result decodes the stored result document. Erased rows decode to an empty map.
func (e *Evaluation) Result() map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(e.ResultJSON) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(e.ResultJSON), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// AuditEntry records an action taken on an evaluation.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EvalID    string    `gorm:"size:36;index" json:"eval_id"`
	Action    string    `gorm:"size:32;index;not null" json:"action"`
	Actor     string    `gorm:"size:128" json:"actor"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName keeps the audit table name stable.
func (AuditEntry) TableName() string {
	return "audit_log"
}
