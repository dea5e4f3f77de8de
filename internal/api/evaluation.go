package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/attest"
	"agent-jury/backend/internal/engine"
	"agent-jury/backend/internal/privacy"
	"agent-jury/backend/internal/scoring"
	"agent-jury/backend/internal/store"
)

func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}

	caseText := strings.TrimSpace(req.CaseText)
	if caseText == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("case_text is required"))
		return
	}
	if utf8.RuneCountInString(caseText) > MaxCaseTextLength {
		s.renderError(c, http.StatusBadRequest, errors.New("case_text is too long"))
		return
	}

	reqID := c.GetString(requestIDKey)
	resp, err := s.evaluate(c, caseText, req, reqID)
	if err != nil {
		class := classifyError(err)
		s.metrics.EvaluationError(class.Category, class.Status)
		logrus.WithError(err).WithFields(logrus.Fields{
			"request_id": reqID,
			"category":   class.Category,
			"status":     class.Status,
		}).Error("evaluation request failed")
		s.evalNotifier.Broadcast(EvaluationEvent{
			Type:      EventFailed,
			RequestID: reqID,
			State:     engine.StateAborted,
			Message:   class.Error,
		})
		c.JSON(class.Status, ErrorResponse{
			Error:     class.Error,
			Details:   class.Details,
			Category:  class.Category,
			RequestID: reqID,
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// evaluate runs the engine for one case, attaches attestation and privacy
// details and persists the outcome. Persistence and signing failures are
// logged and never fail the request.
func (s *Server) evaluate(c *gin.Context, caseText string, req EvaluateRequest, reqID string) (*EvaluateResponse, error) {
	evalID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{"eval_id": evalID, "request_id": reqID})

	detections := privacy.Detect(caseText)
	if len(detections) > 0 {
		log.WithField("pii_detected", privacy.Types(detections)).Warn("PII detected in case text")
	}
	redacted := len(detections) > 0 && s.autoRedactPII
	engineText := caseText
	if redacted {
		engineText = privacy.Redact(caseText)
	}

	s.evalNotifier.Broadcast(EvaluationEvent{
		Type:      EventStarted,
		RequestID: reqID,
		EvalID:    evalID,
		State:     engine.StateCollecting,
		Total:     len(s.engine.Config().Roles),
	})

	result, err := s.engine.Evaluate(c.Request.Context(), engineText, engine.Options{
		Seed:            req.Seed,
		Temperature:     req.Temperature,
		DualPass:        req.DualPass,
		TolerateAbsence: s.tolerateAbsence,
		RequestID:       reqID,
		Progress: func(p engine.ProgressEvent) {
			evt := eventFromProgress(p)
			evt.EvalID = evalID
			s.evalNotifier.Broadcast(evt)
		},
	})
	if err != nil {
		return nil, err
	}

	caseHash := attest.CaseHash(caseText)
	if detections == nil {
		detections = []privacy.Detection{}
	}
	body := EvaluationResult{
		AgentResults: result.Assessments,
		FinalVerdict: result.Verdict,
		Attestation:  s.attest(caseHash, result.Verdict, log),
		Meta: ResponseMeta{
			Metadata:         result.Meta,
			EvalID:           evalID,
			PIIDetected:      detections,
			CaseTextRedacted: redacted,
		},
	}

	now := s.now().UTC()
	s.persist(body, caseText, caseHash, c.ClientIP(), now, log)

	finalScore := result.Verdict.FinalScore
	s.evalNotifier.Broadcast(EvaluationEvent{
		Type:       EventDecided,
		RequestID:  reqID,
		EvalID:     evalID,
		State:      engine.StateDecided,
		Decision:   string(result.Verdict.Decision),
		FinalScore: &finalScore,
	})

	return &EvaluateResponse{
		EvaluationResult: body,
		DataPrivacy:      s.dataPrivacy(evalID),
	}, nil
}

// attest signs the verdict when a signer is configured. Absent roles sign as 0.
func (s *Server) attest(caseHash string, v scoring.Verdict, log *logrus.Entry) *attest.Attestation {
	if s.signer == nil {
		return nil
	}
	n := v.Normalization
	att, err := s.signer.Sign(attest.Payload{
		CaseHash:    caseHash,
		Feasibility: rawOrZero(n.Feasibility.Raw),
		Innovation:  rawOrZero(n.Innovation.Raw),
		Risk:        rawOrZero(n.Risk.Raw),
		FinalScore:  v.FinalScore,
		Summary:     attest.TruncateSummary(v.Summary),
	})
	if err != nil {
		log.WithError(err).Error("attestation signing failed")
		return nil
	}
	return att
}

func (s *Server) persist(body EvaluationResult, caseText, caseHash, clientIP string, now time.Time, log *logrus.Entry) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.WithError(err).Error("encode evaluation result")
		return
	}
	record := &store.Evaluation{
		ID:             body.Meta.EvalID,
		CaseHash:       caseHash,
		CaseTextStored: s.storeCaseText,
		Decision:       string(body.FinalVerdict.Decision),
		FinalScore:     body.FinalVerdict.FinalScore,
		ResultJSON:     string(payload),
		PromptVersion:  body.Meta.PromptVersion,
		ModelUsed:      body.Meta.ModelUsed,
		ProviderUsed:   body.Meta.ProviderUsed,
		Temperature:    body.Meta.Temperature,
		Seed:           body.Meta.Seed,
		DualPass:       body.Meta.DualPass,
		RequestIP:      clientIP,
		CreatedAt:      now,
		ExpiresAt:      s.expiresAt(now),
	}
	if s.storeCaseText {
		text := caseText
		record.CaseText = &text
	}
	record.SetPIITypes(privacy.Types(body.Meta.PIIDetected))

	if err := s.db.SaveEvaluation(record, clientIP); err != nil {
		log.WithError(err).Error("failed to persist evaluation")
	}
}

func (s *Server) expiresAt(now time.Time) *time.Time {
	if s.retentionDays <= 0 {
		return nil
	}
	at := now.AddDate(0, 0, s.retentionDays)
	return &at
}

func (s *Server) dataPrivacy(evalID string) DataPrivacy {
	var retention *int
	if s.retentionDays > 0 {
		days := s.retentionDays
		retention = &days
	}
	return DataPrivacy{
		CaseTextStored:   s.storeCaseText,
		RetentionDays:    retention,
		ErasureAvailable: true,
		ErasureEndpoint:  fmt.Sprintf("DELETE /api/evaluations/%s", evalID),
	}
}

func rawOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
