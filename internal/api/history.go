package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/privacy"
	"agent-jury/backend/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	dataSubjectNotice = "This export contains all data associated with this evaluation, " +
		"provided under GDPR Article 20 / KVKK data portability rights."
)

func (s *Server) handleListEvaluations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	rows, total, err := s.db.ListEvaluations(store.EvaluationQuery{
		CaseHash: strings.TrimSpace(c.Query("case_hash")),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	items := make([]EvaluationSummaryDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, SummaryFromModel(row))
	}
	c.JSON(http.StatusOK, EvaluationsResponse{
		Items:      items,
		Pagination: Pagination{Limit: limit, Offset: offset, Total: total},
	})
}

func (s *Server) handleGetEvaluation(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.db.GetEvaluation(id); err != nil {
		s.renderLookupError(c, err)
		return
	}
	if err := s.db.WriteAudit(id, store.ActionEvaluationViewed, c.ClientIP(), ""); err != nil {
		logrus.WithError(err).WithField("eval_id", id).Warn("write audit entry")
	}
	detail, ok := s.loadDetail(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleDeleteEvaluation(c *gin.Context) {
	id := c.Param("id")
	if err := s.db.EraseEvaluation(id, c.ClientIP()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderMessage(c, http.StatusNotFound, "Evaluation not found or already deleted")
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	logrus.WithField("eval_id", id).Info("evaluation erased")
	c.JSON(http.StatusOK, ActionResponse{
		OK:      true,
		Message: "Evaluation data erased (GDPR/KVKK right to erasure).",
		EvalID:  id,
	})
}

func (s *Server) handleRedactEvaluation(c *gin.Context) {
	id := c.Param("id")
	if err := s.db.RedactCaseText(id, c.ClientIP(), privacy.Redact); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderMessage(c, http.StatusNotFound, "Evaluation not found or case_text already empty")
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, ActionResponse{
		OK:      true,
		Message: "PII redacted from stored case_text.",
		EvalID:  id,
	})
}

func (s *Server) handleExportEvaluation(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.db.GetEvaluation(id); err != nil {
		s.renderLookupError(c, err)
		return
	}
	if err := s.db.WriteAudit(id, store.ActionExportRequested, c.ClientIP(), "GDPR/KVKK data portability export"); err != nil {
		logrus.WithError(err).WithField("eval_id", id).Warn("write audit entry")
	}
	detail, ok := s.loadDetail(c, id)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="evaluation-%s.json"`, id))
	c.JSON(http.StatusOK, ExportResponse{
		ExportDate:        s.now().UTC(),
		DataSubjectNotice: dataSubjectNotice,
		Evaluation:        detail,
	})
}

func (s *Server) loadDetail(c *gin.Context, id string) (EvaluationDetailDTO, bool) {
	row, err := s.db.GetEvaluation(id)
	if err != nil {
		s.renderLookupError(c, err)
		return EvaluationDetailDTO{}, false
	}
	trail, err := s.db.AuditTrail(id)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return EvaluationDetailDTO{}, false
	}
	return DetailFromModel(*row, trail), true
}

func (s *Server) renderLookupError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.renderMessage(c, http.StatusNotFound, "Evaluation not found")
		return
	}
	s.renderError(c, http.StatusInternalServerError, err)
}
