package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-jury/backend/internal/agent"
	"agent-jury/backend/internal/attest"
	"agent-jury/backend/internal/engine"
	"agent-jury/backend/internal/llm"
	"agent-jury/backend/internal/metrics"
	"agent-jury/backend/internal/schema"
	"agent-jury/backend/internal/store"
	"agent-jury/backend/internal/util"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	scores map[string]int
	fail   error
	texts  []string
}

func (s *stubRunner) Run(ctx context.Context, in agent.RunInput) (agent.Assessment, error) {
	s.texts = append(s.texts, in.CaseText)
	if s.fail != nil {
		return agent.Assessment{}, s.fail
	}
	return agent.Assessment{
		Role:       in.Role.Name,
		Score:      s.scores[in.Role.Key],
		Confidence: 80,
		Breakdown:  schema.Breakdown{Primary: 70, Secondary: 80, Tertiary: 90},
		Pros:       []string{"clear need"},
		Cons:       []string{"crowded market"},
		Evidence:   []string{"pilot data"},
		Rationale:  "grounded",
		Provider:   "openrouter",
		Model:      "primary-model",
	}, nil
}

type testServer struct {
	server   *Server
	router   *gin.Engine
	db       *store.Database
	runner   *stubRunner
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	recorder := metrics.MustNew(reg)
	runner := &stubRunner{scores: map[string]int{
		agent.RoleFeasibility: 90,
		agent.RoleInnovation:  90,
		agent.RoleRisk:        70,
	}}
	engCfg := engine.DefaultConfig()
	engCfg.ProviderChain = []string{"openrouter/primary-model"}
	eng := engine.New(runner, engCfg, util.NoSleep{}, recorder)

	cfg := Config{
		DB:             db,
		Engine:         eng,
		Metrics:        recorder,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		StoreCaseText:  true,
		RetentionDays:  30,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	router, err := srv.Router()
	require.NoError(t, err)
	return &testServer{server: srv, router: router, db: db, runner: runner, registry: reg}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) evaluate(t *testing.T, caseText string) EvaluateResponse {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"case_text": caseText})
	rec := ts.do(t, http.MethodPost, "/api/evaluate", string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestEvaluateReturnsVerdictAndPersists(t *testing.T) {
	signer, err := attest.NewSigner(testKey)
	require.NoError(t, err)
	ts := newTestServer(t, func(cfg *Config) { cfg.Signer = signer })

	caseText := "Solar kiosks for rural clinics. Contact founder@example.com"
	resp := ts.evaluate(t, caseText)

	assert.Len(t, resp.AgentResults, 3)
	assert.Equal(t, "SHIP", string(resp.FinalVerdict.Decision))
	assert.NotEmpty(t, resp.Meta.EvalID)
	assert.NotEmpty(t, resp.Meta.RequestID)
	assert.Equal(t, agent.PromptVersion, resp.Meta.PromptVersion)
	require.Len(t, resp.Meta.PIIDetected, 1)
	assert.Equal(t, "email", resp.Meta.PIIDetected[0].Type)
	assert.False(t, resp.Meta.CaseTextRedacted)
	assert.Equal(t, caseText, ts.runner.texts[0])

	assert.True(t, resp.DataPrivacy.CaseTextStored)
	require.NotNil(t, resp.DataPrivacy.RetentionDays)
	assert.Equal(t, 30, *resp.DataPrivacy.RetentionDays)
	assert.Equal(t, "DELETE /api/evaluations/"+resp.Meta.EvalID, resp.DataPrivacy.ErasureEndpoint)

	require.NotNil(t, resp.Attestation)
	assert.True(t, attest.Verify(attest.Payload{
		CaseHash:    attest.CaseHash(caseText),
		Feasibility: 90,
		Innovation:  90,
		Risk:        70,
		FinalScore:  resp.FinalVerdict.FinalScore,
		Summary:     resp.FinalVerdict.Summary,
	}, resp.Attestation))

	row, err := ts.db.GetEvaluation(resp.Meta.EvalID)
	require.NoError(t, err)
	assert.Equal(t, attest.CaseHash(caseText), row.CaseHash)
	assert.Equal(t, "SHIP", row.Decision)
	assert.Equal(t, []string{"email"}, row.PIITypes())
	require.NotNil(t, row.CaseText)
	require.NotNil(t, row.ExpiresAt)
	assert.Equal(t, "openrouter", row.ProviderUsed)

	assert.Equal(t, 1, testutil.CollectAndCount(ts.registry, "agent_jury_evaluations_total"))
}

func TestEvaluateAutoRedactsPII(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.AutoRedactPII = true
		cfg.StoreCaseText = false
	})
	resp := ts.evaluate(t, "Email founder@example.com for the pilot")

	assert.True(t, resp.Meta.CaseTextRedacted)
	assert.Equal(t, "Email [REDACTED_EMAIL] for the pilot", ts.runner.texts[0])
	assert.Nil(t, resp.Attestation)

	row, err := ts.db.GetEvaluation(resp.Meta.EvalID)
	require.NoError(t, err)
	assert.Nil(t, row.CaseText)
	assert.False(t, row.CaseTextStored)
}

func TestEvaluateValidatesCaseText(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing", `{}`, "case_text is required"},
		{"blank", `{"case_text":"   "}`, "case_text is required"},
		{"too long", fmt.Sprintf(`{"case_text":%q}`, strings.Repeat("a", MaxCaseTextLength+1)), "case_text is too long"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/evaluate", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.want, body.Error)
		})
	}
	assert.Empty(t, ts.runner.texts)
}

func TestEvaluateClassifiesProviderFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.runner.fail = &llm.ExhaustedError{Attempts: 1, Last: &llm.ProviderCallError{
		Provider: "openrouter", Model: "primary-model", StatusCode: http.StatusUnauthorized, Body: "bad key",
	}}

	rec := ts.do(t, http.MethodPost, "/api/evaluate", `{"case_text":"A case"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CategoryAuth, body.Category)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)

	assert.Equal(t, 1, testutil.CollectAndCount(ts.registry, "agent_jury_evaluation_errors_total"))
	count, err := ts.db.CountEvaluations()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestClassifyError(t *testing.T) {
	roleErr := func(err error) error { return &engine.RoleError{Role: "Risk & Ethics Agent", Err: err} }
	tests := []struct {
		name     string
		err      error
		status   int
		category string
	}{
		{"parse", roleErr(&schema.InvalidFormatError{Excerpt: "nope"}), 502, CategoryParse},
		{"schema", roleErr(&schema.SchemaError{Diagnostic: "score failed lte=100"}), 502, CategorySchema},
		{"auth", roleErr(&llm.ProviderCallError{StatusCode: 403}), 401, CategoryAuth},
		{"rate limit", roleErr(&llm.ExhaustedError{Attempts: 2, Last: &llm.ProviderCallError{StatusCode: 429}}), 429, CategoryRateLimit},
		{"network", roleErr(&llm.NetworkError{Timeout: true, Err: context.DeadlineExceeded}), 504, CategoryNetwork},
		{"exhausted", roleErr(&llm.ExhaustedError{Attempts: 2, Last: &llm.ProviderCallError{StatusCode: 500}}), 502, CategoryExhausted},
		{"provider", roleErr(&llm.ProviderCallError{StatusCode: 400}), 502, CategoryProvider},
		{"unknown", errors.New("boom"), 500, CategoryUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(tc.err)
			if got.Status != tc.status || got.Category != tc.category {
				t.Fatalf("expected %d/%s got %d/%s", tc.status, tc.category, got.Status, got.Category)
			}
		})
	}
}

func TestEvaluationHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	first := ts.evaluate(t, "First case")
	ts.evaluate(t, "Second case")

	rec := ts.do(t, http.MethodGet, "/api/evaluations?limit=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list EvaluationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, Pagination{Limit: maxPageSize, Offset: 0, Total: 2}, list.Pagination)
	assert.Len(t, list.Items, 2)

	rec = ts.do(t, http.MethodGet, "/api/evaluations?case_hash="+attest.CaseHash("First case"), "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, first.Meta.EvalID, list.Items[0].ID)
	assert.Equal(t, defaultPageSize, list.Pagination.Limit)

	rec = ts.do(t, http.MethodGet, "/api/evaluations/"+first.Meta.EvalID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail EvaluationDetailDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.NotNil(t, detail.CaseText)
	assert.Equal(t, "First case", *detail.CaseText)
	assert.Contains(t, detail.Result, "final_verdict")
	require.Len(t, detail.AuditTrail, 2)
	assert.Equal(t, store.ActionEvaluationCreated, detail.AuditTrail[0].Action)
	assert.Equal(t, store.ActionEvaluationViewed, detail.AuditTrail[1].Action)

	rec = ts.do(t, http.MethodGet, "/api/evaluations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEraseEvaluation(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.evaluate(t, "Erase me")
	path := "/api/evaluations/" + resp.Meta.EvalID

	rec := ts.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ack ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.OK)
	assert.Equal(t, resp.Meta.EvalID, ack.EvalID)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, "").Code)
}

func TestRedactEvaluation(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.evaluate(t, "Call ops@example.org today")

	rec := ts.do(t, http.MethodPost, "/api/evaluations/"+resp.Meta.EvalID+"/redact", "")
	require.Equal(t, http.StatusOK, rec.Code)

	row, err := ts.db.GetEvaluation(resp.Meta.EvalID)
	require.NoError(t, err)
	require.NotNil(t, row.CaseText)
	assert.Equal(t, "Call [REDACTED_EMAIL] today", *row.CaseText)

	rec = ts.do(t, http.MethodPost, "/api/evaluations/missing/redact", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportEvaluation(t *testing.T) {
	ts := newTestServer(t, nil)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ts.server.now = func() time.Time { return fixed }
	resp := ts.evaluate(t, "Export me")

	rec := ts.do(t, http.MethodPost, "/api/evaluations/"+resp.Meta.EvalID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fmt.Sprintf(`attachment; filename="evaluation-%s.json"`, resp.Meta.EvalID), rec.Header().Get("Content-Disposition"))

	var export ExportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.True(t, export.ExportDate.Equal(fixed))
	assert.Equal(t, dataSubjectNotice, export.DataSubjectNotice)
	require.Len(t, export.Evaluation.AuditTrail, 2)
	assert.Equal(t, store.ActionExportRequested, export.Evaluation.AuditTrail[1].Action)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/evaluations/missing/export", "").Code)
}

func TestRetentionPurgeErasesExpired(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.RetentionDays = 1 })
	resp := ts.evaluate(t, "Short lived")

	ts.server.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	ts.server.purgeExpired()

	_, err := ts.db.GetEvaluation(resp.Meta.EvalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHealthConfigAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = ts.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, agent.PromptVersion, cfg["prompt_version"])
	assert.Equal(t, false, cfg["attestation_enabled"])
	assert.Len(t, cfg["roles"], 3)

	ts.evaluate(t, "Count me")
	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_jury_evaluations_total")
}

func TestEvaluateStreamBroadcastsProgress(t *testing.T) {
	ts := newTestServer(t, nil)
	httpSrv := httptest.NewServer(ts.router)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/evaluate/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// wait for registration before evaluating
	require.Eventually(t, func() bool {
		ts.server.evalNotifier.mu.Lock()
		defer ts.server.evalNotifier.mu.Unlock()
		return len(ts.server.evalNotifier.clients) == 1
	}, time.Second, 10*time.Millisecond)

	ts.evaluate(t, "Stream me")

	var types []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var evt EvaluationEvent
		require.NoError(t, conn.ReadJSON(&evt))
		types = append(types, evt.Type)
		if evt.Type == EventDecided {
			assert.Equal(t, "SHIP", evt.Decision)
			require.NotNil(t, evt.FinalScore)
			break
		}
	}
	assert.Equal(t, EventStarted, types[0])
	assert.Contains(t, types, EventProgress)

	last := ts.server.evalNotifier.LastStatus()
	require.NotNil(t, last)
	assert.Equal(t, EventDecided, last.Type)
}
