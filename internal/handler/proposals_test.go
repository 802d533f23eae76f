package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autopilot/internal/config"
	"autopilot/internal/models"
	"autopilot/internal/proposal"
	"autopilot/internal/repository/memory"
	"autopilot/internal/risk"
)

// apiExecutor drives a claimed proposal straight to executed, standing in for
// the gateway-backed executor.
type apiExecutor struct {
	repo *memory.Store
}

func (s *apiExecutor) Execute(ctx context.Context, p *models.Proposal) (*models.Execution, error) {
	orderID := "gw-api-1"
	exec := &models.Execution{
		ProposalID:     p.ID,
		UserID:         p.UserID,
		GatewayOrderID: &orderID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Size:           p.Size,
		Status:         models.ExecutionExecuted,
	}
	if err := s.repo.InsertExecution(ctx, exec); err != nil {
		return nil, err
	}
	_, _ = s.repo.UpdateProposalStatusCAS(ctx, p.ID, models.ProposalExecuting, models.ProposalExecuted, nil)
	return exec, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.New()
	err := repo.UpsertUserSettings(context.Background(), &models.UserSettings{
		UserID:            "u1",
		AutopilotMode:     models.AutopilotFull,
		MaxDailyLossUSD:   decimal.NewFromInt(1000),
		MaxPositionSize:   decimal.NewFromInt(100),
		MaxOpenPositions:  50,
		Timezone:          "UTC",
		AccountBalanceUSD: decimal.NewFromInt(50000),
	})
	require.NoError(t, err)

	gate := risk.NewGate(repo, risk.NewMemoryCache(30*time.Second), config.RiskConfig{}, nil)
	machine := proposal.NewMachine(repo, gate, &apiExecutor{repo: repo}, nil, nil, config.PipelineConfig{
		ProposalTTL:       5 * time.Minute,
		StaleRecheckAfter: time.Minute,
	}, nil)

	engine := gin.New()
	(&ProposalHandler{Machine: machine}).Register(engine)
	return engine, repo
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func do(t *testing.T, engine *gin.Engine, method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func signalBody() map[string]any {
	return map[string]any{
		"strategy":   "momentum",
		"symbol":     "NQ",
		"side":       "buy",
		"size":       2,
		"order_kind": "market",
		"reasoning":  "breakout above opening range",
	}
}

func createProposal(t *testing.T, engine *gin.Engine) models.Proposal {
	t.Helper()
	rec, env := do(t, engine, http.MethodPost, "/api/v1/proposals", "u1", signalBody())
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var p models.Proposal
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestCreateProposalReturnsPending(t *testing.T) {
	engine, _ := newTestRouter(t)

	p := createProposal(t, engine)
	require.NotZero(t, p.ID)
	require.Equal(t, models.ProposalPending, p.Status)
	require.Equal(t, "u1", p.UserID)
	require.False(t, p.ExpiresAt.IsZero())
}

func TestCreateRequiresUser(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec, _ := do(t, engine, http.MethodPost, "/api/v1/proposals", "", signalBody())
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWithoutSettingsIsBlocked(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec, env := do(t, engine, http.MethodPost, "/api/v1/proposals", "nobody", signalBody())
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "settings", env.Meta["check"])
}

func TestCreateRejectsMalformedSignal(t *testing.T) {
	engine, _ := newTestRouter(t)

	body := signalBody()
	body["side"] = "sideways"
	rec, _ := do(t, engine, http.MethodPost, "/api/v1/proposals", "u1", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcknowledgeRejectThenConflict(t *testing.T) {
	engine, _ := newTestRouter(t)
	p := createProposal(t, engine)

	path := "/api/v1/proposals/" + itoa(p.ID) + "/acknowledge"
	rec, env := do(t, engine, http.MethodPost, path, "u1", map[string]any{"decision": "reject"})
	require.Equal(t, http.StatusOK, rec.Code)
	var out models.Proposal
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Equal(t, models.ProposalRejected, out.Status)

	rec, _ = do(t, engine, http.MethodPost, path, "u1", map[string]any{"decision": "approve"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveThenExecute(t *testing.T) {
	engine, _ := newTestRouter(t)
	p := createProposal(t, engine)

	rec, _ := do(t, engine, http.MethodPost, "/api/v1/proposals/"+itoa(p.ID)+"/acknowledge", "u1", map[string]any{"decision": "approve"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, engine, http.MethodPost, "/api/v1/proposals/"+itoa(p.ID)+"/execute", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var exec models.Execution
	require.NoError(t, json.Unmarshal(env.Data, &exec))
	require.Equal(t, models.ExecutionExecuted, exec.Status)
	require.NotNil(t, exec.GatewayOrderID)
}

func TestExecuteRequiresApproval(t *testing.T) {
	engine, _ := newTestRouter(t)
	p := createProposal(t, engine)

	rec, _ := do(t, engine, http.MethodPost, "/api/v1/proposals/"+itoa(p.ID)+"/execute", "u1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetUnknownProposalIs404(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec, _ := do(t, engine, http.MethodGet, "/api/v1/proposals/4242", "u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForeignProposalIsHidden(t *testing.T) {
	engine, repo := newTestRouter(t)
	require.NoError(t, repo.UpsertUserSettings(context.Background(), &models.UserSettings{
		UserID:            "u2",
		AutopilotMode:     models.AutopilotFull,
		Timezone:          "UTC",
		AccountBalanceUSD: decimal.NewFromInt(1000),
	}))
	p := createProposal(t, engine)

	rec, _ := do(t, engine, http.MethodGet, "/api/v1/proposals/"+itoa(p.ID), "u2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFiltersByStatus(t *testing.T) {
	engine, _ := newTestRouter(t)
	first := createProposal(t, engine)
	createProposal(t, engine)

	rec, _ := do(t, engine, http.MethodPost, "/api/v1/proposals/"+itoa(first.ID)+"/acknowledge", "u1", map[string]any{"decision": "reject"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, engine, http.MethodGet, "/api/v1/proposals?status=rejected", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []models.Proposal
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
	require.Equal(t, first.ID, items[0].ID)
	require.EqualValues(t, 1, env.Meta["total"])
}

func TestSweepReportsCount(t *testing.T) {
	engine, _ := newTestRouter(t)
	createProposal(t, engine)

	rec, env := do(t, engine, http.MethodPost, "/api/v1/proposals/sweep", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]int64
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Zero(t, out["expired"])
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}
