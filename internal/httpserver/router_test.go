package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"freelancehub/internal/escrow"
	"freelancehub/internal/handler"
	"freelancehub/internal/lifecycle"
	"freelancehub/internal/model"
	"freelancehub/internal/plan"
	"freelancehub/internal/repository"
	"freelancehub/internal/repository/memory"
	"freelancehub/pkg/outbox"
	"freelancehub/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret         = "test-secret"
	adminID      int64 = 1
	clientID     int64 = 10
	freelancerID int64 = 20
	strangerID   int64 = 30
)

type testServer struct {
	t      *testing.T
	router *Router
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

type unavailableGateway struct{ escrow.SimulatedProcessor }

func (unavailableGateway) Release(context.Context, *model.EscrowPayment) error {
	return errors.New("payment gateway unavailable")
}

// newTestServerWith 使用指定的支付处理器，nil 时使用模拟处理器
func newTestServerWith(t *testing.T, processor escrow.Processor) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	store := memory.NewStore()
	require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.Projects().Create(ctx, &model.Project{
			ID:       1,
			ClientID: clientID,
			Title:    "Landing page",
			Budget:   decimal.NewFromInt(5000),
			Status:   model.ProjectInProgress,
			Bid: &model.AcceptedBid{
				BidID:        7,
				FreelancerID: freelancerID,
				Amount:       decimal.NewNullDecimal(decimal.NewFromInt(2000)),
				DeliveryDays: 20,
			},
		})
	}))

	ledger, err := escrow.NewLedger(escrow.Config{CommissionRate: escrow.DefaultCommissionRate}, processor, log)
	require.NoError(t, err)
	svc := lifecycle.NewService(store, plan.NewValidator(), ledger, log)

	router := NewRouter(Handlers{
		Plan:         handler.NewPlanHandler(svc, log),
		Milestone:    handler.NewMilestoneHandler(svc, log),
		Ledger:       handler.NewLedgerHandler(svc, log),
		Notification: handler.NewNotificationHandler(store.Notifications(), log),
		Admin:        handler.NewAdminHandler(outbox.NewReplayService(store.Outbox(), log), []int64{adminID}, log),
	}, store, testSecret, log)

	return &testServer{t: t, router: router, store: store}
}

func (s *testServer) do(userID int64, method, path string, body any) (int, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := util.GenerateJWT(userID, testSecret, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func planBody() map[string]any {
	return map[string]any{
		"overview": "Two phase delivery",
		"steps": []map[string]any{
			{
				"title": "Design", "description": "Wireframes", "amount": 1000, "estimated_days": 5,
				"start_date": "2024-03-01", "end_date": "2024-03-05", "deliverables": []string{"figma"},
			},
			{
				"title": "Build", "description": "Implementation", "amount": 1000, "estimated_days": 10,
				"start_date": "2024-03-06", "end_date": "2024-03-15", "deliverables": []string{"repo"},
			},
		},
	}
}

func jsonNumber(v any) string {
	f, _ := v.(float64)
	return decimal.NewFromFloat(f).String()
}

func TestOpsEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(0, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = s.do(0, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(0, http.MethodGet, "/projects/1/plan", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing token", body["error"])

	req := httptest.NewRequest(http.MethodGet, "/ledger", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTraceHeaderEchoed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestMilestoneLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(freelancerID, http.MethodPut, "/projects/1/plan", planBody())
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "submitted", body["plan"].(map[string]any)["status"])

	code, body = s.do(clientID, http.MethodGet, "/projects/1/plan", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["steps"], 2)

	code, body = s.do(clientID, http.MethodPost, "/projects/1/plan/approve", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["already_done"])
	assert.Len(t, body["milestones"], 2)

	code, body = s.do(freelancerID, http.MethodGet, "/projects/1/milestones", nil)
	require.Equal(t, http.StatusOK, code)
	list := body["milestones"].([]any)
	require.Len(t, list, 2)
	first := jsonNumber(list[0].(map[string]any)["id"])

	code, body = s.do(clientID, http.MethodPost, "/milestones/"+first+"/fund", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "held", body["payment"].(map[string]any)["status"])

	code, body = s.do(freelancerID, http.MethodPost, "/milestones/"+first+"/submit", map[string]any{
		"attachments": []map[string]string{{"file_name": "design.pdf", "reference": "s3://bucket/design.pdf"}},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "submitted", body["milestone"].(map[string]any)["status"])

	code, body = s.do(clientID, http.MethodPost, "/milestones/"+first+"/approve", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "completed", body["milestone"].(map[string]any)["status"])
	assert.Equal(t, "in_progress", body["next_milestone"].(map[string]any)["status"])

	code, body = s.do(clientID, http.MethodPost, "/milestones/"+first+"/approve", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["already_done"])

	code, body = s.do(freelancerID, http.MethodGet, "/ledger", nil)
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "950", entries[0].(map[string]any)["amount"])

	code, body = s.do(clientID, http.MethodGet, "/ledger?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["entries"], 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(strangerID, http.MethodGet, "/projects/1/milestones", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "permission", body["error"])

	code, body = s.do(clientID, http.MethodGet, "/projects/1/plan", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["error"])

	code, body = s.do(freelancerID, http.MethodPut, "/projects/1/plan", map[string]any{"overview": "", "steps": []any{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["error"])
	assert.NotEmpty(t, body["fields"])

	code, body = s.do(clientID, http.MethodPost, "/projects/1/milestones", map[string]any{
		"title": "Extra", "description": "More work", "amount": 100,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ordering", body["error"])

	code, body = s.do(clientID, http.MethodPost, "/milestones/abc/fund", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["error"])

	code, _ = s.do(clientID, http.MethodPost, "/milestones/999/fund", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(freelancerID, http.MethodPut, "/projects/1/plan", map[string]any{
		"overview": "x",
		"steps":    []map[string]any{{"title": "Design", "start_date": "03/01/2024"}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["error"])
}

func TestCreateMilestoneOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(freelancerID, http.MethodPut, "/projects/1/plan", planBody())
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(clientID, http.MethodPost, "/projects/1/plan/approve", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(clientID, http.MethodPost, "/projects/1/milestones", map[string]any{
		"title": "Testing", "description": "QA pass", "amount": 100, "deadline": "2024-03-18",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "plan_compliance", body["error"])
}

func TestPlanRevisionOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(freelancerID, http.MethodPut, "/projects/1/plan", planBody())
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(clientID, http.MethodPost, "/projects/1/plan/revision", map[string]any{"note": "split the build phase"})
	require.Equal(t, http.StatusOK, code, body)
	pl := body["plan"].(map[string]any)
	assert.Equal(t, "revision_requested", pl["status"])
	assert.Equal(t, "split the build phase", pl["review_note"])
}

func TestNotificationInbox(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.store.Notifications().Persist(ctx, &model.Notification{
		EventID: "evt-1", UserID: clientID, Type: "plan.submitted", Title: "Plan submitted", Message: "Review the plan",
	})
	require.NoError(t, err)

	code, body := s.do(clientID, http.MethodGet, "/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, code)
	items := body["notifications"].([]any)
	require.Len(t, items, 1)
	id := jsonNumber(items[0].(map[string]any)["id"])

	code, _ = s.do(freelancerID, http.MethodPost, "/notifications/"+id+"/read", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(clientID, http.MethodPost, "/notifications/"+id+"/read", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = s.do(clientID, http.MethodGet, "/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["notifications"])

	code, _ = s.do(clientID, http.MethodDelete, "/notifications/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(clientID, http.MethodDelete, "/notifications/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminReplay(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(clientID, http.MethodPost, "/admin/outbox/replay-failed", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "permission", body["error"])

	code, body = s.do(adminID, http.MethodPost, "/admin/outbox/replay-failed?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["success_count"])

	code, _ = s.do(adminID, http.MethodPost, "/admin/outbox/replay", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(adminID, http.MethodPost, "/admin/outbox/replay?id=42", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestApprovalPendingRelease_Returns202(t *testing.T) {
	s := newTestServerWith(t, unavailableGateway{})

	code, body := s.do(freelancerID, http.MethodPut, "/projects/1/plan", planBody())
	require.Equal(t, http.StatusOK, code, body)
	code, body = s.do(clientID, http.MethodPost, "/projects/1/plan/approve", nil)
	require.Equal(t, http.StatusOK, code, body)
	first := jsonNumber(body["milestones"].([]any)[0].(map[string]any)["id"])

	code, body = s.do(clientID, http.MethodPost, "/milestones/"+first+"/fund", nil)
	require.Equal(t, http.StatusOK, code, body)
	code, body = s.do(freelancerID, http.MethodPost, "/milestones/"+first+"/submit", nil)
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(clientID, http.MethodPost, "/milestones/"+first+"/approve", nil)
	require.Equal(t, http.StatusAccepted, code, body)
	assert.Equal(t, "released", body["pending_step"])
	assert.Equal(t, "approved", body["milestone"].(map[string]any)["status"])

	// 重试时仍待放款
	code, body = s.do(clientID, http.MethodPost, "/milestones/"+first+"/approve", nil)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["already_done"])
}
