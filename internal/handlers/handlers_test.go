package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/rcm-ledger/internal/events"
	"github.com/sjperalta/rcm-ledger/internal/middleware"
	"github.com/sjperalta/rcm-ledger/internal/models"
	"github.com/sjperalta/rcm-ledger/internal/repository"
	"github.com/sjperalta/rcm-ledger/internal/services"
	"github.com/sjperalta/rcm-ledger/internal/testutil"
	"github.com/sjperalta/rcm-ledger/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	txm := txn.NewManager(db, txn.NewMemoryLocker(), txn.Config{RetryBaseDelay: time.Millisecond, LockTimeout: time.Second})
	svcs := services.NewServices(repository.NewRepositories(db), txm, events.NewRecorder(), nil)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Actor())
	NewHandlers(svcs, db, nil).Register(r.Group("/api/v1"))
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet {
		req.Header.Set(middleware.ActorHeader, "7")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestPaymentHandler_Create(t *testing.T) {
	r, db := newTestRouter(t)
	testutil.SeedAccount(t, db, 1, "100.00")
	claim := testutil.SeedClaim(t, db, 1, "100.00")
	path := fmt.Sprintf("/api/v1/claims/%d/payments", claim.ID)

	tests := []struct {
		name           string
		path           string
		body           any
		expectedStatus int
		expectedField  string
	}{
		{
			name:           "flat body with string amount",
			path:           path,
			body:           map[string]any{"amount": "25.00", "method": "check", "payment_date": "2026-03-01"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "nested body with numeric amount",
			path:           path,
			body:           map[string]any{"payment": map[string]any{"amount": 25, "method": "card"}},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "overpayment",
			path:           path,
			body:           map[string]any{"amount": "500.00", "method": "check"},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedField:  "amount",
		},
		{
			name:           "missing method",
			path:           path,
			body:           map[string]any{"amount": "5.00"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad date",
			path:           path,
			body:           map[string]any{"amount": "5.00", "method": "check", "payment_date": "03/01/2026"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown claim",
			path:           "/api/v1/claims/999/payments",
			body:           map[string]any{"amount": "5.00", "method": "check"},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "non numeric claim id",
			path:           "/api/v1/claims/abc/payments",
			body:           map[string]any{"amount": "5.00", "method": "check"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedField != "" {
				assert.Equal(t, tt.expectedField, decode(t, w)["field"])
			}
		})
	}

	stored := testutil.ReloadClaim(t, db, claim.ID)
	assert.Equal(t, "50.00", stored.PaidAmount.StringFixed(2))
	assert.Equal(t, models.ClaimStatusPartiallyPaid, stored.Status)

	w := doJSON(t, r, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	payments, ok := decode(t, w)["payments"].([]any)
	require.True(t, ok)
	assert.Len(t, payments, 2)
}

func TestPaymentHandler_RequiresActor(t *testing.T) {
	r, db := newTestRouter(t)
	testutil.SeedAccount(t, db, 1, "10.00")
	claim := testutil.SeedClaim(t, db, 1, "10.00")

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/claims/%d/payments", claim.ID), bytes.NewBufferString(`{"amount":"1.00","method":"cash"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestPaymentHandler_Reverse(t *testing.T) {
	r, db := newTestRouter(t)
	testutil.SeedAccount(t, db, 1, "100.00")
	claim := testutil.SeedClaim(t, db, 1, "100.00")

	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/claims/%d/payments", claim.ID), map[string]any{"amount": "40.00", "method": "check"})
	require.Equal(t, http.StatusCreated, w.Code)
	payment := decode(t, w)["payment"].(map[string]any)
	reversePath := fmt.Sprintf("/api/v1/payments/%v/reverse", payment["payment_id"])

	w = doJSON(t, r, http.MethodPost, reversePath, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, reversePath, map[string]any{"reason": "wrong patient"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reversal := decode(t, w)["reversal"].(map[string]any)
	assert.Equal(t, models.ClaimStatusSubmitted, reversal["new_status"])

	w = doJSON(t, r, http.MethodPost, reversePath, map[string]any{"reason": "again"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["error"], services.ReasonAlreadyReversed)
}

func TestBatchHandler_CreateAndShow(t *testing.T) {
	r, db := newTestRouter(t)
	testutil.SeedAccount(t, db, 1, "200.00")
	a := testutil.SeedClaim(t, db, 1, "100.00")
	b := testutil.SeedClaim(t, db, 1, "100.00")

	w := doJSON(t, r, http.MethodPost, "/api/v1/era/batches", map[string]any{
		"file_name": "era.835",
		"auto_post": true,
		"items": []map[string]any{
			{"claim_id": a.ID, "paid_amount": "100.00"},
			{"claim_id": 12345, "paid_amount": "10.00"},
			{"claim_id": b.ID, "paid_amount": "30.00", "payment_date": "2026-02-14"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, string(services.OutcomePartiallySucceeded), body["outcome"])
	assert.EqualValues(t, 2, body["processed_count"])
	assert.EqualValues(t, 1, body["failed_count"])

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/era/batches/%v", body["batch_id"]), nil)
	require.Equal(t, http.StatusOK, w.Code)
	details, ok := decode(t, w)["details"].([]any)
	require.True(t, ok)
	assert.Len(t, details, 2)

	w = doJSON(t, r, http.MethodPost, "/api/v1/era/batches", map[string]any{"file_name": "empty.835", "items": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/era/batches/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccountHandler_TransferAndReconcile(t *testing.T) {
	r, db := newTestRouter(t)
	testutil.SeedAccount(t, db, 1, "100.00")
	testutil.SeedAccount(t, db, 2, "50.00")
	testutil.SeedClaim(t, db, 1, "100.00")
	testutil.SeedClaim(t, db, 2, "50.00")

	w := doJSON(t, r, http.MethodGet, "/api/v1/accounts/1/reconciliation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["balanced"])

	w = doJSON(t, r, http.MethodPost, "/api/v1/accounts/transfers", map[string]any{"from_patient_id": 1, "to_patient_id": 2, "amount": "30.00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	transfer := decode(t, w)["transfer"].(map[string]any)
	assert.Equal(t, "70.00", testutil.Dec(transfer["from_balance"].(string)).StringFixed(2))
	assert.Equal(t, "80.00", testutil.Dec(transfer["to_balance"].(string)).StringFixed(2))

	w = doJSON(t, r, http.MethodPost, "/api/v1/accounts/transfers", map[string]any{"from_patient_id": 1, "to_patient_id": 2, "amount": "1000.00"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/reconciliation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["drifted_accounts"])

	w = doJSON(t, r, http.MethodGet, "/api/v1/audit?table_name=patient_accounts&entity_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries, ok := decode(t, w)["audit_entries"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 1)

	w = doJSON(t, r, http.MethodGet, "/api/v1/accounts/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthHandler(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", &services.ValidationError{Field: "amount", Reason: services.ReasonExceedsBalance}, http.StatusUnprocessableEntity},
		{"not found", &services.NotFoundError{Entity: "claim", ID: 1}, http.StatusNotFound},
		{"lock wait", txn.NewLockTimeout("post_payment", "claim_1", time.Second), http.StatusConflict},
		{"transaction deadline", &txn.TimeoutError{Op: "process_batch", Timeout: time.Minute}, http.StatusGatewayTimeout},
		{"database", &services.DatabaseError{Op: "post payment", Err: assert.AnError}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, statusFor(tt.err))
		})
	}
}
