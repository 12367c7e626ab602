package billing_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/printforge/handler"
	"github.com/dmitrymomot/printforge/modules/billing"
	"github.com/dmitrymomot/printforge/pkg/httpserver"
	"github.com/dmitrymomot/printforge/pkg/jwt"
	"github.com/dmitrymomot/printforge/pkg/rbac"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *sub.MemoryStore
	tokens *jwt.Service
	grants *rbac.MemoryGrants
	gate   *rbac.Gate
	svc    *billing.Service
	router http.Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	store := sub.NewMemoryStore()
	deps := sub.Deps{Store: store, Audit: store, Ledger: store, Accounts: store}
	engine := sub.NewEngine(deps, sub.WithClock(clock), sub.WithLogger(log))
	sweeper := sub.NewSweeper(deps, sub.WithClock(clock), sub.WithLogger(log))
	svc := billing.NewService(engine, sweeper, billing.WithLogger(log))

	tokens, err := jwt.New(jwt.Config{Secret: "billing-test-secret-0123456789abcdef"})
	require.NoError(t, err)
	authz, err := rbac.NewAuthorizer(rbac.DefaultRoles())
	require.NoError(t, err)
	grants := rbac.NewMemoryGrants()
	gate := rbac.NewGate(tokens, grants, authz,
		rbac.WithErrorResponder(svc.RenderError),
		rbac.WithGateLogger(log),
	)

	return fixture{
		store:  store,
		tokens: tokens,
		grants: grants,
		gate:   gate,
		svc:    svc,
		router: billing.Router(billing.RouterOptions{
			Service: svc,
			Gate:    gate,
			Health:  httpserver.LivenessHandler(),
		}),
	}
}

// user creates a principal holding roles.
func (f fixture) user(roles ...string) uuid.UUID {
	id := uuid.New()
	if len(roles) > 0 {
		f.grants.Grant(id, roles...)
	}
	return id
}

func (f fixture) seed(t *testing.T, userID uuid.UUID, tier sub.Tier, status sub.Status) {
	t.Helper()
	rec := sub.NewRecord(userID, testNow.Add(-90*24*time.Hour))
	rec.Tier = tier
	rec.Status = status
	require.NoError(t, f.store.Save(context.Background(), rec))
}

func (f fixture) do(t *testing.T, method, path string, as uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != uuid.Nil {
		token, err := f.tokens.Issue(as, "maker@example.com", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorDetail {
	t.Helper()
	body := decode[handler.JSONResponse](t, rec)
	require.NotNil(t, body.Error, rec.Body.String())
	return *body.Error
}

func TestRouter_Access(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	target := f.user()

	tests := []struct {
		name     string
		as       uuid.UUID
		path     string
		body     string
		wantCode int
		wantKey  string
	}{
		{"no token", uuid.Nil, "/v1/subscription", "", http.StatusUnauthorized, "unauthorized"},
		{"support cannot change tiers", f.user("support"), "/v1/admin/subscriptions/tier",
			`{"userId":"` + target.String() + `","newTier":"tier_1"}`, http.StatusForbidden, "forbidden"},
		{"billing cannot delete users", f.user("billing"), "/v1/admin/users/delete",
			`{"userId":"` + target.String() + `","reason":"abuse"}`, http.StatusForbidden, "forbidden"},
		{"billing cannot run jobs", f.user("billing"), "/v1/admin/jobs/expire-trials", "", http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			method := http.MethodPost
			if tt.body == "" && strings.HasSuffix(tt.path, "/subscription") {
				method = http.MethodGet
			}
			rec := f.do(t, method, tt.path, tt.as, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantKey, errorOf(t, rec).Code)
		})
	}

	t.Run("health is public", func(t *testing.T) {
		t.Parallel()
		rec := f.do(t, http.MethodGet, "/healthz", uuid.Nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("request id is echoed", func(t *testing.T) {
		t.Parallel()
		rec := f.do(t, http.MethodGet, "/healthz", uuid.Nil, "")
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}

func TestRouter_ChangeTier(t *testing.T) {
	t.Parallel()

	t.Run("downgrade opens a grace period", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		admin := f.user("billing")
		target := f.user()
		f.seed(t, target, sub.Tier2, sub.StatusActive)

		rec := f.do(t, http.MethodPost, "/v1/admin/subscriptions/tier", admin,
			`{"userId":"`+target.String()+`","newTier":"free","notes":"chargeback"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		got := decode[sub.TierChange](t, rec)
		assert.Equal(t, sub.Tier2, got.PreviousTier)
		assert.Equal(t, sub.TierFree, got.NewTier)
		assert.Equal(t, sub.ChangeDowngrade, got.ChangeType)

		rec = f.do(t, http.MethodGet, "/v1/subscription", target, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		view := decode[billing.SubscriptionView](t, rec)
		assert.True(t, view.ReadOnly)
		assert.Equal(t, sub.Tier2, view.PreviousTier)
		require.NotNil(t, view.GracePeriodEnd)
		assert.True(t, view.GracePeriodEnd.Equal(testNow.Add(sub.DefaultGracePeriod)))
		assert.Equal(t, "Free", view.TierInfo.DisplayName)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		admin := f.user("billing")
		target := f.user().String()

		tests := []struct {
			name    string
			body    string
			wantKey string
			wantMsg string
		}{
			{"unknown tier", `{"userId":"` + target + `","newTier":"gold"}`, "bad_request", "invalid subscription tier"},
			{"missing user", `{"newTier":"tier_1"}`, "bad_request", "user ID is required"},
			{"missing tier", `{"userId":"` + target + `"}`, "validation_error", "validation failed: newTier: is required"},
			{"unknown field", `{"userId":"` + target + `","newTier":"tier_1","plan":"x"}`, "invalid_request", ""},
		}
		for _, tt := range tests {
			rec := f.do(t, http.MethodPost, "/v1/admin/subscriptions/tier", admin, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
			detail := errorOf(t, rec)
			assert.Equal(t, tt.wantKey, detail.Code, tt.name)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, detail.Message, tt.name)
			}
		}
	})
}

func TestRouter_AddTrial(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := f.user("billing")
	target := f.user()

	rec := f.do(t, http.MethodPost, "/v1/admin/subscriptions/trial", admin,
		`{"userId":"`+target.String()+`","trialDays":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "trial days must be between 1 and 365", errorOf(t, rec).Message)

	rec = f.do(t, http.MethodPost, "/v1/admin/subscriptions/trial", admin,
		`{"userId":"`+target.String()+`","trialDays":14}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[sub.Trial](t, rec)
	assert.Equal(t, 14, got.TrialDays)
	assert.Equal(t, sub.Tier1, got.TrialTier)
	assert.True(t, got.NewExpiresAt.Equal(testNow.AddDate(0, 0, 14)))
}

func TestRouter_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("self service", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		maker := f.user()

		rec := f.do(t, http.MethodPost, "/v1/subscription/cancel", maker, `{"immediate":true}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "subscription not found", errorOf(t, rec).Message)

		f.seed(t, maker, sub.Tier1, sub.StatusActive)
		rec = f.do(t, http.MethodPost, "/v1/subscription/cancel", maker, `{"immediate":true,"cancelInStripe":true}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decode[sub.Cancellation](t, rec)
		assert.Equal(t, sub.Tier1, got.PreviousTier)
		assert.False(t, got.GatewayCancelled)
		assert.True(t, got.Immediate)
		require.NotNil(t, got.GracePeriodEnd)

		rec = f.do(t, http.MethodPost, "/v1/subscription/cancel", maker, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		detail := errorOf(t, rec)
		assert.Equal(t, "conflict", detail.Code)
		assert.Equal(t, "subscription is already cancelled", detail.Message)
	})

	t.Run("admin on behalf of a user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		admin := f.user("billing")
		target := f.user()
		f.seed(t, target, sub.Tier2, sub.StatusActive)

		rec := f.do(t, http.MethodPost, "/v1/admin/subscriptions/cancel", admin, `{"notes":"support ticket"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "user ID is required", errorOf(t, rec).Message)

		rec = f.do(t, http.MethodPost, "/v1/admin/subscriptions/cancel", admin,
			`{"userId":"`+target.String()+`","notes":"support ticket"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		entries := f.store.AuditEntries(target)
		require.Len(t, entries, 1)
		assert.Equal(t, admin, entries[0].ActorID)
		assert.Equal(t, sub.ChangeCancel, entries[0].ChangeType)
	})
}

func TestRouter_Refund(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := f.user("billing")
	target := f.user()

	rec := f.do(t, http.MethodPost, "/v1/admin/refunds", admin, `{"userId":"`+target.String()+`","amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "refund amount must be greater than zero", errorOf(t, rec).Message)

	rec = f.do(t, http.MethodPost, "/v1/admin/refunds", admin,
		`{"userId":"`+target.String()+`","amount":"9.99","currency":"eur","processInStripe":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[map[string]any](t, rec)
	assert.Nil(t, got["stripeRefundId"])
	inv, ok := got["refundInvoice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, -9.99, inv["amount"])
	assert.NotEmpty(t, inv["invoice_number"])

	invoices := f.store.Invoices(target)
	require.Len(t, invoices, 1)
	assert.Equal(t, "EUR", invoices[0].Currency)
}

func TestRouter_DeleteUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := f.user("admin")
	target := f.user()
	f.store.AddAccount(target)

	rec := f.do(t, http.MethodPost, "/v1/admin/users/delete", admin, `{"userId":"`+admin.String()+`","reason":"test"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "administrators cannot target their own account", errorOf(t, rec).Message)

	rec = f.do(t, http.MethodPost, "/v1/admin/users/delete", admin, `{"userId":"`+target.String()+`","reason":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason is required", errorOf(t, rec).Message)

	rec = f.do(t, http.MethodPost, "/v1/admin/users/delete", admin,
		`{"userId":"`+target.String()+`","reason":"GDPR request","cancelStripeSubscription":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[sub.DeletedUser](t, rec)
	assert.Equal(t, target, got.UserID)
	assert.False(t, got.GatewayCancelled)
	assert.False(t, f.store.HasAccount(target))
}

func TestRouter_RunJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	admin := f.user("admin")

	expired := f.user()
	f.seed(t, expired, sub.Tier1, sub.StatusTrial)
	rec, err := f.store.Get(context.Background(), expired)
	require.NoError(t, err)
	past := testNow.Add(-time.Hour)
	rec.ExpiresAt = &past
	require.NoError(t, f.store.Save(context.Background(), rec))

	res := f.do(t, http.MethodPost, "/v1/admin/jobs/rebuild-index", admin, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "unknown sweep job", errorOf(t, res).Message)

	res = f.do(t, http.MethodPost, "/v1/admin/jobs/"+sub.JobExpireTrials, admin, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	got := decode[billing.JobResult](t, res)
	assert.Equal(t, billing.JobResult{Job: sub.JobExpireTrials, Processed: 1}, got)
}

func TestService_RequireWritable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	protected := f.gate.Authenticate(f.svc.RequireWritable(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	call := func(userID uuid.UUID) *httptest.ResponseRecorder {
		token, err := f.tokens.Issue(userID, "maker@example.com", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/projects", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	writable := f.user()
	assert.Equal(t, http.StatusNoContent, call(writable).Code)

	readOnly := f.user()
	f.seed(t, readOnly, sub.Tier1, sub.StatusActive)
	res := f.do(t, http.MethodPost, "/v1/admin/subscriptions/tier", f.user("billing"),
		`{"userId":"`+readOnly.String()+`","newTier":"free"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	rec := call(readOnly)
	assert.Equal(t, http.StatusLocked, rec.Code)
	detail := errorOf(t, rec)
	assert.Equal(t, "locked", detail.Code)
	assert.Equal(t, "account is read-only during the grace period", detail.Message)
}
