package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/quotameter/internal/clock"
	"github.com/smallbiznis/quotameter/internal/config"
	gateservice "github.com/smallbiznis/quotameter/internal/gate/service"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/quotameter/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/quotameter/internal/ledger/service"
	refreshservice "github.com/smallbiznis/quotameter/internal/refresh/service"
	sessionrepo "github.com/smallbiznis/quotameter/internal/session/repository"
	sessionservice "github.com/smallbiznis/quotameter/internal/session/service"
)

type testEnv struct {
	engine *gin.Engine
	ledger ledgerdomain.Service
	clock  *clock.FakeClock
}

func setupTestServer(t *testing.T, quotaCfg config.QuotaConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE quota_accounts (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		balance INTEGER NOT NULL DEFAULT 0,
		unlimited BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE quota_transactions (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		amount INTEGER NOT NULL,
		transaction_type TEXT NOT NULL,
		resource_type TEXT,
		description TEXT,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		metadata TEXT,
		created_by TEXT,
		created_at TIMESTAMP
	)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE usage_sessions (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		duration_minutes INTEGER,
		quota_consumed INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticQuotaHolder(quotaCfg)
	repo := ledgerrepo.Provide()
	log := zap.NewNop()

	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  repo,
	})
	sessionSvc := sessionservice.New(sessionservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  fake,
		Holder: holder,
		Repo:   sessionrepo.Provide(),
		Ledger: ledgerSvc,
	})
	gateSvc := gateservice.New(gateservice.Params{
		Log:    log,
		Holder: holder,
		Ledger: ledgerSvc,
	})
	refreshSvc := refreshservice.New(refreshservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  repo,
	})

	appCfg := config.Config{Environment: "test", HTTPAddr: ":0"}
	engine := NewEngine(appCfg)
	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        appCfg,
		Log:        log,
		Holder:     holder,
		LedgerSvc:  ledgerSvc,
		SessionSvc: sessionSvc,
		GateSvc:    gateSvc,
		RefreshSvc: refreshSvc,
	})
	registerRoutes(srv)

	return &testEnv{engine: engine, ledger: ledgerSvc, clock: fake}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	env := setupTestServer(t, config.DefaultQuotaConfig())
	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetAccountNotFound(t *testing.T) {
	env := setupTestServer(t, config.DefaultQuotaConfig())
	w := env.do(t, http.MethodGet, "/v1/accounts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBalanceActions(t *testing.T) {
	env := setupTestServer(t, config.DefaultQuotaConfig())
	ctx := context.Background()
	_, err := env.ledger.EnsureAccount(ctx, "alice", 0)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/v1/accounts/alice/balance", gin.H{"action": "set", "amount": 100, "actor": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(100), decodeJSON(t, w)["balance"])

	w = env.do(t, http.MethodPost, "/v1/accounts/alice/balance", gin.H{"action": "deduct", "amount": 30, "actor": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(70), decodeJSON(t, w)["balance"])

	w = env.do(t, http.MethodPost, "/v1/accounts/alice/balance", gin.H{"action": "set_unlimited", "unlimited": true, "actor": "admin"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/accounts/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, true, body["unlimited"])

	w = env.do(t, http.MethodPost, "/v1/accounts/alice/balance", gin.H{"action": "multiply", "amount": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	quotaCfg := config.DefaultQuotaConfig()
	quotaCfg.DefaultGrant = 100
	quotaCfg.Rates = config.RateTable{"cpu": 1, "gpu": 10}
	env := setupTestServer(t, quotaCfg)

	w := env.do(t, http.MethodPost, "/v1/sessions", gin.H{"username": "alice", "resource_type": "gpu", "requested_minutes": 5})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeJSON(t, w)
	session := body["session"].(map[string]any)
	sessionID := session["id"].(string)

	env.clock.Advance(4 * time.Minute)

	w = env.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeJSON(t, w)
	assert.Equal(t, float64(4), result["duration_minutes"])
	assert.Equal(t, float64(40), result["quota_consumed"])

	w = env.do(t, http.MethodGet, "/v1/accounts/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(60), decodeJSON(t, w)["balance"])
}

func TestStartSessionDeniedWhenBroke(t *testing.T) {
	quotaCfg := config.DefaultQuotaConfig()
	quotaCfg.DefaultGrant = 0
	quotaCfg.Rates = config.RateTable{"gpu": 10}
	env := setupTestServer(t, quotaCfg)

	w := env.do(t, http.MethodPost, "/v1/sessions", gin.H{"username": "broke", "resource_type": "gpu", "requested_minutes": 10})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGateCheckEndpoint(t *testing.T) {
	quotaCfg := config.DefaultQuotaConfig()
	quotaCfg.DefaultGrant = 25
	quotaCfg.Rates = config.RateTable{"gpu": 10}
	env := setupTestServer(t, quotaCfg)

	w := env.do(t, http.MethodPost, "/v1/gate/check", gin.H{"username": "alice", "resource_type": "gpu", "requested_minutes": 3})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, float64(30), body["estimated_cost"])
	assert.Equal(t, float64(2), body["max_minutes"])
}

func TestRefreshEndpoint(t *testing.T) {
	env := setupTestServer(t, config.DefaultQuotaConfig())
	ctx := context.Background()
	_, err := env.ledger.EnsureAccount(ctx, "bob", 0)
	require.NoError(t, err)
	_, err = env.ledger.SetBalance(ctx, "bob", 5, "seed")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/v1/refresh", gin.H{
		"rule_name": "weekly",
		"action":    "add",
		"amount":    10,
		"targets":   gin.H{"balanceBelow": 10},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, float64(1), body["users_updated"])

	balance, err := env.ledger.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)
}

func TestActiveSessionsRequiresUsername(t *testing.T) {
	env := setupTestServer(t, config.DefaultQuotaConfig())
	w := env.do(t, http.MethodGet, "/v1/sessions/active", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
