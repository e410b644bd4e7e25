package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bonus_service/internal/bonus"
	"bonus_service/internal/database"
	"bonus_service/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	walletRepo := wallet.NewWalletRepositoryImpl(db)
	engine := bonus.NewEngine(db, bonus.NewBonusRepository(db), wallet.NewBonusWallet(walletRepo, "USD"), bonus.Options{Logger: logger})

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "bonus_test_total", Help: "test"}))

	h := NewHandler(wallet.NewService(walletRepo), engine, "USD", logger)
	return &testServer{t: t, router: NewRouter(h, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createPlan(plan map[string]interface{}) bonus.BonusPlan {
	s.t.Helper()
	base := map[string]interface{}{
		"name":                   "plan",
		"award_type":             bonus.AwardFixed,
		"wager_requirement_type": bonus.RequirementBonus,
		"multiplier":             "10",
		"expiry_days":            7,
		"is_active":              true,
	}
	for k, v := range plan {
		base[k] = v
	}
	rec := s.do(http.MethodPost, "/plans", base)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[bonus.BonusPlan](s.t, rec)
}

func (s *testServer) createGame(name, provider string) string {
	s.t.Helper()
	id := uuid.NewString()
	rec := s.do(http.MethodPost, "/games", map[string]string{"game_id": id, "game_name": name, "provider": provider})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return id
}

func (s *testServer) manualGrant(playerID string, planID string) bonus.BonusInstance {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/bonuses/manual", map[string]string{"player_id": playerID, "plan_id": planID, "admin_id": "admin-1"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[bonus.BonusInstance](s.t, rec)
}

func (s *testServer) balance(playerID, walletType string) decimal.Decimal {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/balance/"+playerID+"?type="+walletType, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct{ Balance wallet.Wallet }](s.t, rec).Balance.Balance
}

type depositResponse struct {
	Transaction wallet.TransactionResponse `json:"transaction"`
	Bonus       bonus.DepositGrantResult   `json:"bonus"`
}

func TestDepositGrantsBonus(t *testing.T) {
	s := newTestServer(t)
	s.createPlan(map[string]interface{}{
		"trigger_type":        bonus.TriggerDeposit,
		"award_type":          bonus.AwardPercentage,
		"amount":              "50",
		"min_bonus_threshold": "5",
		"bonus_max_release":   "100",
		"multiplier":          "30",
	})

	req := map[string]interface{}{
		"player_id":        "player-1",
		"transaction_type": wallet.TxTypeDeposit,
		"amount":           "100",
		"reference_id":     "pay-1",
	}
	rec := s.do(http.MethodPost, "/transaction", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[depositResponse](t, rec)
	require.NotNil(t, res.Bonus.Instance)
	assert.True(t, decimal.NewFromInt(50).Equal(res.Bonus.Instance.BonusAmount))
	assert.True(t, decimal.NewFromInt(1500).Equal(res.Bonus.Instance.WagerRequirementAmount))

	// a replayed deposit returns the same bonus
	rec = s.do(http.MethodPost, "/transaction", req)
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[depositResponse](t, rec)
	assert.True(t, replay.Bonus.Replayed)
	assert.Equal(t, res.Bonus.Instance.ID, replay.Bonus.Instance.ID)

	assert.True(t, decimal.NewFromInt(100).Equal(s.balance("player-1", "main")))
	assert.True(t, decimal.NewFromInt(50).Equal(s.balance("player-1", "bonus")))
}

func TestWithdrawalForfeitsCancellableBonuses(t *testing.T) {
	s := newTestServer(t)
	plan := s.createPlan(map[string]interface{}{"trigger_type": bonus.TriggerManual, "amount": "20", "cancel_on_withdrawal": true})
	instance := s.manualGrant("player-1", plan.ID)

	rec := s.do(http.MethodPost, "/transaction", map[string]interface{}{
		"player_id": "player-1", "transaction_type": wallet.TxTypeDeposit, "amount": "100", "reference_id": "pay-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/transaction", map[string]interface{}{
		"player_id": "player-1", "transaction_type": wallet.TxTypeWithdrawal, "amount": "10", "reference_id": "wd-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[withdrawalResponse](t, rec)
	require.Len(t, res.Forfeited, 1)
	assert.Equal(t, instance.ID, res.Forfeited[0].ID)

	rec = s.do(http.MethodGet, "/bonuses/"+instance.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	progress := decode[bonus.Progress](t, rec)
	assert.Equal(t, bonus.StatusForfeited, progress.Instance.Status)
	assert.True(t, s.balance("player-1", "bonus").IsZero())
	assert.True(t, decimal.NewFromInt(90).Equal(s.balance("player-1", "main")))
}

type withdrawalResponse struct {
	Transaction wallet.TransactionResponse `json:"transaction"`
	Forfeited   []bonus.BonusInstance      `json:"forfeited_bonuses"`
}

func (s *testServer) status(instanceID string) bonus.Status {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/bonuses/"+instanceID, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[bonus.Progress](s.t, rec).Instance.Status
}

func TestRejectedWithdrawalKeepsBonuses(t *testing.T) {
	s := newTestServer(t)
	plan := s.createPlan(map[string]interface{}{"trigger_type": bonus.TriggerManual, "amount": "20", "cancel_on_withdrawal": true})
	instance := s.manualGrant("player-1", plan.ID)

	// empty main wallet
	rec := s.do(http.MethodPost, "/transaction", map[string]interface{}{
		"player_id": "player-1", "transaction_type": wallet.TxTypeWithdrawal, "amount": "10", "reference_id": "wd-1",
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	assert.Equal(t, bonus.StatusActive, s.status(instance.ID))

	rec = s.do(http.MethodPost, "/transaction", map[string]interface{}{
		"player_id": "player-1", "transaction_type": wallet.TxTypeWithdrawal, "amount": "0", "reference_id": "wd-2",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, bonus.StatusActive, s.status(instance.ID))

	assert.True(t, decimal.NewFromInt(20).Equal(s.balance("player-1", "bonus")))
}

func TestReplayedWithdrawalLeavesLaterBonuses(t *testing.T) {
	s := newTestServer(t)
	plan := s.createPlan(map[string]interface{}{"trigger_type": bonus.TriggerManual, "amount": "20", "cancel_on_withdrawal": true})
	first := s.manualGrant("player-1", plan.ID)

	rec := s.do(http.MethodPost, "/transaction", map[string]interface{}{
		"player_id": "player-1", "transaction_type": wallet.TxTypeDeposit, "amount": "100", "reference_id": "pay-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	withdrawal := map[string]interface{}{
		"player_id": "player-1", "transaction_type": wallet.TxTypeWithdrawal, "amount": "10", "reference_id": "wd-1",
	}
	rec = s.do(http.MethodPost, "/transaction", withdrawal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, bonus.StatusForfeited, s.status(first.ID))

	second := s.manualGrant("player-1", plan.ID)
	rec = s.do(http.MethodPost, "/transaction", withdrawal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[withdrawalResponse](t, rec)
	assert.True(t, res.Transaction.Replayed)
	assert.Empty(t, res.Forfeited)

	assert.Equal(t, bonus.StatusActive, s.status(second.ID))
	assert.True(t, decimal.NewFromInt(90).Equal(s.balance("player-1", "main")))
	assert.True(t, decimal.NewFromInt(20).Equal(s.balance("player-1", "bonus")))
}

func TestWithdrawalWithoutFunds(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/transaction", map[string]interface{}{
		"player_id": "player-1", "transaction_type": wallet.TxTypeWithdrawal, "amount": "10", "reference_id": "wd-1",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestBetFlowAndContributionOverride(t *testing.T) {
	s := newTestServer(t)
	plan := s.createPlan(map[string]interface{}{"trigger_type": bonus.TriggerManual, "amount": "10", "bonus_max_release": "100"})
	instance := s.manualGrant("player-1", plan.ID)
	game := s.createGame("Blackjack Classic", "Pragmatic Play")

	rec := s.do(http.MethodGet, "/games/"+game+"/contribution", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	contribution := decode[bonus.Contribution](t, rec)
	assert.Equal(t, bonus.CategoryTableGames, contribution.Category)

	rec = s.do(http.MethodPut, "/games/"+game+"/contribution", map[string]interface{}{"category": bonus.CategoryTableGames, "contribution_pct": "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/bonuses/"+instance.ID+"/bets", map[string]interface{}{
		"bet_id": "bet-1", "player_id": "player-1", "game_id": game, "bet_amount": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[bonus.BetResult](t, rec)
	assert.True(t, decimal.NewFromInt(50).Equal(result.Contribution))
	assert.False(t, result.IsCompleted)

	rec = s.do(http.MethodPost, "/bonuses/"+instance.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/bonuses/"+instance.ID+"/bets", map[string]interface{}{
		"bet_id": "bet-2", "player_id": "player-1", "game_id": game, "bet_amount": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result = decode[bonus.BetResult](t, rec)
	assert.True(t, result.IsCompleted)
	assert.True(t, decimal.NewFromInt(10).Equal(result.Released))

	rec = s.do(http.MethodPost, "/bonuses/"+instance.ID+"/complete", map[string]string{"player_id": "player-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[bonus.Release](t, rec).AlreadyClosed)

	rec = s.do(http.MethodPost, "/bonuses/"+instance.ID+"/forfeit", map[string]string{"reason": "rule_violation", "actor": "admin-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/bonuses/"+instance.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[struct{ Transactions []bonus.BonusTransaction }](t, rec).Transactions
	assert.NotEmpty(t, entries)

	rec = s.do(http.MethodGet, "/players/player-1/bonuses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct{ Bonuses []bonus.BonusInstance }](t, rec).Bonuses
	require.Len(t, listed, 1)
	assert.Equal(t, bonus.StatusCompleted, listed[0].Status)
	assert.True(t, decimal.NewFromInt(10).Equal(s.balance("player-1", "main")))
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.createPlan(map[string]interface{}{"trigger_type": bonus.TriggerCode, "code": "ONCE", "amount": "10", "max_code_usage": 1})

	rec := s.do(http.MethodPost, "/bonuses/code", map[string]string{"player_id": "player-1", "code": "ONCE"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/bonuses/code", map[string]string{"player_id": "player-2", "code": "ONCE"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "bonus code usage limit reached", decode[map[string]string](t, rec)["reason"])

	rec = s.do(http.MethodPost, "/bonuses/code", map[string]string{"player_id": "player-1", "code": "NOPE"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/bonuses/code", map[string]string{"player_id": "player-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/bonuses/manual", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	s.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = s.do(http.MethodGet, "/bonuses/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/bonuses/missing/expire", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/balance/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bonus_test_total")
}

func TestBonusUpdatesStream(t *testing.T) {
	s := newTestServer(t)
	plan := s.createPlan(map[string]interface{}{"trigger_type": bonus.TriggerManual, "amount": "10"})

	server := httptest.NewServer(s.router)
	defer server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	responses := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/players/player-1/bonus-updates", nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			responses <- resp
		}
	}()

	// headers are only flushed with the first event, so keep granting until
	// the subscription has picked one up
	var resp *http.Response
	for resp == nil {
		s.manualGrant("player-1", plan.ID)
		select {
		case resp = <-responses:
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no event streamed")
		}
	}
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:"+bonus.EventGranted, strings.TrimSpace(line))
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data:"))
}
