package bonus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"bonus_service/internal/wallet"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const currency = "USD"

type harness struct {
	t       *testing.T
	ctx     context.Context
	db      *gorm.DB
	repo    *BonusRepositoryImpl
	wallets wallet.WalletRepository
	engine  *Engine
	now     time.Time
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	models := append([]interface{}{&wallet.Wallet{}, &wallet.Transaction{}}, Models()...)
	require.NoError(t, db.AutoMigrate(models...))

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		db:      db,
		repo:    NewBonusRepository(db),
		wallets: wallet.NewWalletRepositoryImpl(db),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	o := Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  func() time.Time { return h.now },
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.engine = NewEngine(db, h.repo, wallet.NewBonusWallet(h.wallets, currency), o)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) game(name, provider string) string {
	h.t.Helper()
	id := uuid.NewString()
	require.NoError(h.t, h.engine.CreateGame(h.ctx, &Game{GameID: id, GameName: name, Provider: provider}))
	return id
}

func (h *harness) plan(p BonusPlan) *BonusPlan {
	h.t.Helper()
	if p.Name == "" {
		p.Name = "plan"
	}
	if p.AwardType == "" {
		p.AwardType = AwardFixed
	}
	if p.WagerRequirementType == "" {
		p.WagerRequirementType = RequirementBonus
	}
	if p.ExpiryDays == 0 {
		p.ExpiryDays = 7
	}
	p.IsActive = true
	require.NoError(h.t, h.engine.CreatePlan(h.ctx, &p))
	return &p
}

// manualGrant issues a manual bonus of amount against a fresh manual plan
// with the given multiplier and max release.
func (h *harness) manualGrant(playerID string, amount, multiplier int64, maxRelease *decimal.Decimal) *BonusInstance {
	h.t.Helper()
	plan := h.plan(BonusPlan{
		TriggerType:     TriggerManual,
		Amount:          decimal.NewFromInt(amount),
		Multiplier:      decimal.NewFromInt(multiplier),
		BonusMaxRelease: maxRelease,
	})
	instance, err := h.engine.GrantManual(h.ctx, ManualGrantRequest{PlayerID: playerID, PlanID: plan.ID, AdminID: "admin-1"})
	require.NoError(h.t, err)
	return instance
}

func (h *harness) balance(playerID, walletType string) decimal.Decimal {
	h.t.Helper()
	w, err := h.wallets.FindWallet(h.ctx, wallet.Owner{PlayerID: playerID, WalletType: walletType, Currency: currency})
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return decimal.Zero
	}
	require.NoError(h.t, err)
	return w.Balance
}

func (h *harness) progress(instanceID string) *Progress {
	h.t.Helper()
	p, err := h.engine.GetProgress(h.ctx, instanceID)
	require.NoError(h.t, err)
	return p
}

func (h *harness) ledger(instanceID string, kind TransactionType) []BonusTransaction {
	h.t.Helper()
	var entries []BonusTransaction
	require.NoError(h.t, h.db.Where("bonus_instance_id = ? AND type = ?", instanceID, kind).Find(&entries).Error)
	return entries
}

// setProgress forces the wagered amount of an instance, keeping both
// mirrored rows consistent.
func (h *harness) setProgress(instanceID string, current decimal.Decimal) {
	h.t.Helper()
	p := h.progress(instanceID)
	remaining := decimal.Max(decimal.Zero, p.Wager.RequiredWagerAmount.Sub(current))
	pct := CompletionPercentage(current, p.Wager.RequiredWagerAmount)
	require.NoError(h.t, h.db.Model(&WagerProgress{}).Where("bonus_instance_id = ?", instanceID).
		Updates(map[string]interface{}{"current_wager_amount": current, "remaining_wager_amount": remaining, "completion_percentage": pct}).Error)
	require.NoError(h.t, h.db.Model(&BonusInstance{}).Where("id = ?", instanceID).
		Updates(map[string]interface{}{"wager_progress_amount": current, "percent_complete": pct, "status": StatusWagering}).Error)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.True(t, dec(expected).Equal(actual), append([]interface{}{fmt.Sprintf("expected %s, got %s", expected, actual)}, msgAndArgs...)...)
}
