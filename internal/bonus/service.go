package bonus

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"bonus_service/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet is the subset of wallet operations the engine drives. Every call
// joins the caller's transaction.
type Wallet interface {
	LockPlayer(ctx context.Context, tx *gorm.DB, playerID string) error
	AddBonus(ctx context.Context, tx *gorm.DB, playerID string, amount decimal.Decimal, reference string) (*wallet.Movement, error)
	ForfeitBonus(ctx context.Context, tx *gorm.DB, playerID string, amount decimal.Decimal, reference string) (*wallet.Movement, error)
	ReleaseToMainWallet(ctx context.Context, tx *gorm.DB, playerID string, amount decimal.Decimal, reference string) (*wallet.Transfer, error)
}

type Options struct {
	Cache     ContributionCache
	Publisher Publisher
	Metrics   Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
	Rules     []Rule
}

// Engine is the bonus lifecycle and wagering service. Build one per process
// and share it; it holds no per-request state.
type Engine struct {
	repo          BonusRepository
	hub           *NotificationHub
	Contributions *ContributionResolver
	Eligibility   *EligibilityEvaluator
	Grants        *GrantCoordinator
	Wagering      *WagerProgressTracker
	Lifecycle     *LifecycleStateMachine
	Release       *FundsReleaseEngine
}

func NewEngine(db *gorm.DB, repo BonusRepository, w Wallet, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	hub := NewNotificationHub()
	fx := &effects{repo: repo, hub: hub, publisher: opts.Publisher, logger: logger}
	resolver := NewContributionResolver(repo, opts.Cache, logger)
	evaluator := NewEligibilityEvaluator(repo, opts.Rules...)
	release := &FundsReleaseEngine{db: db, repo: repo, wallet: w, effects: fx, metrics: metrics, logger: logger, now: clock}

	return &Engine{
		repo:          repo,
		hub:           hub,
		Contributions: resolver,
		Eligibility:   evaluator,
		Grants:        &GrantCoordinator{db: db, repo: repo, wallet: w, evaluator: evaluator, effects: fx, metrics: metrics, logger: logger, now: clock},
		Wagering:      &WagerProgressTracker{db: db, repo: repo, resolver: resolver, release: release, effects: fx, metrics: metrics, logger: logger, now: clock},
		Lifecycle:     &LifecycleStateMachine{db: db, repo: repo, wallet: w, effects: fx, metrics: metrics, logger: logger, now: clock},
		Release:       release,
	}
}

func (e *Engine) GrantDeposit(ctx context.Context, req DepositGrantRequest) (*DepositGrantResult, error) {
	return e.Grants.GrantDeposit(ctx, req)
}

func (e *Engine) GrantByCode(ctx context.Context, playerID, code string) (*BonusInstance, error) {
	return e.Grants.GrantByCode(ctx, playerID, code)
}

func (e *Engine) GrantManual(ctx context.Context, req ManualGrantRequest) (*BonusInstance, error) {
	return e.Grants.GrantManual(ctx, req)
}

func (e *Engine) ProcessBet(ctx context.Context, bet BetEvent) (*BetResult, error) {
	return e.Wagering.ProcessBet(ctx, bet)
}

func (e *Engine) Forfeit(ctx context.Context, instanceID, reason, actor string) (*BonusInstance, error) {
	return e.Lifecycle.Forfeit(ctx, instanceID, reason, actor)
}

func (e *Engine) ForfeitOnWithdrawal(ctx context.Context, playerID string) ([]BonusInstance, error) {
	return e.Lifecycle.ForfeitOnWithdrawal(ctx, playerID)
}

func (e *Engine) Expire(ctx context.Context, instanceID string) (*BonusInstance, bool, error) {
	return e.Lifecycle.Expire(ctx, instanceID)
}

func (e *Engine) CompleteWagering(ctx context.Context, instanceID, playerID string) (*Release, error) {
	return e.Release.CompleteWagering(ctx, instanceID, playerID)
}

func (e *Engine) GetProgress(ctx context.Context, instanceID string) (*Progress, error) {
	instance, err := e.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	progress, err := e.repo.GetProgress(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &Progress{Instance: *instance, Wager: *progress}, nil
}

func (e *Engine) ListPlayerBonuses(ctx context.Context, playerID string) ([]BonusInstance, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, invalid("player_id", "required")
	}
	return e.repo.ListPlayerInstances(ctx, playerID)
}

func (e *Engine) Transactions(ctx context.Context, instanceID string) ([]BonusTransaction, error) {
	return e.repo.ListTransactions(ctx, instanceID)
}

func (e *Engine) ResolveContribution(ctx context.Context, gameID string) (*Contribution, error) {
	return e.Contributions.Resolve(ctx, gameID)
}

func (e *Engine) OverrideContribution(ctx context.Context, in ContributionOverride) (*Contribution, error) {
	return e.Contributions.Override(ctx, in)
}

func (e *Engine) SubscribeToWageringUpdates(playerID string) <-chan WageringUpdate {
	return e.hub.Subscribe(playerID)
}

func (e *Engine) UnsubscribeFromWageringUpdates(playerID string, ch <-chan WageringUpdate) {
	e.hub.Unsubscribe(playerID, ch)
}

// CreatePlan validates and stores a catalog plan.
func (e *Engine) CreatePlan(ctx context.Context, plan *BonusPlan) error {
	if err := ValidatePlan(plan); err != nil {
		return err
	}
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	return e.repo.CreatePlan(ctx, plan)
}

func (e *Engine) CreateGame(ctx context.Context, game *Game) error {
	if strings.TrimSpace(game.GameID) == "" {
		return invalid("game_id", "required")
	}
	if strings.TrimSpace(game.GameName) == "" {
		return invalid("game_name", "required")
	}
	return e.repo.CreateGame(ctx, game)
}

func ValidatePlan(plan *BonusPlan) error {
	switch plan.TriggerType {
	case TriggerDeposit, TriggerCode, TriggerManual:
	default:
		return invalid("trigger_type", "unknown trigger "+plan.TriggerType)
	}
	switch plan.AwardType {
	case AwardPercentage, AwardFixed:
	default:
		return invalid("award_type", "unknown award type "+plan.AwardType)
	}
	switch plan.WagerRequirementType {
	case RequirementBonus, RequirementDeposit, RequirementBonusPlusDeposit:
	default:
		return invalid("wager_requirement_type", "unknown requirement type "+plan.WagerRequirementType)
	}
	if !plan.Amount.IsPositive() {
		return invalid("amount", "must be positive")
	}
	if plan.Multiplier.IsNegative() {
		return invalid("multiplier", "must not be negative")
	}
	if plan.ExpiryDays <= 0 {
		return invalid("expiry_days", "must be positive")
	}
	if plan.TriggerType == TriggerCode && (plan.Code == nil || strings.TrimSpace(*plan.Code) == "") {
		return invalid("code", "required for code plans")
	}
	if plan.StartDate != nil && plan.EndDate != nil && plan.EndDate.Before(*plan.StartDate) {
		return invalid("end_date", "before start_date")
	}
	return nil
}

func newTransaction(instance *BonusInstance, kind TransactionType, amount, before, after decimal.Decimal, at time.Time) *BonusTransaction {
	return &BonusTransaction{
		ID:              uuid.New().String(),
		BonusInstanceID: instance.ID,
		PlayerID:        instance.PlayerID,
		Type:            kind,
		Amount:          amount,
		BalanceBefore:   before,
		BalanceAfter:    after,
		CreatedAt:       at,
	}
}
