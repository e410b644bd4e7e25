package bonus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BonusRepository is the persistence boundary of the engine. Methods taking
// a tx handle participate in the caller's transaction; a nil tx runs on the
// repository's own connection.
type BonusRepository interface {
	// plan catalog
	CreatePlan(ctx context.Context, plan *BonusPlan) error
	GetPlan(ctx context.Context, tx *gorm.DB, planID string) (*BonusPlan, error)
	GetPlanByCode(ctx context.Context, tx *gorm.DB, code string) (*BonusPlan, error)
	ActiveDepositPlans(ctx context.Context, tx *gorm.DB, depositAmount decimal.Decimal, paymentMethodID string, now time.Time) ([]BonusPlan, error)
	IncrementCodeUsage(ctx context.Context, tx *gorm.DB, planID string) error

	// instances and progress
	CreateInstance(ctx context.Context, tx *gorm.DB, instance *BonusInstance, progress *WagerProgress) error
	GetInstance(ctx context.Context, instanceID string) (*BonusInstance, error)
	GetProgress(ctx context.Context, instanceID string) (*WagerProgress, error)
	LockInstance(ctx context.Context, tx *gorm.DB, instanceID string) (*BonusInstance, error)
	LockProgress(ctx context.Context, tx *gorm.DB, instanceID string) (*WagerProgress, error)
	SaveWageringProgress(ctx context.Context, tx *gorm.DB, instance *BonusInstance, progress *WagerProgress) error
	TransitionInstance(ctx context.Context, tx *gorm.DB, instanceID string, to Status, fields map[string]interface{}) error
	CompleteProgress(ctx context.Context, tx *gorm.DB, instanceID string, completedAt time.Time) error
	FindInstanceByDeposit(ctx context.Context, tx *gorm.DB, playerID string, depositTxnID string) (*BonusInstance, error)
	CountPlayerPlanInstances(ctx context.Context, tx *gorm.DB, playerID string, planID string) (int64, error)
	ListPlayerInstances(ctx context.Context, playerID string, statuses ...Status) ([]BonusInstance, error)

	// ledger and audit
	AppendTransaction(ctx context.Context, tx *gorm.DB, entry *BonusTransaction) error
	HasBetContribution(ctx context.Context, tx *gorm.DB, instanceID string, betReference string) (bool, error)
	ListTransactions(ctx context.Context, instanceID string) ([]BonusTransaction, error)
	AppendAuditLog(ctx context.Context, entry *AuditLogEntry) error

	// games catalog
	CreateGame(ctx context.Context, game *Game) error
	GetGame(ctx context.Context, gameID string) (*Game, error)
	GetContribution(ctx context.Context, gameID string) (*GameContribution, error)
	InsertContributionIfAbsent(ctx context.Context, contribution *GameContribution) error
	UpsertContribution(ctx context.Context, contribution *GameContribution) error
}

type BonusRepositoryImpl struct {
	db *gorm.DB
}

func NewBonusRepository(db *gorm.DB) *BonusRepositoryImpl {
	return &BonusRepositoryImpl{db: db}
}

func (r *BonusRepositoryImpl) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *BonusRepositoryImpl) CreatePlan(ctx context.Context, plan *BonusPlan) error {
	if err := r.db.WithContext(ctx).Create(plan).Error; err != nil {
		return fmt.Errorf("failed to create bonus plan: %w", err)
	}
	return nil
}

func (r *BonusRepositoryImpl) GetPlan(ctx context.Context, tx *gorm.DB, planID string) (*BonusPlan, error) {
	var plan BonusPlan
	err := r.conn(ctx, tx).Where("id = ?", planID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("bonus plan", planID)
		}
		return nil, fmt.Errorf("failed to get bonus plan: %w", err)
	}
	return &plan, nil
}

func (r *BonusRepositoryImpl) GetPlanByCode(ctx context.Context, tx *gorm.DB, code string) (*BonusPlan, error) {
	var plan BonusPlan
	err := r.conn(ctx, tx).
		Where("code = ? AND trigger_type = ?", code, TriggerCode).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("bonus code", code)
		}
		return nil, fmt.Errorf("failed to get bonus plan by code: %w", err)
	}
	return &plan, nil
}

// ActiveDepositPlans returns deposit-triggered plans that accept the deposit,
// in catalog order (priority, then creation time).
func (r *BonusRepositoryImpl) ActiveDepositPlans(ctx context.Context, tx *gorm.DB, depositAmount decimal.Decimal, paymentMethodID string, now time.Time) ([]BonusPlan, error) {
	var plans []BonusPlan
	err := r.conn(ctx, tx).
		Where("trigger_type = ? AND is_active = ?", TriggerDeposit, true).
		Order("priority ASC").Order("created_at ASC").Order("id ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit plans: %w", err)
	}

	matching := plans[:0]
	for _, p := range plans {
		if p.MinDeposit != nil && depositAmount.LessThan(*p.MinDeposit) {
			continue
		}
		if p.MaxDeposit != nil && depositAmount.GreaterThan(*p.MaxDeposit) {
			continue
		}
		if p.PaymentMethodID != nil && *p.PaymentMethodID != "" && *p.PaymentMethodID != paymentMethodID {
			continue
		}
		if !withinWindow(&p, now) {
			continue
		}
		matching = append(matching, p)
	}
	return matching, nil
}

// IncrementCodeUsage bumps the usage counter only while it is below the cap,
// so two concurrent redemptions cannot both take the last slot.
func (r *BonusRepositoryImpl) IncrementCodeUsage(ctx context.Context, tx *gorm.DB, planID string) error {
	result := r.conn(ctx, tx).
		Model(&BonusPlan{}).
		Where("id = ? AND (max_code_usage IS NULL OR current_code_usage < max_code_usage)", planID).
		Updates(map[string]interface{}{
			"current_code_usage": gorm.Expr("current_code_usage + 1"),
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment code usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &IneligibleError{PlanID: planID, Reason: "bonus code usage limit reached"}
	}
	return nil
}

func (r *BonusRepositoryImpl) CreateInstance(ctx context.Context, tx *gorm.DB, instance *BonusInstance, progress *WagerProgress) error {
	db := r.conn(ctx, tx)
	if err := db.Create(instance).Error; err != nil {
		return fmt.Errorf("failed to create bonus instance: %w", err)
	}
	if err := db.Create(progress).Error; err != nil {
		return fmt.Errorf("failed to create wager progress: %w", err)
	}
	return nil
}

func (r *BonusRepositoryImpl) GetInstance(ctx context.Context, instanceID string) (*BonusInstance, error) {
	var instance BonusInstance
	err := r.db.WithContext(ctx).Where("id = ?", instanceID).First(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("bonus instance", instanceID)
		}
		return nil, fmt.Errorf("failed to get bonus instance: %w", err)
	}
	return &instance, nil
}

func (r *BonusRepositoryImpl) GetProgress(ctx context.Context, instanceID string) (*WagerProgress, error) {
	var progress WagerProgress
	err := r.db.WithContext(ctx).Where("bonus_instance_id = ?", instanceID).First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("wager progress", instanceID)
		}
		return nil, fmt.Errorf("failed to get wager progress: %w", err)
	}
	return &progress, nil
}

func (r *BonusRepositoryImpl) LockInstance(ctx context.Context, tx *gorm.DB, instanceID string) (*BonusInstance, error) {
	var instance BonusInstance

	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", instanceID).
		First(&instance).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("bonus instance", instanceID)
		}
		return nil, fmt.Errorf("failed to lock bonus instance: %w", err)
	}

	return &instance, nil
}

func (r *BonusRepositoryImpl) LockProgress(ctx context.Context, tx *gorm.DB, instanceID string) (*WagerProgress, error) {
	var progress WagerProgress

	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("bonus_instance_id = ?", instanceID).
		First(&progress).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("wager progress", instanceID)
		}
		return nil, fmt.Errorf("failed to lock wager progress: %w", err)
	}

	return &progress, nil
}

func (r *BonusRepositoryImpl) SaveWageringProgress(ctx context.Context, tx *gorm.DB, instance *BonusInstance, progress *WagerProgress) error {
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&WagerProgress{}).
		Where("bonus_instance_id = ?", progress.BonusInstanceID).
		Updates(map[string]interface{}{
			"current_wager_amount":   progress.CurrentWagerAmount,
			"remaining_wager_amount": progress.RemainingWagerAmount,
			"completion_percentage":  progress.CompletionPercentage,
			"slots_wagered":          progress.SlotsWagered,
			"table_games_wagered":    progress.TableGamesWagered,
			"live_casino_wagered":    progress.LiveCasinoWagered,
			"other_wagered":          progress.OtherWagered,
			"total_bets_count":       progress.TotalBetsCount,
			"last_bet_at":            progress.LastBetAt,
			"updated_at":             now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update wager progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("wager progress", progress.BonusInstanceID)
	}

	result = tx.WithContext(ctx).
		Model(&BonusInstance{}).
		Where("id = ?", instance.ID).
		Updates(map[string]interface{}{
			"wager_progress_amount": instance.WagerProgressAmount,
			"percent_complete":      instance.PercentComplete,
			"status":                instance.Status,
			"updated_at":            now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update wagering progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("bonus instance", instance.ID)
	}
	return nil
}

// TransitionInstance moves an open instance to a terminal status. The
// status guard in the WHERE clause backs up the row lock: an instance that
// is already terminal matches no row.
func (r *BonusRepositoryImpl) TransitionInstance(ctx context.Context, tx *gorm.DB, instanceID string, to Status, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	result := tx.WithContext(ctx).
		Model(&BonusInstance{}).
		Where("id = ? AND status IN ?", instanceID, []Status{StatusActive, StatusWagering}).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update bonus status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &InvalidStateError{InstanceID: instanceID, To: to, Message: "instance is no longer open"}
	}
	return nil
}

func (r *BonusRepositoryImpl) CompleteProgress(ctx context.Context, tx *gorm.DB, instanceID string, completedAt time.Time) error {
	err := tx.WithContext(ctx).
		Model(&WagerProgress{}).
		Where("bonus_instance_id = ?", instanceID).
		Updates(map[string]interface{}{
			"completed_at": completedAt,
			"updated_at":   completedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to complete wager progress: %w", err)
	}
	return nil
}

// FindInstanceByDeposit returns nil without error when the deposit has not
// been granted a bonus.
func (r *BonusRepositoryImpl) FindInstanceByDeposit(ctx context.Context, tx *gorm.DB, playerID string, depositTxnID string) (*BonusInstance, error) {
	var instance BonusInstance
	err := r.conn(ctx, tx).
		Where("player_id = ? AND deposit_transaction_id = ?", playerID, depositTxnID).
		First(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find deposit bonus: %w", err)
	}
	return &instance, nil
}

func (r *BonusRepositoryImpl) CountPlayerPlanInstances(ctx context.Context, tx *gorm.DB, playerID string, planID string) (int64, error) {
	var count int64
	err := r.conn(ctx, tx).
		Model(&BonusInstance{}).
		Where("player_id = ? AND plan_id = ?", playerID, planID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count bonus instances: %w", err)
	}
	return count, nil
}

func (r *BonusRepositoryImpl) ListPlayerInstances(ctx context.Context, playerID string, statuses ...Status) ([]BonusInstance, error) {
	var instances []BonusInstance
	q := r.db.WithContext(ctx).Where("player_id = ?", playerID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("granted_at ASC").Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("failed to list bonus instances: %w", err)
	}
	return instances, nil
}

func (r *BonusRepositoryImpl) AppendTransaction(ctx context.Context, tx *gorm.DB, entry *BonusTransaction) error {
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append bonus transaction: %w", err)
	}
	return nil
}

func (r *BonusRepositoryImpl) HasBetContribution(ctx context.Context, tx *gorm.DB, instanceID string, betReference string) (bool, error) {
	var count int64
	err := r.conn(ctx, tx).
		Model(&BonusTransaction{}).
		Where("bonus_instance_id = ? AND bet_reference = ? AND type = ?", instanceID, betReference, TxWagerContributed).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check bet contribution: %w", err)
	}
	return count > 0, nil
}

func (r *BonusRepositoryImpl) ListTransactions(ctx context.Context, instanceID string) ([]BonusTransaction, error) {
	var entries []BonusTransaction
	err := r.db.WithContext(ctx).
		Where("bonus_instance_id = ?", instanceID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bonus transactions: %w", err)
	}
	return entries, nil
}

func (r *BonusRepositoryImpl) AppendAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

func (r *BonusRepositoryImpl) CreateGame(ctx context.Context, game *Game) error {
	if err := r.db.WithContext(ctx).Create(game).Error; err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}
	return nil
}

func (r *BonusRepositoryImpl) GetGame(ctx context.Context, gameID string) (*Game, error) {
	var game Game
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		First(&game).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("game", gameID)
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	return &game, nil
}

func (r *BonusRepositoryImpl) GetContribution(ctx context.Context, gameID string) (*GameContribution, error) {
	var contribution GameContribution
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		First(&contribution).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("game contribution", gameID)
		}
		return nil, fmt.Errorf("failed to get game contribution: %w", err)
	}

	return &contribution, nil
}

// InsertContributionIfAbsent never replaces an existing row, so a derived
// default cannot overwrite an admin override written concurrently.
func (r *BonusRepositoryImpl) InsertContributionIfAbsent(ctx context.Context, contribution *GameContribution) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "game_id"}}, DoNothing: true}).
		Create(contribution).Error
	if err != nil {
		return fmt.Errorf("failed to store game contribution: %w", err)
	}
	return nil
}

func (r *BonusRepositoryImpl) UpsertContribution(ctx context.Context, contribution *GameContribution) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"category", "contribution_percentage", "is_restricted", "is_override", "updated_at"}),
		}).
		Create(contribution).Error
	if err != nil {
		return fmt.Errorf("failed to upsert game contribution: %w", err)
	}
	return nil
}

func withinWindow(plan *BonusPlan, now time.Time) bool {
	if plan.StartDate != nil && now.Before(*plan.StartDate) {
		return false
	}
	if plan.EndDate != nil && now.After(*plan.EndDate) {
		return false
	}
	return true
}
