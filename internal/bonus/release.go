package bonus

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Release struct {
	BonusInstanceID string          `json:"bonus_instance_id"`
	Released        decimal.Decimal `json:"released"`
	Excess          decimal.Decimal `json:"excess"`
	AlreadyClosed   bool            `json:"already_closed"`
}

type FundsReleaseEngine struct {
	db      *gorm.DB
	repo    BonusRepository
	wallet  Wallet
	effects *effects
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// CompleteWagering completes an instance whose requirement is met. It is
// idempotent: an instance that is already terminal is left untouched and no
// wallet transfer is made.
func (f *FundsReleaseEngine) CompleteWagering(ctx context.Context, instanceID, playerID string) (*Release, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, invalid("bonus_instance_id", "required")
	}

	var release *Release
	var completed BonusInstance
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instance, err := f.repo.LockInstance(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if playerID != "" && instance.PlayerID != playerID {
			return notFound("bonus instance", instanceID)
		}
		progress, err := f.repo.LockProgress(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if instance.Status.IsOpen() && progress.CurrentWagerAmount.LessThan(progress.RequiredWagerAmount) {
			return &InvalidStateError{InstanceID: instanceID, From: instance.Status, To: StatusCompleted, Message: "wagering requirement not met"}
		}
		release, err = f.complete(ctx, tx, instance, progress)
		completed = *instance
		return err
	})
	if err != nil {
		return nil, err
	}
	if !release.AlreadyClosed {
		f.afterRelease(ctx, &completed, release)
	}
	return release, nil
}

// complete runs inside the caller's transaction with the instance and its
// progress row already locked.
func (f *FundsReleaseEngine) complete(ctx context.Context, tx *gorm.DB, instance *BonusInstance, progress *WagerProgress) (*Release, error) {
	if instance.Status.IsTerminal() {
		f.logger.Info("completion skipped, bonus already closed",
			"bonus_instance_id", instance.ID, "status", instance.Status)
		return &Release{BonusInstanceID: instance.ID, Released: decimal.Zero, Excess: decimal.Zero, AlreadyClosed: true}, nil
	}

	plan, err := f.repo.GetPlan(ctx, tx, instance.PlanID)
	if err != nil {
		return nil, err
	}
	releaseAmount, excess := ReleaseAmount(instance.RemainingBonus, plan.BonusMaxRelease)

	transfer, err := f.wallet.ReleaseToMainWallet(ctx, tx, instance.PlayerID, releaseAmount, instance.ID)
	if err != nil {
		return nil, err
	}
	now := f.now()
	entry := newTransaction(instance, TxReleased, transfer.Amount, transfer.Bonus.BalanceBefore, transfer.Bonus.BalanceAfter, now)
	entry.Description = "released to main wallet"
	if err := f.repo.AppendTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	if excess.IsPositive() {
		movement, err := f.wallet.ForfeitBonus(ctx, tx, instance.PlayerID, excess, instance.ID)
		if err != nil {
			return nil, err
		}
		entry := newTransaction(instance, TxExcessForfeited, excess, movement.BalanceBefore, movement.BalanceAfter, now)
		entry.Description = "bonus above max release"
		if err := f.repo.AppendTransaction(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	fields := map[string]interface{}{
		"remaining_bonus": decimal.Zero,
		"completed_at":    now,
	}
	if err := f.repo.TransitionInstance(ctx, tx, instance.ID, StatusCompleted, fields); err != nil {
		return nil, err
	}
	if err := f.repo.CompleteProgress(ctx, tx, instance.ID, now); err != nil {
		return nil, err
	}

	instance.Status = StatusCompleted
	instance.RemainingBonus = decimal.Zero
	instance.CompletedAt = &now
	progress.CompletedAt = &now

	return &Release{BonusInstanceID: instance.ID, Released: transfer.Amount, Excess: excess}, nil
}

func (f *FundsReleaseEngine) afterRelease(ctx context.Context, instance *BonusInstance, release *Release) {
	f.metrics.Released(release.Released.InexactFloat64())
	f.logger.Info("bonus wagering completed",
		"bonus_instance_id", instance.ID, "player_id", instance.PlayerID,
		"released", release.Released.String(), "excess", release.Excess.String())
	f.effects.notify(ctx, EventCompleted, instance, release.Released)
	f.effects.audit(ctx, instance, "bonus_completed", ActorSystem, nil, release)
}

// ReleaseAmount caps the remaining bonus at the plan's max release and
// returns the part that will not be released.
func ReleaseAmount(remaining decimal.Decimal, maxRelease *decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if maxRelease == nil || remaining.LessThanOrEqual(*maxRelease) {
		return remaining, decimal.Zero
	}
	return *maxRelease, remaining.Sub(*maxRelease)
}
