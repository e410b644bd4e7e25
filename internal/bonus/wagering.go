package bonus

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type WagerProgressTracker struct {
	db       *gorm.DB
	repo     BonusRepository
	resolver *ContributionResolver
	release  *FundsReleaseEngine
	effects  *effects
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// ProcessBet applies one settled bet to the bonus instance chosen by the
// caller. Restricted or zero-contribution games return a zero result and
// write nothing. Reaching the requirement releases funds in the same
// transaction as the progress update.
func (t *WagerProgressTracker) ProcessBet(ctx context.Context, bet BetEvent) (*BetResult, error) {
	if err := validateBet(bet); err != nil {
		return nil, err
	}

	contribution, err := t.resolver.Resolve(ctx, bet.GameID)
	if err != nil {
		return nil, err
	}

	result := &BetResult{
		BonusInstanceID: bet.BonusInstanceID,
		Category:        contribution.Category,
		ContributionPct: contribution.ContributionPct,
		Contribution:    decimal.Zero,
		Released:        decimal.Zero,
	}

	if contribution.IsRestricted || !contribution.ContributionPct.IsPositive() {
		instance, err := t.repo.GetInstance(ctx, bet.BonusInstanceID)
		if err != nil {
			return nil, err
		}
		if instance.PlayerID != bet.PlayerID {
			return nil, notFound("bonus instance", bet.BonusInstanceID)
		}
		result.ProgressPct = instance.PercentComplete
		t.logger.Info("bet does not contribute to wagering",
			"bonus_instance_id", bet.BonusInstanceID, "game_id", bet.GameID,
			"restricted", contribution.IsRestricted, "contribution_pct", contribution.ContributionPct.String())
		return result, nil
	}

	amount := ContributionAmount(bet.BetAmount, contribution.ContributionPct)

	var updated BonusInstance
	var release *Release
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instance, err := t.repo.LockInstance(ctx, tx, bet.BonusInstanceID)
		if err != nil {
			return err
		}
		if instance.PlayerID != bet.PlayerID {
			return notFound("bonus instance", bet.BonusInstanceID)
		}
		if !instance.Status.IsOpen() {
			return &InvalidStateError{InstanceID: instance.ID, From: instance.Status, To: StatusWagering, Message: "bonus is not active"}
		}
		now := t.now()
		if now.After(instance.ExpiresAt) {
			return &InvalidStateError{InstanceID: instance.ID, From: instance.Status, To: StatusWagering, Message: "bonus has expired"}
		}
		progress, err := t.repo.LockProgress(ctx, tx, instance.ID)
		if err != nil {
			return err
		}

		if bet.BetID != "" {
			seen, err := t.repo.HasBetContribution(ctx, tx, instance.ID, bet.BetID)
			if err != nil {
				return err
			}
			if seen {
				result.Duplicate = true
				result.ProgressPct = progress.CompletionPercentage
				return nil
			}
		}

		before := progress.CurrentWagerAmount
		ApplyContribution(progress, contribution.Category, amount, now)
		instance.WagerProgressAmount = progress.CurrentWagerAmount
		instance.PercentComplete = progress.CompletionPercentage

		activated := instance.Status == StatusActive
		if activated {
			instance.Status = StatusWagering
		}
		if err := t.repo.SaveWageringProgress(ctx, tx, instance, progress); err != nil {
			return err
		}
		if activated {
			entry := newTransaction(instance, TxActivated, decimal.Zero, decimal.Zero, decimal.Zero, now)
			entry.Description = "first wagering contribution"
			if err := t.repo.AppendTransaction(ctx, tx, entry); err != nil {
				return err
			}
		}

		entry := newTransaction(instance, TxWagerContributed, amount, before, progress.CurrentWagerAmount, now)
		gameID := bet.GameID
		entry.GameID = &gameID
		if bet.BetID != "" {
			betID := bet.BetID
			entry.BetReference = &betID
		}
		if err := t.repo.AppendTransaction(ctx, tx, entry); err != nil {
			return err
		}

		result.Contribution = amount
		result.ProgressPct = progress.CompletionPercentage

		if progress.CurrentWagerAmount.GreaterThanOrEqual(progress.RequiredWagerAmount) {
			release, err = t.release.complete(ctx, tx, instance, progress)
			if err != nil {
				return err
			}
			result.IsCompleted = true
			result.Released = release.Released
		}
		updated = *instance
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Duplicate {
		t.logger.Info("bet already applied", "bonus_instance_id", bet.BonusInstanceID, "bet_id", bet.BetID)
		return result, nil
	}

	t.metrics.WagerContributed(contribution.Category, amount.InexactFloat64())
	t.logger.Info("wagering processed",
		"bonus_instance_id", updated.ID, "player_id", updated.PlayerID, "bet_id", bet.BetID,
		"contribution", amount.String(), "progress_pct", result.ProgressPct.String(), "completed", result.IsCompleted)

	if release != nil && !release.AlreadyClosed {
		t.release.afterRelease(ctx, &updated, release)
	} else {
		t.effects.notify(ctx, EventProgress, &updated, amount)
	}
	return result, nil
}

// ContributionAmount is the part of a stake counted toward wagering.
func ContributionAmount(betAmount, pct decimal.Decimal) decimal.Decimal {
	return betAmount.Mul(pct).Div(hundred).Round(2)
}

// ApplyContribution adds amount to the progress counters. Current wager only
// grows; remaining and percentage are derived from it.
func ApplyContribution(progress *WagerProgress, category string, amount decimal.Decimal, at time.Time) {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	progress.CurrentWagerAmount = progress.CurrentWagerAmount.Add(amount)
	progress.RemainingWagerAmount = decimal.Max(decimal.Zero, progress.RequiredWagerAmount.Sub(progress.CurrentWagerAmount))
	progress.CompletionPercentage = CompletionPercentage(progress.CurrentWagerAmount, progress.RequiredWagerAmount)

	switch category {
	case CategorySlots:
		progress.SlotsWagered = progress.SlotsWagered.Add(amount)
	case CategoryTableGames:
		progress.TableGamesWagered = progress.TableGamesWagered.Add(amount)
	case CategoryLiveCasino:
		progress.LiveCasinoWagered = progress.LiveCasinoWagered.Add(amount)
	default:
		// video_poker has no bucket of its own
		progress.OtherWagered = progress.OtherWagered.Add(amount)
	}

	progress.TotalBetsCount++
	progress.LastBetAt = &at
}

func CompletionPercentage(current, required decimal.Decimal) decimal.Decimal {
	if !required.IsPositive() {
		return hundred
	}
	pct := current.Div(required).Mul(hundred).Truncate(2)
	return decimal.Min(hundred, pct)
}

func validateBet(bet BetEvent) error {
	switch {
	case strings.TrimSpace(bet.BonusInstanceID) == "":
		return invalid("bonus_instance_id", "required")
	case strings.TrimSpace(bet.PlayerID) == "":
		return invalid("player_id", "required")
	case strings.TrimSpace(bet.GameID) == "":
		return invalid("game_id", "required")
	case !bet.BetAmount.IsPositive():
		return invalid("bet_amount", "must be positive")
	}
	return nil
}
