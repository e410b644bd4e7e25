package bonus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var transitions = map[Status][]Status{
	StatusActive:   {StatusWagering, StatusCompleted, StatusForfeited, StatusExpired},
	StatusWagering: {StatusCompleted, StatusForfeited, StatusExpired},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Terminal statuses allow nothing.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusWagering
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusForfeited || s == StatusExpired
}

const ActorSystem = "system"

const (
	ReasonWithdrawal    = "withdrawal_requested"
	ReasonRuleViolation = "rule_violation"
)

type LifecycleStateMachine struct {
	db      *gorm.DB
	repo    BonusRepository
	wallet  Wallet
	effects *effects
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Forfeit cancels an open instance and removes its unearned balance from
// the bonus wallet. Forfeiting a terminal instance is an InvalidStateError
// and moves no funds.
func (m *LifecycleStateMachine) Forfeit(ctx context.Context, instanceID, reason, actor string) (*BonusInstance, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, invalid("bonus_instance_id", "required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("reason", "required")
	}
	if actor == "" {
		actor = ActorSystem
	}

	var before, after BonusInstance
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instance, err := m.repo.LockInstance(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if !CanTransition(instance.Status, StatusForfeited) {
			return &InvalidStateError{InstanceID: instanceID, From: instance.Status, To: StatusForfeited}
		}
		before = *instance

		if err := m.closeOut(ctx, tx, instance, StatusForfeited, TxForfeited, reason); err != nil {
			return err
		}
		after = *instance
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.Forfeited(reason)
	m.logger.Info("bonus forfeited",
		"bonus_instance_id", instanceID, "player_id", after.PlayerID, "reason", reason,
		"amount", before.RemainingBonus.String())
	m.effects.notify(ctx, EventForfeited, &after, before.RemainingBonus)
	m.effects.audit(ctx, &after, "bonus_forfeited", actor, &before, &after)
	return &after, nil
}

// ForfeitOnWithdrawal forfeits every open instance of the player whose plan
// is cancelled by a withdrawal. Each instance is its own transaction; an
// instance that reached a terminal status concurrently is skipped.
func (m *LifecycleStateMachine) ForfeitOnWithdrawal(ctx context.Context, playerID string) ([]BonusInstance, error) {
	if strings.TrimSpace(playerID) == "" {
		return nil, invalid("player_id", "required")
	}
	open, err := m.repo.ListPlayerInstances(ctx, playerID, StatusActive, StatusWagering)
	if err != nil {
		return nil, err
	}

	plans := make(map[string]*BonusPlan)
	var forfeited []BonusInstance
	for _, instance := range open {
		plan, ok := plans[instance.PlanID]
		if !ok {
			plan, err = m.repo.GetPlan(ctx, nil, instance.PlanID)
			if err != nil {
				return forfeited, err
			}
			plans[instance.PlanID] = plan
		}
		if !plan.CancelOnWithdrawal {
			continue
		}
		result, err := m.Forfeit(ctx, instance.ID, ReasonWithdrawal, ActorSystem)
		if errors.Is(err, ErrInvalidState) {
			m.logger.Info("bonus closed before withdrawal forfeit", "bonus_instance_id", instance.ID)
			continue
		}
		if err != nil {
			return forfeited, err
		}
		forfeited = append(forfeited, *result)
	}
	return forfeited, nil
}

// Expire closes an open instance whose expiry has passed. It returns false
// without error when the instance is already terminal, so a sweep racing
// with completion or forfeiture is harmless.
func (m *LifecycleStateMachine) Expire(ctx context.Context, instanceID string) (*BonusInstance, bool, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, false, invalid("bonus_instance_id", "required")
	}

	var before, after BonusInstance
	expired := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instance, err := m.repo.LockInstance(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if instance.Status.IsTerminal() {
			m.logger.Info("expire skipped, bonus already closed",
				"bonus_instance_id", instanceID, "status", instance.Status)
			after = *instance
			return nil
		}
		if !m.now().After(instance.ExpiresAt) {
			return &InvalidStateError{InstanceID: instanceID, From: instance.Status, To: StatusExpired, Message: "bonus has not reached its expiry"}
		}
		before = *instance

		if err := m.closeOut(ctx, tx, instance, StatusExpired, TxExpired, "expired"); err != nil {
			return err
		}
		after = *instance
		expired = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !expired {
		return &after, false, nil
	}

	m.metrics.Expired()
	m.logger.Info("bonus expired",
		"bonus_instance_id", instanceID, "player_id", after.PlayerID, "amount", before.RemainingBonus.String())
	m.effects.notify(ctx, EventExpired, &after, before.RemainingBonus)
	m.effects.audit(ctx, &after, "bonus_expired", ActorSystem, &before, &after)
	return &after, true, nil
}

// closeOut zeroes the remaining bonus of a locked open instance, debits the
// bonus wallet and records the terminal ledger entry.
func (m *LifecycleStateMachine) closeOut(ctx context.Context, tx *gorm.DB, instance *BonusInstance, to Status, entryType TransactionType, reason string) error {
	remaining := instance.RemainingBonus
	movement, err := m.wallet.ForfeitBonus(ctx, tx, instance.PlayerID, remaining, instance.ID)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{"remaining_bonus": decimal.Zero}
	if to == StatusForfeited {
		fields["forfeit_reason"] = reason
	}
	if err := m.repo.TransitionInstance(ctx, tx, instance.ID, to, fields); err != nil {
		return err
	}

	entry := newTransaction(instance, entryType, remaining, movement.BalanceBefore, movement.BalanceAfter, m.now())
	entry.Description = reason
	if err := m.repo.AppendTransaction(ctx, tx, entry); err != nil {
		return err
	}

	instance.Status = to
	instance.RemainingBonus = decimal.Zero
	if to == StatusForfeited {
		instance.ForfeitReason = &reason
	}
	return nil
}
