package bonus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SkipBelowThreshold = "below_threshold"
	SkipIneligible     = "ineligible"
)

type DepositGrantRequest struct {
	PlayerID             string          `json:"player_id"`
	DepositAmount        decimal.Decimal `json:"deposit_amount"`
	DepositTransactionID string          `json:"deposit_transaction_id"`
	PaymentMethodID      string          `json:"payment_method_id"`
}

type ManualGrantRequest struct {
	PlayerID     string           `json:"player_id"`
	PlanID       string           `json:"plan_id"`
	CustomAmount *decimal.Decimal `json:"custom_amount,omitempty"`
	Notes        string           `json:"notes"`
	AdminID      string           `json:"admin_id"`
}

// PlanSkip explains why a deposit plan was passed over. Skips are normal
// flow, not errors.
type PlanSkip struct {
	PlanID string `json:"plan_id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type DepositGrantResult struct {
	Instance *BonusInstance `json:"instance,omitempty"`
	Skipped  []PlanSkip     `json:"skipped,omitempty"`
	Replayed bool           `json:"replayed,omitempty"`
}

type GrantCoordinator struct {
	db        *gorm.DB
	repo      BonusRepository
	wallet    Wallet
	evaluator *EligibilityEvaluator
	effects   *effects
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type grant struct {
	plan          *BonusPlan
	playerID      string
	amount        decimal.Decimal
	depositAmount *decimal.Decimal
	depositTxnID  *string
	code          *string
	grantedBy     *string
	notes         *string
}

// EligibilityCheck reports whether a player may receive a plan.
type EligibilityCheck func(plan *BonusPlan) (Eligibility, error)

// SelectFirstEligiblePlan walks candidates in catalog order and picks the
// first plan whose computed amount clears its threshold and for which the
// player is eligible. Matching plans are never stacked.
func SelectFirstEligiblePlan(candidates []BonusPlan, depositAmount decimal.Decimal, check EligibilityCheck) (*BonusPlan, decimal.Decimal, []PlanSkip, error) {
	var skipped []PlanSkip
	for i := range candidates {
		plan := &candidates[i]
		amount := ComputeBonusAmount(plan, depositAmount)
		if !amount.IsPositive() || (plan.MinBonusThreshold != nil && amount.LessThan(*plan.MinBonusThreshold)) {
			skipped = append(skipped, PlanSkip{
				PlanID: plan.ID,
				Code:   SkipBelowThreshold,
				Reason: fmt.Sprintf("bonus %s is below the plan threshold", amount.StringFixed(2)),
			})
			continue
		}
		eligibility, err := check(plan)
		if err != nil {
			return nil, decimal.Zero, skipped, err
		}
		if !eligibility.Eligible {
			skipped = append(skipped, PlanSkip{PlanID: plan.ID, Code: SkipIneligible, Reason: eligibility.Reason})
			continue
		}
		return plan, amount, skipped, nil
	}
	return nil, decimal.Zero, skipped, nil
}

// ComputeBonusAmount derives the award for a deposit, capped at the plan's
// max release.
func ComputeBonusAmount(plan *BonusPlan, depositAmount decimal.Decimal) decimal.Decimal {
	amount := plan.Amount
	if plan.AwardType == AwardPercentage {
		amount = depositAmount.Mul(plan.Amount).Div(hundred)
	}
	if plan.BonusMaxRelease != nil && amount.GreaterThan(*plan.BonusMaxRelease) {
		amount = *plan.BonusMaxRelease
	}
	return amount.Round(2)
}

// WagerRequirement is the total contribution needed before release.
func WagerRequirement(plan *BonusPlan, bonusAmount, depositAmount decimal.Decimal) decimal.Decimal {
	var base decimal.Decimal
	switch plan.WagerRequirementType {
	case RequirementDeposit:
		base = depositAmount
	case RequirementBonusPlusDeposit:
		base = bonusAmount.Add(depositAmount)
	default:
		base = bonusAmount
	}
	return base.Mul(plan.Multiplier).Round(2)
}

func (c *GrantCoordinator) GrantDeposit(ctx context.Context, req DepositGrantRequest) (*DepositGrantResult, error) {
	switch {
	case strings.TrimSpace(req.PlayerID) == "":
		return nil, invalid("player_id", "required")
	case !req.DepositAmount.IsPositive():
		return nil, invalid("deposit_amount", "must be positive")
	case strings.TrimSpace(req.DepositTransactionID) == "":
		return nil, invalid("deposit_transaction_id", "required")
	}

	result := &DepositGrantResult{}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.wallet.LockPlayer(ctx, tx, req.PlayerID); err != nil {
			return err
		}
		existing, err := c.repo.FindInstanceByDeposit(ctx, tx, req.PlayerID, req.DepositTransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Instance = existing
			result.Replayed = true
			return nil
		}
		candidates, err := c.repo.ActiveDepositPlans(ctx, tx, req.DepositAmount, req.PaymentMethodID, c.now())
		if err != nil {
			return err
		}
		plan, amount, skipped, err := SelectFirstEligiblePlan(candidates, req.DepositAmount, func(plan *BonusPlan) (Eligibility, error) {
			return c.evaluator.Evaluate(ctx, tx, req.PlayerID, plan)
		})
		result.Skipped = skipped
		if err != nil || plan == nil {
			return err
		}

		deposit := req.DepositAmount
		depositTxnID := req.DepositTransactionID
		instance, err := c.issue(ctx, tx, grant{
			plan:          plan,
			playerID:      req.PlayerID,
			amount:        amount,
			depositAmount: &deposit,
			depositTxnID:  &depositTxnID,
		})
		if err != nil {
			return err
		}
		result.Instance = instance
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, skip := range result.Skipped {
		c.metrics.DepositPlanSkipped(skip.Code)
		c.logger.Info("deposit bonus plan skipped",
			"player_id", req.PlayerID, "plan_id", skip.PlanID, "code", skip.Code, "reason", skip.Reason)
	}
	if result.Replayed {
		c.logger.Info("deposit already granted",
			"player_id", req.PlayerID, "deposit_transaction_id", req.DepositTransactionID, "bonus_instance_id", result.Instance.ID)
		return result, nil
	}
	if result.Instance != nil {
		c.granted(ctx, result.Instance, TriggerDeposit, ActorSystem)
	}
	return result, nil
}

func (c *GrantCoordinator) GrantByCode(ctx context.Context, playerID, code string) (*BonusInstance, error) {
	code = strings.TrimSpace(code)
	if strings.TrimSpace(playerID) == "" {
		return nil, invalid("player_id", "required")
	}
	if code == "" {
		return nil, invalid("code", "required")
	}

	var instance *BonusInstance
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.wallet.LockPlayer(ctx, tx, playerID); err != nil {
			return err
		}
		plan, err := c.repo.GetPlanByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return &IneligibleError{PlanID: plan.ID, Reason: "bonus code is not active"}
		}
		if plan.MaxCodeUsage != nil && plan.CurrentCodeUsage >= *plan.MaxCodeUsage {
			return &IneligibleError{PlanID: plan.ID, Reason: "bonus code usage limit reached"}
		}
		if !withinWindow(plan, c.now()) {
			return &IneligibleError{PlanID: plan.ID, Reason: "bonus code is outside its validity window"}
		}
		if plan.AwardType != AwardFixed {
			return &IneligibleError{PlanID: plan.ID, Reason: "only fixed-amount code bonuses can be redeemed"}
		}
		eligibility, err := c.evaluator.Evaluate(ctx, tx, playerID, plan)
		if err != nil {
			return err
		}
		if !eligibility.Eligible {
			return &IneligibleError{PlanID: plan.ID, Reason: eligibility.Reason}
		}
		if err := c.repo.IncrementCodeUsage(ctx, tx, plan.ID); err != nil {
			return err
		}

		used := code
		instance, err = c.issue(ctx, tx, grant{plan: plan, playerID: playerID, amount: plan.Amount, code: &used})
		return err
	})
	if err != nil {
		return nil, err
	}

	c.granted(ctx, instance, TriggerCode, playerID)
	return instance, nil
}

func (c *GrantCoordinator) GrantManual(ctx context.Context, req ManualGrantRequest) (*BonusInstance, error) {
	switch {
	case strings.TrimSpace(req.PlayerID) == "":
		return nil, invalid("player_id", "required")
	case strings.TrimSpace(req.PlanID) == "":
		return nil, invalid("plan_id", "required")
	case strings.TrimSpace(req.AdminID) == "":
		return nil, invalid("admin_id", "required")
	case req.CustomAmount != nil && !req.CustomAmount.IsPositive():
		return nil, invalid("custom_amount", "must be positive")
	}

	var instance *BonusInstance
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.wallet.LockPlayer(ctx, tx, req.PlayerID); err != nil {
			return err
		}
		plan, err := c.repo.GetPlan(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		if plan.TriggerType != TriggerManual {
			return invalid("plan_id", "plan "+plan.ID+" is not a manual plan")
		}
		eligibility, err := c.evaluator.Evaluate(ctx, tx, req.PlayerID, plan)
		if err != nil {
			return err
		}
		if !eligibility.Eligible {
			return &IneligibleError{PlanID: plan.ID, Reason: eligibility.Reason}
		}

		amount := plan.Amount
		if req.CustomAmount != nil {
			amount = *req.CustomAmount
		}
		g := grant{plan: plan, playerID: req.PlayerID, amount: amount.Round(2), grantedBy: &req.AdminID}
		if req.Notes != "" {
			g.notes = &req.Notes
		}
		instance, err = c.issue(ctx, tx, g)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.granted(ctx, instance, TriggerManual, req.AdminID)
	return instance, nil
}

// issue writes the instance, its zeroed progress row, the wallet credit and
// the granted ledger entry inside tx.
func (c *GrantCoordinator) issue(ctx context.Context, tx *gorm.DB, g grant) (*BonusInstance, error) {
	if !g.amount.IsPositive() {
		return nil, &IneligibleError{PlanID: g.plan.ID, Reason: "bonus amount must be positive"}
	}
	deposit := decimal.Zero
	if g.depositAmount != nil {
		deposit = *g.depositAmount
	}
	requirement := WagerRequirement(g.plan, g.amount, deposit)
	now := c.now()

	instance := &BonusInstance{
		ID:                     uuid.New().String(),
		PlanID:                 g.plan.ID,
		PlayerID:               g.playerID,
		BonusAmount:            g.amount,
		RemainingBonus:         g.amount,
		DepositAmount:          g.depositAmount,
		DepositTransactionID:   g.depositTxnID,
		WagerRequirementAmount: requirement,
		WagerProgressAmount:    decimal.Zero,
		PercentComplete:        decimal.Zero,
		Status:                 StatusActive,
		GrantedAt:              now,
		ExpiresAt:              now.AddDate(0, 0, g.plan.ExpiryDays),
		CodeUsed:               g.code,
		GrantedBy:              g.grantedBy,
		Notes:                  g.notes,
		UpdatedAt:              now,
	}
	progress := &WagerProgress{
		BonusInstanceID:      instance.ID,
		RequiredWagerAmount:  requirement,
		CurrentWagerAmount:   decimal.Zero,
		RemainingWagerAmount: requirement,
		CompletionPercentage: decimal.Zero,
		SlotsWagered:         decimal.Zero,
		TableGamesWagered:    decimal.Zero,
		LiveCasinoWagered:    decimal.Zero,
		OtherWagered:         decimal.Zero,
		UpdatedAt:            now,
	}
	if err := c.repo.CreateInstance(ctx, tx, instance, progress); err != nil {
		return nil, err
	}

	movement, err := c.wallet.AddBonus(ctx, tx, g.playerID, g.amount, instance.ID)
	if err != nil {
		return nil, err
	}
	entry := newTransaction(instance, TxGranted, g.amount, movement.BalanceBefore, movement.BalanceAfter, now)
	entry.Description = g.plan.TriggerType + " bonus " + g.plan.ID
	if err := c.repo.AppendTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}
	return instance, nil
}

func (c *GrantCoordinator) granted(ctx context.Context, instance *BonusInstance, trigger, actor string) {
	c.metrics.Granted(trigger, instance.BonusAmount.InexactFloat64())
	c.logger.Info("bonus granted",
		"bonus_instance_id", instance.ID, "player_id", instance.PlayerID, "plan_id", instance.PlanID,
		"trigger", trigger, "amount", instance.BonusAmount.String(),
		"wager_requirement", instance.WagerRequirementAmount.String(), "expires_at", instance.ExpiresAt)
	c.effects.notify(ctx, EventGranted, instance, instance.BonusAmount)
	c.effects.audit(ctx, instance, "bonus_granted", actor, nil, instance)
}
