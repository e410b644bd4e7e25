package bonus

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Rule is an additional eligibility predicate (country, VIP tier, tags).
// It returns a non-empty reason when the player does not qualify.
type Rule func(ctx context.Context, tx *gorm.DB, playerID string, plan *BonusPlan) (reason string, err error)

type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type EligibilityEvaluator struct {
	repo  BonusRepository
	rules []Rule
}

func NewEligibilityEvaluator(repo BonusRepository, rules ...Rule) *EligibilityEvaluator {
	return &EligibilityEvaluator{repo: repo, rules: rules}
}

// Evaluate runs the usage cap and then each rule in order, stopping at the
// first failure. Pass the grant transaction as tx so the count sees rows
// written under the same player lock.
func (e *EligibilityEvaluator) Evaluate(ctx context.Context, tx *gorm.DB, playerID string, plan *BonusPlan) (Eligibility, error) {
	if plan.MaxTriggerPerPlayer != nil {
		used, err := e.repo.CountPlayerPlanInstances(ctx, tx, playerID, plan.ID)
		if err != nil {
			return Eligibility{}, err
		}
		if used >= int64(*plan.MaxTriggerPerPlayer) {
			return Eligibility{Reason: fmt.Sprintf("plan already granted %d of %d times", used, *plan.MaxTriggerPerPlayer)}, nil
		}
	}

	for _, rule := range e.rules {
		reason, err := rule(ctx, tx, playerID, plan)
		if err != nil {
			return Eligibility{}, err
		}
		if reason != "" {
			return Eligibility{Reason: reason}, nil
		}
	}
	return Eligibility{Eligible: true}, nil
}
