package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type BonusMetrics struct {
	grants        *prometheus.CounterVec
	grantedAmount *prometheus.CounterVec
	planSkips     *prometheus.CounterVec
	contributions *prometheus.CounterVec
	wagered       *prometheus.CounterVec
	releases      prometheus.Counter
	released      prometheus.Counter
	forfeits      *prometheus.CounterVec
	expiries      prometheus.Counter
}

var (
	bonusOnce     sync.Once
	bonusRegistry *BonusMetrics
)

// Bonus returns the process-wide bonus engine metrics, registered on first use.
func Bonus() *BonusMetrics {
	bonusOnce.Do(func() {
		bonusRegistry = newBonusMetrics()
		prometheus.MustRegister(
			bonusRegistry.grants,
			bonusRegistry.grantedAmount,
			bonusRegistry.planSkips,
			bonusRegistry.contributions,
			bonusRegistry.wagered,
			bonusRegistry.releases,
			bonusRegistry.released,
			bonusRegistry.forfeits,
			bonusRegistry.expiries,
		)
	})
	return bonusRegistry
}

func newBonusMetrics() *BonusMetrics {
	return &BonusMetrics{
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonus_grants_total",
			Help: "Bonus instances granted by trigger type.",
		}, []string{"trigger"}),
		grantedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonus_granted_amount_total",
			Help: "Bonus amount credited by trigger type.",
		}, []string{"trigger"}),
		planSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonus_deposit_plan_skips_total",
			Help: "Deposit bonus plans passed over by reason.",
		}, []string{"reason"}),
		contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonus_wager_contributions_total",
			Help: "Bets that contributed to a wagering requirement by game category.",
		}, []string{"category"}),
		wagered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonus_wager_contribution_amount_total",
			Help: "Wagering contribution amount by game category.",
		}, []string{"category"}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bonus_releases_total",
			Help: "Bonus instances completed and released.",
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bonus_released_amount_total",
			Help: "Amount moved from bonus to main wallets on completion.",
		}),
		forfeits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bonus_forfeits_total",
			Help: "Bonus instances forfeited by reason.",
		}, []string{"reason"}),
		expiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bonus_expiries_total",
			Help: "Bonus instances expired.",
		}),
	}
}

func (m *BonusMetrics) Granted(trigger string, amount float64) {
	if m == nil {
		return
	}
	trigger = label(trigger)
	m.grants.WithLabelValues(trigger).Inc()
	m.grantedAmount.WithLabelValues(trigger).Add(amount)
}

func (m *BonusMetrics) DepositPlanSkipped(reason string) {
	if m == nil {
		return
	}
	m.planSkips.WithLabelValues(label(reason)).Inc()
}

func (m *BonusMetrics) WagerContributed(category string, amount float64) {
	if m == nil {
		return
	}
	category = label(category)
	m.contributions.WithLabelValues(category).Inc()
	m.wagered.WithLabelValues(category).Add(amount)
}

func (m *BonusMetrics) Released(amount float64) {
	if m == nil {
		return
	}
	m.releases.Inc()
	if amount > 0 {
		m.released.Add(amount)
	}
}

func (m *BonusMetrics) Forfeited(reason string) {
	if m == nil {
		return
	}
	m.forfeits.WithLabelValues(label(reason)).Inc()
}

func (m *BonusMetrics) Expired() {
	if m == nil {
		return
	}
	m.expiries.Inc()
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
