package bonus

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusWagering  Status = "wagering"
	StatusCompleted Status = "completed"
	StatusForfeited Status = "forfeited"
	StatusExpired   Status = "expired"
)

const (
	TriggerDeposit = "deposit"
	TriggerCode    = "code"
	TriggerManual  = "manual"
)

const (
	AwardPercentage = "percentage"
	AwardFixed      = "fixed"
)

const (
	RequirementBonus            = "bonus"
	RequirementDeposit          = "deposit"
	RequirementBonusPlusDeposit = "bonus_plus_deposit"
)

const (
	CategorySlots      = "slots"
	CategoryTableGames = "table_games"
	CategoryLiveCasino = "live_casino"
	CategoryVideoPoker = "video_poker"
	CategoryOther      = "other"
)

type TransactionType string

const (
	TxGranted          TransactionType = "granted"
	TxActivated        TransactionType = "activated"
	TxBetPlaced        TransactionType = "bet_placed"
	TxBetWon           TransactionType = "bet_won"
	TxBetLost          TransactionType = "bet_lost"
	TxWagerContributed TransactionType = "wager_contributed"
	TxReleased         TransactionType = "released"
	TxExcessForfeited  TransactionType = "excess_forfeited"
	TxForfeited        TransactionType = "forfeited"
	TxExpired          TransactionType = "expired"
	TxCancelled        TransactionType = "cancelled"
)

// BonusPlan is the admin-maintained template a grant is made from.
// Nullable caps mean "no limit".
type BonusPlan struct {
	ID                   string           `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	Name                 string           `gorm:"column:name;type:varchar(120);not null" json:"name"`
	TriggerType          string           `gorm:"column:trigger_type;type:varchar(20);not null;index" json:"trigger_type"`
	AwardType            string           `gorm:"column:award_type;type:varchar(20);not null" json:"award_type"`
	Amount               decimal.Decimal  `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	WagerRequirementType string           `gorm:"column:wager_requirement_type;type:varchar(24);not null" json:"wager_requirement_type"`
	Multiplier           decimal.Decimal  `gorm:"column:multiplier;type:numeric(10,2);not null" json:"multiplier"`
	MinBonusThreshold    *decimal.Decimal `gorm:"column:min_bonus_threshold;type:numeric(20,2)" json:"min_bonus_threshold,omitempty"`
	BonusMaxRelease      *decimal.Decimal `gorm:"column:bonus_max_release;type:numeric(20,2)" json:"bonus_max_release,omitempty"`
	ExpiryDays           int              `gorm:"column:expiry_days;not null" json:"expiry_days"`
	MaxTriggerPerPlayer  *int             `gorm:"column:max_trigger_per_player" json:"max_trigger_per_player,omitempty"`
	MinDeposit           *decimal.Decimal `gorm:"column:min_deposit;type:numeric(20,2)" json:"min_deposit,omitempty"`
	MaxDeposit           *decimal.Decimal `gorm:"column:max_deposit;type:numeric(20,2)" json:"max_deposit,omitempty"`
	PaymentMethodID      *string          `gorm:"column:payment_method_id;type:varchar(64)" json:"payment_method_id,omitempty"`
	Code                 *string          `gorm:"column:code;type:varchar(64);uniqueIndex" json:"code,omitempty"`
	MaxCodeUsage         *int             `gorm:"column:max_code_usage" json:"max_code_usage,omitempty"`
	CurrentCodeUsage     int              `gorm:"column:current_code_usage;not null;default:0" json:"current_code_usage"`
	StartDate            *time.Time       `gorm:"column:start_date" json:"start_date,omitempty"`
	EndDate              *time.Time       `gorm:"column:end_date" json:"end_date,omitempty"`
	CancelOnWithdrawal   bool             `gorm:"column:cancel_on_withdrawal;not null;default:false" json:"cancel_on_withdrawal"`
	IsActive             bool             `gorm:"column:is_active;not null" json:"is_active"`
	Priority             int              `gorm:"column:priority;not null;default:0" json:"priority"`
	CreatedAt            time.Time        `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"column:updated_at;not null" json:"updated_at"`
}

// BonusInstance is one grant of a plan to one player.
type BonusInstance struct {
	ID                     string           `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	PlanID                 string           `gorm:"column:plan_id;type:varchar(36);not null;index:idx_instance_player_plan" json:"plan_id"`
	PlayerID               string           `gorm:"column:player_id;type:varchar(64);not null;index:idx_instance_player_plan" json:"player_id"`
	BonusAmount            decimal.Decimal  `gorm:"column:bonus_amount;type:numeric(20,2);not null" json:"bonus_amount"`
	RemainingBonus         decimal.Decimal  `gorm:"column:remaining_bonus;type:numeric(20,2);not null" json:"remaining_bonus"`
	DepositAmount          *decimal.Decimal `gorm:"column:deposit_amount;type:numeric(20,2)" json:"deposit_amount,omitempty"`
	DepositTransactionID   *string          `gorm:"column:deposit_transaction_id;type:varchar(255)" json:"deposit_transaction_id,omitempty"`
	WagerRequirementAmount decimal.Decimal  `gorm:"column:wager_requirement_amount;type:numeric(20,2);not null" json:"wager_requirement_amount"`
	WagerProgressAmount    decimal.Decimal  `gorm:"column:wager_progress_amount;type:numeric(20,2);not null;default:0" json:"wager_progress_amount"`
	PercentComplete        decimal.Decimal  `gorm:"column:percent_complete;type:numeric(6,2);not null;default:0" json:"percent_complete"`
	Status                 Status           `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	GrantedAt              time.Time        `gorm:"column:granted_at;not null" json:"granted_at"`
	ExpiresAt              time.Time        `gorm:"column:expires_at;not null" json:"expires_at"`
	CompletedAt            *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ForfeitReason          *string          `gorm:"column:forfeit_reason;type:varchar(255)" json:"forfeit_reason,omitempty"`
	CodeUsed               *string          `gorm:"column:code_used;type:varchar(64)" json:"code_used,omitempty"`
	GrantedBy              *string          `gorm:"column:granted_by;type:varchar(64)" json:"granted_by,omitempty"`
	Notes                  *string          `gorm:"column:notes;type:text" json:"notes,omitempty"`
	UpdatedAt              time.Time        `gorm:"column:updated_at;not null" json:"updated_at"`
}

// WagerProgress mirrors the wagering counters of one instance.
type WagerProgress struct {
	BonusInstanceID      string          `gorm:"column:bonus_instance_id;primaryKey;type:varchar(36)" json:"bonus_instance_id"`
	RequiredWagerAmount  decimal.Decimal `gorm:"column:required_wager_amount;type:numeric(20,2);not null" json:"required_wager_amount"`
	CurrentWagerAmount   decimal.Decimal `gorm:"column:current_wager_amount;type:numeric(20,2);not null;default:0" json:"current_wager_amount"`
	RemainingWagerAmount decimal.Decimal `gorm:"column:remaining_wager_amount;type:numeric(20,2);not null" json:"remaining_wager_amount"`
	CompletionPercentage decimal.Decimal `gorm:"column:completion_percentage;type:numeric(6,2);not null;default:0" json:"completion_percentage"`
	SlotsWagered         decimal.Decimal `gorm:"column:slots_wagered;type:numeric(20,2);not null;default:0" json:"slots_wagered"`
	TableGamesWagered    decimal.Decimal `gorm:"column:table_games_wagered;type:numeric(20,2);not null;default:0" json:"table_games_wagered"`
	LiveCasinoWagered    decimal.Decimal `gorm:"column:live_casino_wagered;type:numeric(20,2);not null;default:0" json:"live_casino_wagered"`
	OtherWagered         decimal.Decimal `gorm:"column:other_wagered;type:numeric(20,2);not null;default:0" json:"other_wagered"`
	TotalBetsCount       int64           `gorm:"column:total_bets_count;not null;default:0" json:"total_bets_count"`
	LastBetAt            *time.Time      `gorm:"column:last_bet_at" json:"last_bet_at,omitempty"`
	CompletedAt          *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

// BonusTransaction is the append-only bonus ledger.
type BonusTransaction struct {
	ID              string          `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	BonusInstanceID string          `gorm:"column:bonus_instance_id;type:varchar(36);not null;index:idx_bonus_tx_bet" json:"bonus_instance_id"`
	PlayerID        string          `gorm:"column:player_id;type:varchar(64);not null" json:"player_id"`
	Type            TransactionType `gorm:"column:type;type:varchar(24);not null" json:"type"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	BalanceBefore   decimal.Decimal `gorm:"column:balance_before;type:numeric(20,2);not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after;type:numeric(20,2);not null" json:"balance_after"`
	GameID          *string         `gorm:"column:game_id;type:varchar(64)" json:"game_id,omitempty"`
	BetReference    *string         `gorm:"column:bet_reference;type:varchar(255);index:idx_bonus_tx_bet" json:"bet_reference,omitempty"`
	Description     string          `gorm:"column:description;type:varchar(255)" json:"description,omitempty"`
	CreatedAt       time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

// AuditLogEntry is written after commit and carries no atomicity guarantee.
type AuditLogEntry struct {
	ID              string    `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	BonusInstanceID *string   `gorm:"column:bonus_instance_id;type:varchar(36);index" json:"bonus_instance_id,omitempty"`
	PlayerID        string    `gorm:"column:player_id;type:varchar(64);not null" json:"player_id"`
	ActionType      string    `gorm:"column:action_type;type:varchar(40);not null" json:"action_type"`
	OldValue        string    `gorm:"column:old_value;type:text" json:"old_value,omitempty"`
	NewValue        string    `gorm:"column:new_value;type:text" json:"new_value,omitempty"`
	Actor           string    `gorm:"column:actor;type:varchar(64);not null" json:"actor"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// Game is the read-only games catalog row.
type Game struct {
	GameID    string    `gorm:"column:game_id;primaryKey;type:varchar(64)" json:"game_id"`
	GameName  string    `gorm:"column:game_name;type:varchar(100);not null" json:"game_name"`
	Provider  string    `gorm:"column:provider;type:varchar(100);not null" json:"provider"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// GameContribution is derived lazily from the catalog and overridable by admins.
type GameContribution struct {
	GameID                 string          `gorm:"column:game_id;primaryKey;type:varchar(64)" json:"game_id"`
	Category               string          `gorm:"column:category;type:varchar(20);not null" json:"category"`
	ContributionPercentage decimal.Decimal `gorm:"column:contribution_percentage;type:numeric(5,2);not null" json:"contribution_percentage"` // 0 to 100
	IsRestricted           bool            `gorm:"column:is_restricted;not null;default:false" json:"is_restricted"`
	IsOverride             bool            `gorm:"column:is_override;not null;default:false" json:"is_override"`
	CreatedAt              time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (BonusPlan) TableName() string        { return "bonus_plans" }
func (BonusInstance) TableName() string    { return "bonus_instances" }
func (WagerProgress) TableName() string    { return "wager_progress" }
func (BonusTransaction) TableName() string { return "bonus_transactions" }
func (AuditLogEntry) TableName() string    { return "bonus_audit_logs" }
func (Game) TableName() string             { return "games" }
func (GameContribution) TableName() string { return "game_contributions" }

// Models lists every table owned by the engine, in migration order.
func Models() []interface{} {
	return []interface{}{
		&BonusPlan{}, &BonusInstance{}, &WagerProgress{}, &BonusTransaction{},
		&AuditLogEntry{}, &Game{}, &GameContribution{},
	}
}

type BetEvent struct {
	BetID           string          `json:"bet_id,omitempty"`
	BonusInstanceID string          `json:"bonus_instance_id"`
	PlayerID        string          `json:"player_id"`
	GameID          string          `json:"game_id"`
	BetAmount       decimal.Decimal `json:"bet_amount"`
}

type BetResult struct {
	BonusInstanceID string          `json:"bonus_instance_id"`
	Category        string          `json:"category"`
	ContributionPct decimal.Decimal `json:"contribution_pct"`
	Contribution    decimal.Decimal `json:"contribution"`
	ProgressPct     decimal.Decimal `json:"progress_pct"`
	IsCompleted     bool            `json:"is_completed"`
	Released        decimal.Decimal `json:"released"`
	Duplicate       bool            `json:"duplicate,omitempty"`
}

type Progress struct {
	Instance BonusInstance `json:"instance"`
	Wager    WagerProgress `json:"wager"`
}

type WageringUpdate struct {
	EventType          string          `json:"event_type"`
	BonusInstanceID    string          `json:"bonus_instance_id"`
	PlayerID           string          `json:"player_id"`
	Status             Status          `json:"status"`
	WageringCompleted  decimal.Decimal `json:"wagering_completed"`
	WageringRequired   decimal.Decimal `json:"wagering_required"`
	PercentageComplete decimal.Decimal `json:"percentage_complete"`
	Amount             decimal.Decimal `json:"amount"`
	Completed          bool            `json:"completed"`
	Timestamp          time.Time       `json:"timestamp"`
}
