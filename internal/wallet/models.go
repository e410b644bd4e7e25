package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WalletTypeMain  = "main"
	WalletTypeBonus = "bonus"
)

const (
	TxTypeDeposit      = "deposit"
	TxTypeWithdrawal   = "withdrawal"
	TxTypeBet          = "bet"
	TxTypeWin          = "win"
	TxTypeBonusCredit  = "bonus_credit"
	TxTypeBonusForfeit = "bonus_forfeit"
	TxTypeBonusRelease = "bonus_release"
	TxTypeReleaseIn    = "release_in"
)

type Wallet struct {
	WalletID   string          `gorm:"column:wallet_id;primaryKey;type:varchar(36)"`
	PlayerID   string          `gorm:"column:player_id;type:varchar(64);not null;uniqueIndex:idx_wallet_owner"`
	WalletType string          `gorm:"column:wallet_type;type:varchar(20);not null;uniqueIndex:idx_wallet_owner"` // "main", "bonus"
	Currency   string          `gorm:"column:currency;type:varchar(3);not null;uniqueIndex:idx_wallet_owner"`
	Balance    decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null;default:0"`
	Version    int             `gorm:"column:version;not null;default:1"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;not null"`
}

type Transaction struct {
	TransactionID   string          `gorm:"column:transaction_id;primaryKey;type:varchar(36)"`
	WalletID        string          `gorm:"column:wallet_id;type:varchar(36);not null;index"`
	PlayerID        string          `gorm:"column:player_id;type:varchar(64);not null"`
	TransactionType string          `gorm:"column:transaction_type;type:varchar(20);not null;index:idx_wallet_tx_ref"` // "deposit", "withdrawal", "bet", "win", "bonus_*"
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	BalanceBefore   decimal.Decimal `gorm:"column:balance_before;type:numeric(20,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after;type:numeric(20,2);not null"`
	ReferenceID     string          `gorm:"column:reference_id;type:varchar(255);not null;index:idx_wallet_tx_ref"` // external reference (game round, payment ID, bonus instance)
	Status          string          `gorm:"column:status;type:varchar(20);not null"`                                // "pending", "completed", "failed"
	CreatedAt       time.Time       `gorm:"column:created_at;not null"`
	CompletedAt     *time.Time      `gorm:"column:completed_at"`
}

type TransactionRequest struct {
	PlayerID        string          `json:"player_id"`
	WalletType      string          `json:"wallet_type"`
	TransactionType string          `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceID     string          `json:"reference_id"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
}

type TransactionResponse struct {
	TransactionID string          `json:"transaction_id"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`
	Replayed      bool            `json:"replayed,omitempty"`
}

// Movement is the before/after snapshot of a single wallet write.
type Movement struct {
	WalletID      string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// Transfer describes a bonus-to-main release applied in one database transaction.
type Transfer struct {
	Amount decimal.Decimal
	Bonus  Movement
	Main   Movement
}
