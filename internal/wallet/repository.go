package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrOptimisticLock    = errors.New("optimistic lock error")
)

// Owner identifies one wallet row: a player holds one wallet per type and currency.
type Owner struct {
	PlayerID   string
	WalletType string
	Currency   string
}

type WalletRepository interface {
	FindWallet(ctx context.Context, owner Owner) (*Wallet, error)
	FindTransaction(ctx context.Context, referenceId string, transactionType string) (*Transaction, error)

	// Post locks the owner's wallet, creating it when missing, and applies
	// delta unless a transaction with the same reference and type already
	// exists. The existing row is returned with replayed set in that case.
	Post(ctx context.Context, owner Owner, entry *Transaction, delta decimal.Decimal) (posted *Transaction, replayed bool, err error)

	// LockWallet returns the wallet row locked FOR UPDATE inside dbtx, creating it when missing.
	LockWallet(ctx context.Context, dbtx *gorm.DB, playerId string, walletType string, currency string) (*Wallet, error)
	// Apply moves a locked wallet by delta and appends the ledger row inside dbtx.
	Apply(ctx context.Context, dbtx *gorm.DB, w *Wallet, delta decimal.Decimal, tx *Transaction) error
}

type WalletRepositoryImpl struct {
	db *gorm.DB
}

func NewWalletRepositoryImpl(db *gorm.DB) WalletRepository {
	return &WalletRepositoryImpl{db: db}
}

func (r *WalletRepositoryImpl) FindWallet(ctx context.Context, owner Owner) (*Wallet, error) {
	var w Wallet
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND wallet_type = ? AND currency = ?", owner.PlayerID, owner.WalletType, owner.Currency).
		Take(&w).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrWalletNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) FindTransaction(ctx context.Context, referenceId string, transactionType string) (*Transaction, error) {
	return findTransaction(ctx, r.db, referenceId, transactionType)
}

// findTransaction returns nil, nil when no row carries the reference.
func findTransaction(ctx context.Context, conn *gorm.DB, referenceId, transactionType string) (*Transaction, error) {
	var rows []Transaction
	err := conn.WithContext(ctx).
		Where("reference_id = ? AND transaction_type = ?", referenceId, transactionType).
		Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction %s: %w", referenceId, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *WalletRepositoryImpl) Post(ctx context.Context, owner Owner, entry *Transaction, delta decimal.Decimal) (*Transaction, bool, error) {
	var (
		posted   *Transaction
		replayed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		w, err := r.LockWallet(ctx, dbtx, owner.PlayerID, owner.WalletType, owner.Currency)
		if err != nil {
			return err
		}
		// checked under the wallet lock so two requests with one reference cannot both apply
		existing, err := findTransaction(ctx, dbtx, entry.ReferenceID, entry.TransactionType)
		if err != nil {
			return err
		}
		if existing != nil {
			posted, replayed = existing, true
			return nil
		}
		if err := r.Apply(ctx, dbtx, w, delta, entry); err != nil {
			return err
		}
		posted = entry
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return posted, replayed, nil
}

func (r *WalletRepositoryImpl) LockWallet(ctx context.Context, dbtx *gorm.DB, playerId string, walletType string, currency string) (*Wallet, error) {
	seed := Wallet{
		WalletID:   uuid.New().String(),
		PlayerID:   playerId,
		WalletType: walletType,
		Currency:   currency,
		Balance:    decimal.Zero,
		Version:    1,
	}
	err := dbtx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "wallet_type"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(&seed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var w Wallet
	err = dbtx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("player_id = ? AND wallet_type = ? AND currency = ?", playerId, walletType, currency).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) Apply(ctx context.Context, dbtx *gorm.DB, w *Wallet, delta decimal.Decimal, tx *Transaction) error {
	newBalance := w.Balance.Add(delta)
	if newBalance.IsNegative() {
		return ErrInsufficientFunds
	}

	result := dbtx.WithContext(ctx).Model(&Wallet{}).Where("wallet_id = ? AND version = ?", w.WalletID, w.Version).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	tx.TransactionID = uuid.New().String()
	tx.WalletID = w.WalletID
	tx.PlayerID = w.PlayerID
	tx.BalanceBefore = w.Balance
	tx.BalanceAfter = newBalance
	tx.Status = "completed"
	now := time.Now()
	tx.CompletedAt = &now

	if err := dbtx.WithContext(ctx).Create(tx).Error; err != nil {
		return err
	}

	w.Balance = newBalance
	w.Version++
	return nil
}
