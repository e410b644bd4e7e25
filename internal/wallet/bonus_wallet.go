package wallet

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BonusWallet exposes the bonus-balance operations the bonus engine drives.
// Every method joins the caller's transaction and locks the player's wallet
// rows, bonus first and main second, so concurrent instances of one player
// serialize on the same rows.
type BonusWallet struct {
	repo     WalletRepository
	currency string
}

func NewBonusWallet(repo WalletRepository, currency string) *BonusWallet {
	return &BonusWallet{repo: repo, currency: currency}
}

// LockPlayer takes the per-player bonus wallet lock without moving funds.
func (b *BonusWallet) LockPlayer(ctx context.Context, dbtx *gorm.DB, playerID string) error {
	_, err := b.repo.LockWallet(ctx, dbtx, playerID, WalletTypeBonus, b.currency)
	return err
}

func (b *BonusWallet) AddBonus(ctx context.Context, dbtx *gorm.DB, playerID string, amount decimal.Decimal, reference string) (*Movement, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("bonus credit must be positive, got %s", amount)
	}
	w, err := b.repo.LockWallet(ctx, dbtx, playerID, WalletTypeBonus, b.currency)
	if err != nil {
		return nil, err
	}
	before := w.Balance
	tx := &Transaction{TransactionType: TxTypeBonusCredit, Amount: amount, ReferenceID: reference}
	if err := b.repo.Apply(ctx, dbtx, w, amount, tx); err != nil {
		return nil, fmt.Errorf("failed to credit bonus wallet: %w", err)
	}
	return &Movement{WalletID: w.WalletID, Amount: amount, BalanceBefore: before, BalanceAfter: w.Balance}, nil
}

// ForfeitBonus removes up to amount from the bonus wallet. Funds already
// staked away by settled bets are not there to remove, so the debit is
// capped at the current balance.
func (b *BonusWallet) ForfeitBonus(ctx context.Context, dbtx *gorm.DB, playerID string, amount decimal.Decimal, reference string) (*Movement, error) {
	w, err := b.repo.LockWallet(ctx, dbtx, playerID, WalletTypeBonus, b.currency)
	if err != nil {
		return nil, err
	}
	before := w.Balance
	debit := decimal.Min(amount, w.Balance)
	if !debit.IsPositive() {
		return &Movement{WalletID: w.WalletID, Amount: decimal.Zero, BalanceBefore: before, BalanceAfter: before}, nil
	}
	tx := &Transaction{TransactionType: TxTypeBonusForfeit, Amount: debit, ReferenceID: reference}
	if err := b.repo.Apply(ctx, dbtx, w, debit.Neg(), tx); err != nil {
		return nil, fmt.Errorf("failed to debit bonus wallet: %w", err)
	}
	return &Movement{WalletID: w.WalletID, Amount: debit, BalanceBefore: before, BalanceAfter: w.Balance}, nil
}

// ReleaseToMainWallet moves amount from the bonus balance to the main
// balance. Both legs are written in dbtx, so they commit or roll back
// together and always carry the same amount.
func (b *BonusWallet) ReleaseToMainWallet(ctx context.Context, dbtx *gorm.DB, playerID string, amount decimal.Decimal, reference string) (*Transfer, error) {
	bonusWallet, err := b.repo.LockWallet(ctx, dbtx, playerID, WalletTypeBonus, b.currency)
	if err != nil {
		return nil, err
	}
	mainWallet, err := b.repo.LockWallet(ctx, dbtx, playerID, WalletTypeMain, b.currency)
	if err != nil {
		return nil, err
	}

	moved := decimal.Min(amount, bonusWallet.Balance)
	transfer := &Transfer{
		Amount: moved,
		Bonus:  Movement{WalletID: bonusWallet.WalletID, Amount: moved, BalanceBefore: bonusWallet.Balance, BalanceAfter: bonusWallet.Balance},
		Main:   Movement{WalletID: mainWallet.WalletID, Amount: moved, BalanceBefore: mainWallet.Balance, BalanceAfter: mainWallet.Balance},
	}
	if !moved.IsPositive() {
		return transfer, nil
	}

	out := &Transaction{TransactionType: TxTypeBonusRelease, Amount: moved, ReferenceID: reference}
	if err := b.repo.Apply(ctx, dbtx, bonusWallet, moved.Neg(), out); err != nil {
		return nil, fmt.Errorf("failed to debit bonus wallet: %w", err)
	}
	in := &Transaction{TransactionType: TxTypeReleaseIn, Amount: moved, ReferenceID: reference}
	if err := b.repo.Apply(ctx, dbtx, mainWallet, moved, in); err != nil {
		return nil, fmt.Errorf("failed to credit main wallet: %w", err)
	}

	transfer.Bonus.BalanceAfter = bonusWallet.Balance
	transfer.Main.BalanceAfter = mainWallet.Balance
	return transfer, nil
}
