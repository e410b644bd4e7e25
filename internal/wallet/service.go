package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

var ErrInvalidTransaction = errors.New("invalid transaction")

type Service struct {
	repo WalletRepository
}

func NewService(repo WalletRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetBalance(ctx context.Context, playerId string, walletType string, currency string) (*Wallet, error) {
	return s.repo.FindWallet(ctx, Owner{PlayerID: playerId, WalletType: walletType, Currency: currency})
}

// ProcessTransaction posts a player-facing wallet movement. A reference that
// was already posted with the same type returns the original result with
// Replayed set and moves nothing.
func (s *Service) ProcessTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error) {
	delta, err := signedAmount(req)
	if err != nil {
		return nil, err
	}
	owner := Owner{PlayerID: req.PlayerID, WalletType: req.WalletType, Currency: req.Currency}
	if owner.WalletType == "" {
		owner.WalletType = WalletTypeMain
	}

	var (
		posted   *Transaction
		replayed bool
	)
	for attempt := 1; ; attempt++ {
		entry := &Transaction{TransactionType: req.TransactionType, Amount: req.Amount, ReferenceID: req.ReferenceID}
		posted, replayed, err = s.repo.Post(ctx, owner, entry, delta)
		if !errors.Is(err, ErrOptimisticLock) || attempt == MaxRetries {
			break
		}
		time.Sleep(RetryDelay)
	}
	if err != nil {
		return nil, err
	}
	return &TransactionResponse{
		TransactionID: posted.TransactionID,
		Balance:       posted.BalanceAfter,
		Status:        posted.Status,
		Replayed:      replayed,
	}, nil
}

// signedAmount validates req and returns the balance change it asks for.
func signedAmount(req TransactionRequest) (decimal.Decimal, error) {
	if req.PlayerID == "" || req.ReferenceID == "" || !req.Amount.IsPositive() {
		return decimal.Zero, ErrInvalidTransaction
	}
	switch req.TransactionType {
	case TxTypeDeposit, TxTypeWin:
		return req.Amount, nil
	case TxTypeWithdrawal, TxTypeBet:
		return req.Amount.Neg(), nil
	}
	return decimal.Zero, ErrInvalidTransaction
}
