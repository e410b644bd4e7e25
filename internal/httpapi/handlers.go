package httpapi

import (
	"errors"
	"io"
	"net/http"

	"bonus_service/internal/bonus"
	"bonus_service/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type codeRequest struct {
	PlayerID string `json:"player_id"`
	Code     string `json:"code"`
}

type betRequest struct {
	BetID     string          `json:"bet_id"`
	PlayerID  string          `json:"player_id"`
	GameID    string          `json:"game_id"`
	BetAmount decimal.Decimal `json:"bet_amount"`
}

type forfeitRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type completeRequest struct {
	PlayerID string `json:"player_id"`
}

type contributionRequest struct {
	Category        string          `json:"category"`
	ContributionPct decimal.Decimal `json:"contribution_pct"`
	IsRestricted    bool            `json:"is_restricted"`
}

func (h *Handler) processTransaction(c *gin.Context) {
	var req wallet.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = h.currency
	}

	result, err := h.wallets.ProcessTransaction(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.WalletType != "" && req.WalletType != wallet.WalletTypeMain {
		c.JSON(http.StatusOK, result)
		return
	}
	switch req.TransactionType {
	case wallet.TxTypeDeposit:
		h.grantDeposit(c, req, result)
	case wallet.TxTypeWithdrawal:
		h.forfeitOnWithdrawal(c, req, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}

// grantDeposit runs after the deposit committed. The wallet transaction id
// doubles as the grant idempotency key, so a replayed deposit returns the
// same bonus.
func (h *Handler) grantDeposit(c *gin.Context, req wallet.TransactionRequest, result *wallet.TransactionResponse) {
	grant, err := h.engine.GrantDeposit(c.Request.Context(), bonus.DepositGrantRequest{
		PlayerID:             req.PlayerID,
		DepositAmount:        req.Amount,
		DepositTransactionID: result.TransactionID,
		PaymentMethodID:      req.PaymentMethodID,
	})
	if err != nil {
		h.logger.Error("deposit bonus grant failed",
			"player_id", req.PlayerID, "transaction_id", result.TransactionID, "error", err)
		c.JSON(http.StatusOK, gin.H{"transaction": result, "bonus_error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": result, "bonus": grant})
}

// forfeitOnWithdrawal runs only once the debit has committed. A replayed
// withdrawal already forfeited on its first call and leaves later grants alone.
func (h *Handler) forfeitOnWithdrawal(c *gin.Context, req wallet.TransactionRequest, result *wallet.TransactionResponse) {
	if result.Replayed {
		c.JSON(http.StatusOK, gin.H{"transaction": result, "forfeited_bonuses": []bonus.BonusInstance{}})
		return
	}
	forfeited, err := h.engine.ForfeitOnWithdrawal(c.Request.Context(), req.PlayerID)
	if err != nil {
		h.logger.Error("withdrawal bonus forfeit failed",
			"player_id", req.PlayerID, "transaction_id", result.TransactionID, "error", err)
		c.JSON(http.StatusOK, gin.H{"transaction": result, "bonus_error": err.Error()})
		return
	}
	if len(forfeited) > 0 {
		h.logger.Info("bonuses forfeited on withdrawal", "player_id", req.PlayerID, "count", len(forfeited))
	}
	if forfeited == nil {
		forfeited = []bonus.BonusInstance{}
	}
	c.JSON(http.StatusOK, gin.H{"transaction": result, "forfeited_bonuses": forfeited})
}

func (h *Handler) getBalance(c *gin.Context) {
	playerId := c.Param("player_id")
	walletType := c.DefaultQuery("type", wallet.WalletTypeMain)
	currency := c.DefaultQuery("currency", h.currency)

	w, err := h.wallets.GetBalance(c.Request.Context(), playerId, walletType, currency)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": w})
}

func (h *Handler) createPlan(c *gin.Context) {
	var plan bonus.BonusPlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.CreatePlan(c.Request.Context(), &plan); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *Handler) createGame(c *gin.Context) {
	var game bonus.Game
	if err := c.ShouldBindJSON(&game); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.CreateGame(c.Request.Context(), &game); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, game)
}

func (h *Handler) getContribution(c *gin.Context) {
	contribution, err := h.engine.ResolveContribution(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, contribution)
}

func (h *Handler) overrideContribution(c *gin.Context) {
	var req contributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contribution, err := h.engine.OverrideContribution(c.Request.Context(), bonus.ContributionOverride{
		GameID:          c.Param("game_id"),
		Category:        req.Category,
		ContributionPct: req.ContributionPct,
		IsRestricted:    req.IsRestricted,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, contribution)
}

func (h *Handler) grantByCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	instance, err := h.engine.GrantByCode(c.Request.Context(), req.PlayerID, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, instance)
}

func (h *Handler) grantManual(c *gin.Context) {
	var req bonus.ManualGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	instance, err := h.engine.GrantManual(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, instance)
}

func (h *Handler) getProgress(c *gin.Context) {
	progress, err := h.engine.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *Handler) listTransactions(c *gin.Context) {
	entries, err := h.engine.Transactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}

func (h *Handler) processBet(c *gin.Context) {
	var req betRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.engine.ProcessBet(c.Request.Context(), bonus.BetEvent{
		BetID:           req.BetID,
		BonusInstanceID: c.Param("id"),
		PlayerID:        req.PlayerID,
		GameID:          req.GameID,
		BetAmount:       req.BetAmount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) forfeit(c *gin.Context) {
	var req forfeitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	instance, err := h.engine.Forfeit(c.Request.Context(), c.Param("id"), req.Reason, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

func (h *Handler) expire(c *gin.Context) {
	instance, expired, err := h.engine.Expire(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": instance, "expired": expired})
}

func (h *Handler) complete(c *gin.Context) {
	var req completeRequest
	// the body is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	release, err := h.engine.CompleteWagering(c.Request.Context(), c.Param("id"), req.PlayerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, release)
}

func (h *Handler) listPlayerBonuses(c *gin.Context) {
	instances, err := h.engine.ListPlayerBonuses(c.Request.Context(), c.Param("player_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bonuses": instances})
}

func (h *Handler) streamUpdates(c *gin.Context) {
	playerID := c.Param("player_id")
	updates := h.engine.SubscribeToWageringUpdates(playerID)
	defer h.engine.UnsubscribeFromWageringUpdates(playerID, updates)

	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(update.EventType, update)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	status := http.StatusInternalServerError

	var ineligible *bonus.IneligibleError
	switch {
	case errors.Is(err, bonus.ErrValidation), errors.Is(err, wallet.ErrInvalidTransaction):
		status = http.StatusBadRequest
	case errors.Is(err, bonus.ErrNotFound), errors.Is(err, wallet.ErrWalletNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ineligible):
		status = http.StatusUnprocessableEntity
		body["reason"] = ineligible.Reason
	case errors.Is(err, bonus.ErrInvalidState), errors.Is(err, wallet.ErrOptimisticLock):
		status = http.StatusConflict
	case errors.Is(err, wallet.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	}
	c.JSON(status, body)
}
