package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"bonus_service/internal/bonus"
	"bonus_service/internal/wallet"

	"github.com/gin-gonic/gin"
)

type Wallets interface {
	ProcessTransaction(ctx context.Context, req wallet.TransactionRequest) (*wallet.TransactionResponse, error)
	GetBalance(ctx context.Context, playerId string, walletType string, currency string) (*wallet.Wallet, error)
}

type Engine interface {
	GrantDeposit(ctx context.Context, req bonus.DepositGrantRequest) (*bonus.DepositGrantResult, error)
	GrantByCode(ctx context.Context, playerID, code string) (*bonus.BonusInstance, error)
	GrantManual(ctx context.Context, req bonus.ManualGrantRequest) (*bonus.BonusInstance, error)
	ProcessBet(ctx context.Context, bet bonus.BetEvent) (*bonus.BetResult, error)
	Forfeit(ctx context.Context, instanceID, reason, actor string) (*bonus.BonusInstance, error)
	ForfeitOnWithdrawal(ctx context.Context, playerID string) ([]bonus.BonusInstance, error)
	Expire(ctx context.Context, instanceID string) (*bonus.BonusInstance, bool, error)
	CompleteWagering(ctx context.Context, instanceID, playerID string) (*bonus.Release, error)
	GetProgress(ctx context.Context, instanceID string) (*bonus.Progress, error)
	ListPlayerBonuses(ctx context.Context, playerID string) ([]bonus.BonusInstance, error)
	Transactions(ctx context.Context, instanceID string) ([]bonus.BonusTransaction, error)
	ResolveContribution(ctx context.Context, gameID string) (*bonus.Contribution, error)
	OverrideContribution(ctx context.Context, in bonus.ContributionOverride) (*bonus.Contribution, error)
	CreatePlan(ctx context.Context, plan *bonus.BonusPlan) error
	CreateGame(ctx context.Context, game *bonus.Game) error
	SubscribeToWageringUpdates(playerID string) <-chan bonus.WageringUpdate
	UnsubscribeFromWageringUpdates(playerID string, ch <-chan bonus.WageringUpdate)
}

type Handler struct {
	wallets  Wallets
	engine   Engine
	currency string
	logger   *slog.Logger
}

func NewHandler(wallets Wallets, engine Engine, currency string, logger *slog.Logger) *Handler {
	return &Handler{wallets: wallets, engine: engine, currency: currency, logger: logger}
}

// NewRouter mounts every route. metrics may be nil.
func NewRouter(h *Handler, metricsPath string, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.POST("/transaction", h.processTransaction)
	r.GET("/balance/:player_id", h.getBalance)

	r.POST("/plans", h.createPlan)
	r.POST("/games", h.createGame)
	r.GET("/games/:game_id/contribution", h.getContribution)
	r.PUT("/games/:game_id/contribution", h.overrideContribution)

	r.POST("/bonuses/code", h.grantByCode)
	r.POST("/bonuses/manual", h.grantManual)
	r.GET("/bonuses/:id", h.getProgress)
	r.GET("/bonuses/:id/transactions", h.listTransactions)
	r.POST("/bonuses/:id/bets", h.processBet)
	r.POST("/bonuses/:id/forfeit", h.forfeit)
	r.POST("/bonuses/:id/expire", h.expire)
	r.POST("/bonuses/:id/complete", h.complete)

	r.GET("/players/:player_id/bonuses", h.listPlayerBonuses)
	r.GET("/players/:player_id/bonus-updates", h.streamUpdates)

	if metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(metrics))
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger.Info("http request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
