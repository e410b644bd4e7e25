package bonus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var categoryDefaults = map[string]decimal.Decimal{
	CategorySlots:      decimal.NewFromInt(100),
	CategoryVideoPoker: decimal.NewFromInt(50),
	CategoryTableGames: decimal.NewFromInt(10),
	CategoryLiveCasino: decimal.NewFromInt(10),
	CategoryOther:      decimal.NewFromInt(50),
}

// ContributionCache is an optional read-through cache in front of the
// game_contributions table.
type ContributionCache interface {
	Get(ctx context.Context, gameID string) (*GameContribution, bool, error)
	Set(ctx context.Context, contribution *GameContribution) error
	Invalidate(ctx context.Context, gameID string) error
}

type Contribution struct {
	GameID          string          `json:"game_id"`
	Category        string          `json:"category"`
	ContributionPct decimal.Decimal `json:"contribution_pct"`
	IsRestricted    bool            `json:"is_restricted"`
}

type ContributionOverride struct {
	GameID          string          `json:"game_id"`
	Category        string          `json:"category"`
	ContributionPct decimal.Decimal `json:"contribution_pct"`
	IsRestricted    bool            `json:"is_restricted"`
}

type ContributionResolver struct {
	repo   BonusRepository
	cache  ContributionCache
	logger *slog.Logger
}

func NewContributionResolver(repo BonusRepository, cache ContributionCache, logger *slog.Logger) *ContributionResolver {
	return &ContributionResolver{repo: repo, cache: cache, logger: logger}
}

// Resolve returns the stored contribution for a game, deriving and
// persisting one from the games catalog on first lookup.
func (r *ContributionResolver) Resolve(ctx context.Context, gameID string) (*Contribution, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, invalid("game_id", "required")
	}

	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, gameID)
		if err != nil {
			r.logger.Warn("contribution cache read failed", "game_id", gameID, "error", err)
		} else if ok {
			return toContribution(cached), nil
		}
	}

	row, err := r.repo.GetContribution(ctx, gameID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if row == nil {
		row, err = r.derive(ctx, gameID)
		if err != nil {
			return nil, err
		}
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, row); err != nil {
			r.logger.Warn("contribution cache write failed", "game_id", gameID, "error", err)
		}
	}
	return toContribution(row), nil
}

func (r *ContributionResolver) derive(ctx context.Context, gameID string) (*GameContribution, error) {
	game, err := r.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	category := ClassifyGame(game.GameName, game.Provider)
	now := time.Now()
	derived := &GameContribution{
		GameID:                 gameID,
		Category:               category,
		ContributionPercentage: categoryDefaults[category],
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := r.repo.InsertContributionIfAbsent(ctx, derived); err != nil {
		return nil, err
	}
	// Re-read: a concurrent override may have won the insert.
	stored, err := r.repo.GetContribution(ctx, gameID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("game contribution classified",
		"game_id", gameID, "category", stored.Category, "contribution_pct", stored.ContributionPercentage.String())
	return stored, nil
}

// Override replaces a game's contribution. Overrides affect only bets
// processed after the write.
func (r *ContributionResolver) Override(ctx context.Context, in ContributionOverride) (*Contribution, error) {
	if strings.TrimSpace(in.GameID) == "" {
		return nil, invalid("game_id", "required")
	}
	if in.ContributionPct.IsNegative() || in.ContributionPct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, invalid("contribution_pct", "must be between 0 and 100")
	}
	if _, known := categoryDefaults[in.Category]; !known {
		return nil, invalid("category", "unknown category "+in.Category)
	}
	if _, err := r.repo.GetGame(ctx, in.GameID); err != nil {
		return nil, err
	}

	now := time.Now()
	row := &GameContribution{
		GameID:                 in.GameID,
		Category:               in.Category,
		ContributionPercentage: in.ContributionPct,
		IsRestricted:           in.IsRestricted,
		IsOverride:             true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := r.repo.UpsertContribution(ctx, row); err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, in.GameID); err != nil {
			r.logger.Warn("contribution cache invalidation failed", "game_id", in.GameID, "error", err)
		}
	}
	r.logger.Info("game contribution overridden",
		"game_id", in.GameID, "category", in.Category, "contribution_pct", in.ContributionPct.String(), "restricted", in.IsRestricted)
	return toContribution(row), nil
}

// ClassifyGame derives a category from the game name and provider.
// "video poker" is tested before the table-game keywords since it also
// contains "poker".
func ClassifyGame(name, provider string) string {
	text := strings.ToLower(name + " " + provider)
	switch {
	case strings.Contains(text, "live") || strings.Contains(text, "dealer"):
		return CategoryLiveCasino
	case strings.Contains(text, "video poker"):
		return CategoryVideoPoker
	case strings.Contains(text, "blackjack"),
		strings.Contains(text, "roulette"),
		strings.Contains(text, "baccarat"),
		strings.Contains(text, "poker"):
		return CategoryTableGames
	default:
		return CategorySlots
	}
}

func toContribution(row *GameContribution) *Contribution {
	return &Contribution{
		GameID:          row.GameID,
		Category:        row.Category,
		ContributionPct: row.ContributionPercentage,
		IsRestricted:    row.IsRestricted,
	}
}
