package ports

import (
	"context"

	"github.com/alejandrodnm/courtbot/internal/domain"
)

// GameProvider discovers scheduled games and their final scores.
type GameProvider interface {
	// GamesForDate returns all games tipping off on the given ET date.
	GamesForDate(ctx context.Context, date string) ([]domain.Game, error)
}
