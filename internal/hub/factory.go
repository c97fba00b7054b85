package hub

import (
	"context"
	"fmt"

	"github.com/hailam/chessserve/internal/game"
)

// Factory materializes persisted games for the matchmaker. The hub registry
// hydrates the game lazily when the first session attaches.
type Factory struct {
	Repo  GameRepository
	Clock Clock
}

// CreateGame builds a fresh game from the standard starting position and
// persists it before the id is handed out.
func (f *Factory) CreateGame(ctx context.Context, white, black game.Player) (game.GameID, error) {
	g, err := game.NewGame(white, black, f.Clock.Now())
	if err != nil {
		return "", err
	}
	if err := f.Repo.Save(ctx, g); err != nil {
		return "", fmt.Errorf("persist new game: %w", err)
	}
	return g.ID, nil
}
