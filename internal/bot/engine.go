// Package bot selects moves for bot players with a fixed-depth alpha-beta
// search over the board package. Lower difficulties search shallower and
// pick randomly among near-equal moves.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
)

// Difficulty selects search depth and move randomization.
type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

// ParseDifficulty converts a configuration string to a Difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	switch s {
	case "easy":
		return Easy, nil
	case "medium":
		return Medium, nil
	case "hard":
		return Hard, nil
	}
	return Easy, fmt.Errorf("invalid difficulty %q", s)
}

// settings per difficulty: search depth in plies and the centipawn window
// within which moves count as equal for the random pick.
var settings = map[Difficulty]struct {
	depth  int
	window int
}{
	Easy:   {depth: 2, window: 80},
	Medium: {depth: 3, window: 30},
	Hard:   {depth: 4, window: 0},
}

// RNG supplies the randomization among near-equal candidate moves.
type RNG interface {
	Intn(n int) int
}

const mateValue = 100000

// Engine picks bot moves. Safe for concurrent use across games: searches
// run on private position copies.
type Engine struct {
	depth  int
	window int
	rng    RNG
	log    *logrus.Entry
}

// New builds an engine for the given difficulty.
func New(d Difficulty, rng RNG, log *logrus.Logger) *Engine {
	s := settings[d]
	return &Engine{
		depth:  s.depth,
		window: s.window,
		rng:    rng,
		log:    log.WithField("component", "bot"),
	}
}

// ChooseMove searches the current position and returns a legal move for the
// side to move. The context bounds the search; on cancellation the best
// move found so far is returned.
func (e *Engine) ChooseMove(ctx context.Context, g *game.Game) (game.Move, error) {
	pos := g.Position.Copy()
	moves := pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		return game.Move{}, errors.New("no legal moves")
	}

	type scored struct {
		mv    board.Move
		score int
	}
	results := make([]scored, 0, moves.Len())
	best := -mateValue * 2

	for i := 0; i < moves.Len(); i++ {
		if ctx.Err() != nil && len(results) > 0 {
			break
		}
		m := moves.Get(i)
		undo := pos.MakeMove(m)
		score := -e.negamax(ctx, pos, e.depth-1, -mateValue*2, mateValue*2)
		pos.UnmakeMove(m, undo)

		results = append(results, scored{mv: m, score: score})
		if score > best {
			best = score
		}
	}

	candidates := results[:0:0]
	for _, r := range results {
		if r.score >= best-e.window {
			candidates = append(candidates, r)
		}
	}
	pick := candidates[0]
	if len(candidates) > 1 && e.rng != nil {
		pick = candidates[e.rng.Intn(len(candidates))]
	}

	e.log.WithFields(logrus.Fields{
		"move":       pick.mv.String(),
		"score":      pick.score,
		"candidates": len(candidates),
	}).Debug("bot move chosen")

	return toGameMove(pick.mv), nil
}

func (e *Engine) negamax(ctx context.Context, pos *board.Position, depth, alpha, beta int) int {
	if ctx.Err() != nil {
		return evaluate(pos)
	}
	if pos.IsFiftyMove() || pos.IsInsufficientMaterial() {
		return 0
	}
	if depth <= 0 {
		return e.quiesce(ctx, pos, alpha, beta)
	}

	moves := pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		if pos.InCheck() {
			// Prefer the quicker mate: more remaining depth means the mate
			// was found earlier in the line.
			return -(mateValue + depth)
		}
		return 0
	}

	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		undo := pos.MakeMove(m)
		score := -e.negamax(ctx, pos, depth-1, -beta, -alpha)
		pos.UnmakeMove(m, undo)

		if score >= beta {
			return beta
		}
		if score > alpha {
			alpha = score
		}
	}
	return alpha
}

// quiesce extends the search through captures and promotions so the
// evaluation never lands in the middle of an exchange.
func (e *Engine) quiesce(ctx context.Context, pos *board.Position, alpha, beta int) int {
	stand := evaluate(pos)
	if stand >= beta {
		return beta
	}
	if stand > alpha {
		alpha = stand
	}
	if ctx.Err() != nil {
		return alpha
	}

	captures := pos.GenerateCaptures()
	for i := 0; i < captures.Len(); i++ {
		m := captures.Get(i)
		undo := pos.MakeMove(m)
		score := -e.quiesce(ctx, pos, -beta, -alpha)
		pos.UnmakeMove(m, undo)

		if score >= beta {
			return beta
		}
		if score > alpha {
			alpha = score
		}
	}
	return alpha
}

func toGameMove(m board.Move) game.Move {
	promo := board.NoPieceType
	if m.IsPromotion() {
		promo = m.Promotion()
	}
	return game.Move{From: m.From(), To: m.To(), Promotion: promo}
}

// Selector hands the configured bot account to the matchmaker.
type Selector struct {
	BotUserID game.UserID
}

// SelectBot returns the requested bot when it matches the configured one,
// and the configured bot otherwise.
func (s *Selector) SelectBot(_ context.Context, botID game.UserID) (game.UserID, error) {
	if s.BotUserID == "" {
		return "", errors.New("no bot user configured")
	}
	if botID != "" && botID != s.BotUserID {
		return "", fmt.Errorf("unknown bot %s", botID)
	}
	return s.BotUserID, nil
}
