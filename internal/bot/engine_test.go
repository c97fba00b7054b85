package bot

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type zeroRNG struct{}

func (zeroRNG) Intn(_ int) int { return 0 }

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func gameFromFEN(t *testing.T, fen string) *game.Game {
	t.Helper()
	g, err := game.NewGameFromFEN(
		game.NewPlayer(game.NewUserID(), board.White),
		game.NewPlayer(game.NewUserID(), board.Black),
		fen, t0,
	)
	require.NoError(t, err)
	return g
}

func TestChooseMoveIsLegal(t *testing.T) {
	g := gameFromFEN(t, board.StartFEN)
	e := New(Easy, zeroRNG{}, quietLog())

	mv, err := e.ChooseMove(context.Background(), g)
	require.NoError(t, err)

	_, err = g.ApplyMove(g.White, mv, t0)
	assert.NoError(t, err, "bot move %s must be legal", mv)
}

func TestFindsMateInOne(t *testing.T) {
	// Back-rank mate: Ra1-a8#.
	g := gameFromFEN(t, "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1")
	e := New(Hard, zeroRNG{}, quietLog())

	mv, err := e.ChooseMove(context.Background(), g)
	require.NoError(t, err)

	next, err := g.ApplyMove(g.White, mv, t0)
	require.NoError(t, err)
	assert.Equal(t, game.Checkmate, next.Status, "expected mate, bot played %s", mv)
}

func TestTakesHangingQueen(t *testing.T) {
	g := gameFromFEN(t, "k7/8/8/3q4/8/8/8/3R3K w - - 0 1")
	e := New(Hard, zeroRNG{}, quietLog())

	mv, err := e.ChooseMove(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, "d1d5", mv.String())
}

func TestPromotesWhenWinning(t *testing.T) {
	g := gameFromFEN(t, "8/4P2k/8/8/8/8/8/4K3 w - - 0 1")
	e := New(Hard, zeroRNG{}, quietLog())

	mv, err := e.ChooseMove(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, board.E7, mv.From)
	assert.Equal(t, board.E8, mv.To)
	assert.Equal(t, board.Queen, mv.Promotion)
}

func TestCancelledContextStillReturnsLegalMove(t *testing.T) {
	g := gameFromFEN(t, board.StartFEN)
	e := New(Hard, zeroRNG{}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mv, err := e.ChooseMove(ctx, g)
	require.NoError(t, err)
	_, err = g.ApplyMove(g.White, mv, t0)
	assert.NoError(t, err)
}

func TestChooseMoveNoLegalMoves(t *testing.T) {
	// Stalemate: black to move, no moves.
	g := gameFromFEN(t, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	e := New(Easy, zeroRNG{}, quietLog())

	_, err := e.ChooseMove(context.Background(), g)
	assert.Error(t, err)
}

func TestSelector(t *testing.T) {
	botID := game.NewUserID()
	s := &Selector{BotUserID: botID}

	got, err := s.SelectBot(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, botID, got)

	got, err = s.SelectBot(context.Background(), botID)
	require.NoError(t, err)
	assert.Equal(t, botID, got)

	_, err = s.SelectBot(context.Background(), game.NewUserID())
	assert.Error(t, err)

	_, err = (&Selector{}).SelectBot(context.Background(), "")
	assert.Error(t, err)
}
