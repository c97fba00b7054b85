package storage

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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	s, err := Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestGame(t *testing.T) *game.Game {
	t.Helper()
	g, err := game.NewGame(
		game.NewPlayer(game.NewUserID(), board.White),
		game.NewPlayer(game.NewUserID(), board.Black),
		t0,
	)
	require.NoError(t, err)
	return g
}

func play(t *testing.T, g *game.Game, actor game.Player, uci string) *game.Game {
	t.Helper()
	from, err := board.ParseSquare(uci[0:2])
	require.NoError(t, err)
	to, err := board.ParseSquare(uci[2:4])
	require.NoError(t, err)
	next, err := g.ApplyMove(actor, game.Move{From: from, To: to, Promotion: board.NoPieceType}, t0)
	require.NoError(t, err)
	return next
}

func TestSaveFindRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := newTestGame(t)
	g = play(t, g, g.White, "e2e4")
	g = play(t, g, g.Black, "e7e5")
	g = play(t, g, g.White, "g1f3")

	require.NoError(t, s.SaveGame(ctx, g))

	loaded, err := s.FindGame(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, g.ID, loaded.ID)
	assert.Equal(t, g.White, loaded.White)
	assert.Equal(t, g.Black, loaded.Black)
	assert.Equal(t, g.Status, loaded.Status)
	assert.Equal(t, g.FEN(), loaded.FEN())
	require.Len(t, loaded.History, 3)
	assert.Equal(t, "e2e4", loaded.History[0].Move.String())
	assert.Equal(t, "e7e5", loaded.History[1].Move.String())
	assert.Equal(t, "g1f3", loaded.History[2].Move.String())
}

func TestFindGameMissing(t *testing.T) {
	s := newTestStore(t)

	g, err := s.FindGame(context.Background(), game.NewGameID())
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestSavePreservesDrawOffer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := newTestGame(t)
	g, err := g.OfferDraw(g.White, t0)
	require.NoError(t, err)

	require.NoError(t, s.SaveGame(ctx, g))
	loaded, err := s.FindGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, board.White, loaded.DrawOffer)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "alice", false, t0)
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "alice", false, t0)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	byName, err := s.UserByName(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, u.ID, byName.ID)

	ok, err := s.Exists(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, game.NewUserID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureUserIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureUser(ctx, "bob", false, t0)
	require.NoError(t, err)
	second, err := s.EnsureUser(ctx, "bob", false, t0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestIsBot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bot, err := s.CreateUser(ctx, "engine", true, t0)
	require.NoError(t, err)
	human, err := s.CreateUser(ctx, "carol", false, t0)
	require.NoError(t, err)

	assert.True(t, s.IsBot(bot.ID))
	assert.False(t, s.IsBot(human.ID))
	assert.False(t, s.IsBot(game.NewUserID()))
}

func TestRecordResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := newTestGame(t)
	resigned, err := g.Resign(g.Black, t0)
	require.NoError(t, err)

	require.NoError(t, s.RecordResult(ctx, resigned))

	white, err := s.StatsFor(ctx, g.White.UserID)
	require.NoError(t, err)
	assert.Equal(t, Stats{GamesPlayed: 1, Wins: 1}, white)

	black, err := s.StatsFor(ctx, g.Black.UserID)
	require.NoError(t, err)
	assert.Equal(t, Stats{GamesPlayed: 1, Losses: 1}, black)
}

func TestRecordResultDraw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := newTestGame(t)
	g, err := g.OfferDraw(g.White, t0)
	require.NoError(t, err)
	g, err = g.AcceptDraw(g.Black, t0)
	require.NoError(t, err)

	require.NoError(t, s.RecordResult(ctx, g))

	white, err := s.StatsFor(ctx, g.White.UserID)
	require.NoError(t, err)
	assert.Equal(t, Stats{GamesPlayed: 1, Draws: 1}, white)
}

func TestRecordResultIgnoresLiveGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := newTestGame(t)
	require.NoError(t, s.RecordResult(ctx, g))

	st, err := s.StatsFor(ctx, g.White.UserID)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}
