package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
)

func newRegistryFixture(t *testing.T) (*Registry, *fakeRepo, *game.Game) {
	t.Helper()
	repo := newFakeRepo()
	g, err := game.NewGame(
		game.NewPlayer(game.NewUserID(), board.White),
		game.NewPlayer(game.NewUserID(), board.Black),
		t0,
	)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), g))

	r := NewRegistry(Deps{
		Repo:  repo,
		Clock: &fixedClock{now: t0},
		Log:   quietLog(),
	}, time.Hour)
	return r, repo, g
}

func TestRegistryHydratesFromRepository(t *testing.T) {
	r, _, g := newRegistryFixture(t)
	ctx := context.Background()

	h, err := r.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, h.ID())

	// Same hub instance on the second lookup.
	again, err := r.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Same(t, h, again)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryUnknownGame(t *testing.T) {
	r, _, _ := newRegistryFixture(t)

	_, err := r.Get(context.Background(), game.NewGameID())
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestSweepEvictsIdleAndTerminalHubs(t *testing.T) {
	r, _, g := newRegistryFixture(t)
	ctx := context.Background()

	h, err := r.Get(ctx, g.ID)
	require.NoError(t, err)

	// A hub with an attached session survives any sweep.
	s := &fakeSession{sid: "s-1", userID: g.White.UserID}
	require.NoError(t, h.AttachPlayer(g.White.UserID, s))
	r.Sweep(t0.Add(48 * time.Hour))
	assert.Equal(t, 1, r.Count())

	// Detached but recently active: kept until the TTL passes.
	h.Detach(s)
	r.Sweep(t0.Add(time.Minute))
	assert.Equal(t, 1, r.Count())

	r.Sweep(t0.Add(2 * time.Hour))
	assert.Equal(t, 0, r.Count())

	// The game is rebuilt from storage on the next lookup.
	again, err := r.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, again.ID())
}

func TestFactoryCreatesPersistedGame(t *testing.T) {
	repo := newFakeRepo()
	f := &Factory{Repo: repo, Clock: &fixedClock{now: t0}}

	white := game.NewPlayer(game.NewUserID(), board.White)
	black := game.NewPlayer(game.NewUserID(), board.Black)

	id, err := f.CreateGame(context.Background(), white, black)
	require.NoError(t, err)

	stored, err := repo.Find(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, white, stored.White)
	assert.Equal(t, black, stored.Black)
	assert.Equal(t, game.InProgress, stored.Status)
}
