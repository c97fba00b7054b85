package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
	"github.com/hailam/chessserve/internal/hub"
	"github.com/hailam/chessserve/internal/match"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type fixedRNG struct{ v bool }

func (r fixedRNG) Bool() bool { return r.v }

// fakeAuth resolves tokens of the form "tok-<userID>".
type fakeAuth struct {
	mu    sync.Mutex
	users map[string]game.UserID
}

func (a *fakeAuth) add(id game.UserID) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	token := "tok-" + id.String()
	a.users[token] = id
	return token
}

func (a *fakeAuth) Authenticate(token string) (game.UserID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.users[token]
	if !ok {
		return "", fmt.Errorf("bad token")
	}
	return id, nil
}

type fakeIssuer struct{}

func (fakeIssuer) Issue(id game.UserID, _ time.Time) (string, error) {
	return "tok-" + id.String(), nil
}

type fakeRegistrar struct {
	mu    sync.Mutex
	byName map[string]game.UserID
}

func (r *fakeRegistrar) Register(_ context.Context, username string) (game.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[username]; ok {
		return id, nil
	}
	id := game.NewUserID()
	r.byName[username] = id
	return id, nil
}

type memRepo struct {
	mu    sync.Mutex
	games map[game.GameID]*game.Game
}

func newMemRepo() *memRepo {
	return &memRepo{games: make(map[game.GameID]*game.Game)}
}

func (r *memRepo) Save(_ context.Context, g *game.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.ID] = g
	return nil
}

func (r *memRepo) Find(_ context.Context, id game.GameID) (*game.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.games[id], nil
}

type allowAll struct{}

func (allowAll) Exists(_ context.Context, _ game.UserID) (bool, error) { return true, nil }

type testEnv struct {
	ts    *httptest.Server
	auth  *fakeAuth
	repo  *memRepo
	games *hub.Registry
	mm    *match.Matchmaker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	repo := newMemRepo()
	clock := realClock{}
	games := hub.NewRegistry(hub.Deps{Repo: repo, Clock: clock, Log: log}, hub.DefaultIdleTTL)
	conns := NewConnRegistry()
	factory := &hub.Factory{Repo: repo, Clock: clock}
	mm := match.New(allowAll{}, factory, conns, clock, fixedRNG{v: true}, log, match.Options{})
	auth := &fakeAuth{users: make(map[string]game.UserID)}

	srv := New(Deps{
		Auth:       auth,
		Issuer:     fakeIssuer{},
		Users:      &fakeRegistrar{byName: make(map[string]game.UserID)},
		Matchmaker: mm,
		Games:      games,
		Conns:      conns,
		Clock:      clock,
		Log:        log,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, auth: auth, repo: repo, games: games, mm: mm}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(path), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func expectType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	msg := readMsg(t, conn)
	require.Equal(t, want, msg["type"], "unexpected message %v", msg)
	return msg
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString(`{"username":"alice"}`)
	resp, err := http.Post(env.ts.URL+"/auth/login", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lr loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	assert.NotEmpty(t, lr.UserID)
	assert.Equal(t, "tok-"+lr.UserID, lr.Token)
}

func TestLoginRequiresUsername(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.ts.URL+"/auth/login", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBadTokenGetsAuthFailed(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "/ws/matchmaking", "no-such-token")
	msg := expectType(t, conn, "AUTH_FAILED")
	assert.NotEmpty(t, msg["reason"])

	// The server closes after the failure frame.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestTokenViaQueryParameter(t *testing.T) {
	env := newTestEnv(t)
	token := env.auth.add(game.NewUserID())

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/matchmaking?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	expectType(t, conn, "AUTH_SUCCESS")
}

func TestMatchmakingPairsTwoUsers(t *testing.T) {
	env := newTestEnv(t)
	userA, userB := game.NewUserID(), game.NewUserID()
	tokA, tokB := env.auth.add(userA), env.auth.add(userB)

	connA := env.dial(t, "/ws/matchmaking", tokA)
	expectType(t, connA, "AUTH_SUCCESS")
	sendJSON(t, connA, map[string]any{"type": "JOIN_QUEUE"})
	pos := expectType(t, connA, "QUEUE_POSITION")
	assert.EqualValues(t, 1, pos["position"])

	connB := env.dial(t, "/ws/matchmaking", tokB)
	expectType(t, connB, "AUTH_SUCCESS")
	sendJSON(t, connB, map[string]any{"type": "JOIN_QUEUE"})

	matchB := expectType(t, connB, "MATCH_FOUND")
	matchA := expectType(t, connA, "MATCH_FOUND")

	assert.Equal(t, matchA["gameId"], matchB["gameId"])
	assert.NotEqual(t, matchA["yourColor"], matchB["yourColor"])
	assert.Equal(t, userB.String(), matchA["opponentUserId"])
	assert.Equal(t, userA.String(), matchB["opponentUserId"])
}

func TestDoubleJoinRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.auth.add(game.NewUserID())

	conn := env.dial(t, "/ws/matchmaking", token)
	expectType(t, conn, "AUTH_SUCCESS")

	sendJSON(t, conn, map[string]any{"type": "JOIN_QUEUE"})
	expectType(t, conn, "QUEUE_POSITION")

	sendJSON(t, conn, map[string]any{"type": "JOIN_QUEUE"})
	msg := expectType(t, conn, "MATCHMAKING_ERROR")
	assert.Equal(t, "ALREADY_ENQUEUED", msg["code"])
}

// seedGame persists a game between the two users and returns it.
func (e *testEnv) seedGame(t *testing.T, white, black game.UserID) *game.Game {
	t.Helper()
	g, err := game.NewGame(
		game.NewPlayer(white, board.White),
		game.NewPlayer(black, board.Black),
		time.Now(),
	)
	require.NoError(t, err)
	require.NoError(t, e.repo.Save(context.Background(), g))
	return g
}

func TestGameSocketPlaysMoves(t *testing.T) {
	env := newTestEnv(t)
	userA, userB := game.NewUserID(), game.NewUserID()
	tokA, tokB := env.auth.add(userA), env.auth.add(userB)
	g := env.seedGame(t, userA, userB)
	path := "/ws/game/" + g.ID.String()

	connA := env.dial(t, path, tokA)
	expectType(t, connA, "AUTH_SUCCESS")
	stateA := expectType(t, connA, "GAME_STATE")
	assert.Equal(t, g.ID.String(), stateA["gameId"])
	assert.Equal(t, "WHITE", stateA["currentSide"])

	connB := env.dial(t, path, tokB)
	expectType(t, connB, "AUTH_SUCCESS")
	expectType(t, connB, "GAME_STATE")

	sendJSON(t, connA, map[string]any{"type": "MOVE", "from": "e2", "to": "e4"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := expectType(t, conn, "MOVE_EXECUTED")
		assert.Equal(t, "BLACK", msg["currentSide"])
	}
}

func TestGameSocketRejectsIllegalMove(t *testing.T) {
	env := newTestEnv(t)
	userA, userB := game.NewUserID(), game.NewUserID()
	tokA := env.auth.add(userA)
	g := env.seedGame(t, userA, userB)

	conn := env.dial(t, "/ws/game/"+g.ID.String(), tokA)
	expectType(t, conn, "AUTH_SUCCESS")
	expectType(t, conn, "GAME_STATE")

	sendJSON(t, conn, map[string]any{"type": "MOVE", "from": "e2", "to": "e5"})
	msg := expectType(t, conn, "MOVE_REJECTED")
	assert.Equal(t, "ILLEGAL_MOVE", msg["reason"])
}

func TestNonParticipantCannotAttach(t *testing.T) {
	env := newTestEnv(t)
	userA, userB := game.NewUserID(), game.NewUserID()
	g := env.seedGame(t, userA, userB)
	token := env.auth.add(game.NewUserID())

	conn := env.dial(t, "/ws/game/"+g.ID.String(), token)
	expectType(t, conn, "AUTH_SUCCESS")
	msg := expectType(t, conn, "ERROR")
	assert.Equal(t, "NOT_A_PARTICIPANT", msg["code"])
}

func TestUnknownGame(t *testing.T) {
	env := newTestEnv(t)
	token := env.auth.add(game.NewUserID())

	conn := env.dial(t, "/ws/game/"+game.NewGameID().String(), token)
	expectType(t, conn, "AUTH_SUCCESS")
	msg := expectType(t, conn, "ERROR")
	assert.Equal(t, "GAME_NOT_FOUND", msg["code"])
}

func TestSpectatorSeesMovesButCannotAct(t *testing.T) {
	env := newTestEnv(t)
	userA, userB := game.NewUserID(), game.NewUserID()
	tokA := env.auth.add(userA)
	tokS := env.auth.add(game.NewUserID())
	g := env.seedGame(t, userA, userB)

	spec := env.dial(t, "/ws/game/"+g.ID.String()+"/spectate", tokS)
	expectType(t, spec, "AUTH_SUCCESS")
	expectType(t, spec, "GAME_STATE")

	player := env.dial(t, "/ws/game/"+g.ID.String(), tokA)
	expectType(t, player, "AUTH_SUCCESS")
	expectType(t, player, "GAME_STATE")

	sendJSON(t, player, map[string]any{"type": "MOVE", "from": "g1", "to": "f3"})
	expectType(t, player, "MOVE_EXECUTED")
	expectType(t, spec, "MOVE_EXECUTED")

	sendJSON(t, spec, map[string]any{"type": "RESIGN"})
	msg := expectType(t, spec, "ERROR")
	assert.Equal(t, "NOT_A_PARTICIPANT", msg["code"])
}

func TestSpectateChannelIsReadOnlyForParticipants(t *testing.T) {
	env := newTestEnv(t)
	userA, userB := game.NewUserID(), game.NewUserID()
	tokA := env.auth.add(userA)
	g := env.seedGame(t, userA, userB)

	// White's own user on the spectate channel must not be able to move.
	spec := env.dial(t, "/ws/game/"+g.ID.String()+"/spectate", tokA)
	expectType(t, spec, "AUTH_SUCCESS")
	expectType(t, spec, "GAME_STATE")

	sendJSON(t, spec, map[string]any{"type": "MOVE", "from": "e2", "to": "e4"})
	msg := expectType(t, spec, "ERROR")
	assert.Equal(t, "NOT_A_PARTICIPANT", msg["code"])

	// The game did not mutate: the same move still works on the real socket.
	player := env.dial(t, "/ws/game/"+g.ID.String(), tokA)
	expectType(t, player, "AUTH_SUCCESS")
	state := expectType(t, player, "GAME_STATE")
	assert.Equal(t, "WHITE", state["currentSide"])

	sendJSON(t, player, map[string]any{"type": "MOVE", "from": "e2", "to": "e4"})
	expectType(t, player, "MOVE_EXECUTED")
}

func TestMatchClosesWhenBothPlayersReachGame(t *testing.T) {
	env := newTestEnv(t)
	userA, userB := game.NewUserID(), game.NewUserID()
	tokA, tokB := env.auth.add(userA), env.auth.add(userB)

	connA := env.dial(t, "/ws/matchmaking", tokA)
	expectType(t, connA, "AUTH_SUCCESS")
	sendJSON(t, connA, map[string]any{"type": "JOIN_QUEUE"})
	expectType(t, connA, "QUEUE_POSITION")

	connB := env.dial(t, "/ws/matchmaking", tokB)
	expectType(t, connB, "AUTH_SUCCESS")
	sendJSON(t, connB, map[string]any{"type": "JOIN_QUEUE"})
	found := expectType(t, connB, "MATCH_FOUND")
	expectType(t, connA, "MATCH_FOUND")

	gameID, err := game.ParseGameID(found["gameId"].(string))
	require.NoError(t, err)
	_, open := env.mm.OpenMatch(gameID)
	require.True(t, open)

	path := "/ws/game/" + gameID.String()
	gameA := env.dial(t, path, tokA)
	expectType(t, gameA, "AUTH_SUCCESS")
	expectType(t, gameA, "GAME_STATE")
	_, open = env.mm.OpenMatch(gameID)
	assert.True(t, open, "one player connected, match stays open")

	gameB := env.dial(t, path, tokB)
	expectType(t, gameB, "AUTH_SUCCESS")
	expectType(t, gameB, "GAME_STATE")
	_, open = env.mm.OpenMatch(gameID)
	assert.False(t, open, "both players connected, match closed")
}

func TestInvalidFrameGetsError(t *testing.T) {
	env := newTestEnv(t)
	token := env.auth.add(game.NewUserID())

	conn := env.dial(t, "/ws/matchmaking", token)
	expectType(t, conn, "AUTH_SUCCESS")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := expectType(t, conn, "ERROR")
	assert.Equal(t, "INVALID_MESSAGE", msg["code"])
}
