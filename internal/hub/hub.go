// Package hub runs the live game sessions. One Hub owns the authoritative
// Game for one game id, serializes every mutation under a per-hub mutex and
// fans committed transitions out to the attached sessions.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hailam/chessserve/internal/game"
	"github.com/hailam/chessserve/internal/wire"
)

// ErrGameNotFound reports a game id with no stored game behind it.
var ErrGameNotFound = errors.New("game not found")

// GameRepository persists games. Find returns (nil, nil) for a missing game.
type GameRepository interface {
	Save(ctx context.Context, g *game.Game) error
	Find(ctx context.Context, id game.GameID) (*game.Game, error)
}

// BotPredicate tells bot accounts apart from humans.
type BotPredicate interface {
	IsBot(id game.UserID) bool
}

// BotEngine picks a move for a bot player. It is called without the hub
// lock, so a slow search never blocks the game.
type BotEngine interface {
	ChooseMove(ctx context.Context, g *game.Game) (game.Move, error)
}

// ResultRecorder receives finished games, e.g. for statistics.
type ResultRecorder interface {
	RecordResult(ctx context.Context, g *game.Game) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Session is the hub's view of one connection. Send must not block: it
// reports false when the message could not be queued, after which the hub
// drops the session.
type Session interface {
	SID() string
	UserID() game.UserID
	Send(msg wire.Outbound) bool
	Close()
}

// DefaultBotTimeout bounds one bot move computation.
const DefaultBotTimeout = 10 * time.Second

// Deps are the collaborators shared by every hub. Bots, Engine and Stats
// are optional.
type Deps struct {
	Repo       GameRepository
	Bots       BotPredicate
	Engine     BotEngine
	Stats      ResultRecorder
	Clock      Clock
	Log        *logrus.Logger
	BotTimeout time.Duration
}

// Hub is the per-game runtime.
type Hub struct {
	deps Deps
	log  *logrus.Entry

	mu         sync.Mutex
	g          *game.Game
	players    map[game.PlayerID]Session
	spectators map[string]Session

	// vacated marks player seats whose connection was lost while the game
	// was live, so a later attach is announced as a reconnect.
	vacated map[game.PlayerID]struct{}

	// version counts committed transitions; bot results computed against an
	// older version are stale and discarded.
	version    uint64
	lastActive time.Time
}

// New builds a hub around a loaded game.
func New(g *game.Game, deps Deps) *Hub {
	if deps.BotTimeout <= 0 {
		deps.BotTimeout = DefaultBotTimeout
	}
	return &Hub{
		deps:       deps,
		log:        deps.Log.WithField("gameId", g.ID),
		g:          g,
		players:    make(map[game.PlayerID]Session),
		spectators: make(map[string]Session),
		vacated:    make(map[game.PlayerID]struct{}),
		lastActive: deps.Clock.Now(),
	}
}

// ID returns the game id this hub serves.
func (h *Hub) ID() game.GameID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.g.ID
}

// Game returns the current aggregate. The returned value is immutable.
func (h *Hub) Game() *game.Game {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.g
}

// AttachPlayer binds a connection to the participant seat matching userID.
// A prior session on the same seat is superseded and closed. The attaching
// session receives a state sync; in a live game the others are told the seat
// was re-taken.
func (h *Hub) AttachPlayer(userID game.UserID, s Session) error {
	h.mu.Lock()
	player, ok := h.g.PlayerByUserID(userID)
	if !ok {
		h.mu.Unlock()
		return game.ErrNotAParticipant
	}

	prior := h.players[player.ID]
	_, rejoined := h.vacated[player.ID]
	delete(h.vacated, player.ID)
	h.players[player.ID] = s
	h.lastActive = h.deps.Clock.Now()

	s.Send(h.stateSyncLocked())
	if (prior != nil || rejoined) && !h.g.Status.Terminal() {
		h.broadcastLocked(wire.PlayerReconnected{PlayerID: player.ID.String()}, s.SID())
	}
	botTurn := h.botTurnLocked()
	v := h.version
	h.mu.Unlock()

	if prior != nil && prior.SID() != s.SID() {
		prior.Close()
	}
	if botTurn {
		go h.runBot(v)
	}
	return nil
}

// AttachSpectator binds a read-only connection. Spectators get the state
// sync and every broadcast.
func (h *Hub) AttachSpectator(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spectators[s.SID()] = s
	h.lastActive = h.deps.Clock.Now()
	s.Send(h.stateSyncLocked())
}

// Detach removes a session. Losing a player connection does not end the
// game; the remaining participants are notified and the seat stays open for
// a reconnect.
func (h *Hub) Detach(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.spectators[s.SID()]; ok {
		delete(h.spectators, s.SID())
		return
	}

	for pid, sess := range h.players {
		if sess.SID() != s.SID() {
			continue
		}
		delete(h.players, pid)
		if !h.g.Status.Terminal() {
			h.vacated[pid] = struct{}{}
			h.broadcastLocked(wire.PlayerDisconnected{PlayerID: pid.String()}, "")
		}
		return
	}
}

// SessionCount returns the number of attached sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.players) + len(h.spectators)
}

// idle reports whether the reaper may evict this hub.
func (h *Hub) idle(cutoff time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.players)+len(h.spectators) > 0 {
		return false
	}
	return h.g.Status.Terminal() || h.lastActive.Before(cutoff)
}

// Move plays a move for the sender. Rejections go to the sender only; a
// committed move is broadcast to every attached session.
func (h *Hub) Move(ctx context.Context, s Session, mv game.Move) {
	h.mu.Lock()
	actor, ok := h.g.PlayerByUserID(s.UserID())
	if !ok {
		h.mu.Unlock()
		s.Send(wire.MoveRejected{Reason: ErrorCode(game.ErrNotAParticipant)})
		return
	}

	next, err := h.g.ApplyMove(actor, mv, h.deps.Clock.Now())
	if err != nil {
		h.mu.Unlock()
		s.Send(wire.MoveRejected{Reason: ErrorCode(err)})
		return
	}

	h.commitLocked(ctx, s, next, wire.MoveExecuted{
		Move:        moveInfo(mv),
		FEN:         next.FEN(),
		Status:      next.Status.String(),
		CurrentSide: game.SideName(next.CurrentSide()),
		IsCheck:     next.InCheck(),
	})
}

// Resign ends the game for the sender's side.
func (h *Hub) Resign(ctx context.Context, s Session) {
	h.mu.Lock()
	actor, ok := h.g.PlayerByUserID(s.UserID())
	if !ok {
		h.mu.Unlock()
		h.sendError(s, game.ErrNotAParticipant)
		return
	}

	next, err := h.g.Resign(actor, h.deps.Clock.Now())
	if err != nil {
		h.mu.Unlock()
		h.sendError(s, err)
		return
	}

	h.commitLocked(ctx, s, next, wire.GameResigned{
		ResignedPlayerID: actor.ID.String(),
		Status:           next.Status.String(),
	})
}

// OfferDraw records a draw offer and tells the opponent.
func (h *Hub) OfferDraw(ctx context.Context, s Session) {
	h.mu.Lock()
	actor, ok := h.g.PlayerByUserID(s.UserID())
	if !ok {
		h.mu.Unlock()
		h.sendError(s, game.ErrNotAParticipant)
		return
	}

	next, err := h.g.OfferDraw(actor, h.deps.Clock.Now())
	if err != nil {
		h.mu.Unlock()
		h.sendError(s, err)
		return
	}

	opponent := next.Opponent(actor)
	h.commitTargetedLocked(ctx, s, next,
		wire.DrawOffered{OfferedByPlayerID: actor.ID.String()},
		opponent.ID)
}

// AcceptDraw accepts the opponent's offer and ends the game in a draw.
func (h *Hub) AcceptDraw(ctx context.Context, s Session) {
	h.mu.Lock()
	actor, ok := h.g.PlayerByUserID(s.UserID())
	if !ok {
		h.mu.Unlock()
		h.sendError(s, game.ErrNotAParticipant)
		return
	}

	next, err := h.g.AcceptDraw(actor, h.deps.Clock.Now())
	if err != nil {
		h.mu.Unlock()
		h.sendError(s, err)
		return
	}

	h.commitLocked(ctx, s, next, wire.DrawAccepted{
		AcceptedByPlayerID: actor.ID.String(),
		Status:             next.Status.String(),
	})
}

// RejectDraw declines the opponent's offer; only the offerer is told.
func (h *Hub) RejectDraw(ctx context.Context, s Session) {
	h.mu.Lock()
	actor, ok := h.g.PlayerByUserID(s.UserID())
	if !ok {
		h.mu.Unlock()
		h.sendError(s, game.ErrNotAParticipant)
		return
	}

	next, err := h.g.RejectDraw(actor, h.deps.Clock.Now())
	if err != nil {
		h.mu.Unlock()
		h.sendError(s, err)
		return
	}

	offerer := next.Opponent(actor)
	h.commitTargetedLocked(ctx, s, next,
		wire.DrawRejected{RejectedByPlayerID: actor.ID.String()},
		offerer.ID)
}

// commitLocked persists the transition, swaps the aggregate in and
// broadcasts msg to every session. A failed save aborts: the in-memory game
// is untouched and only the sender hears about it. Called with the lock
// held; releases it.
func (h *Hub) commitLocked(ctx context.Context, s Session, next *game.Game, msg wire.Outbound) {
	if !h.persistLocked(ctx, s, next) {
		return
	}
	h.broadcastLocked(msg, "")
	h.afterCommitLocked(next)
}

// commitTargetedLocked is commitLocked for transitions whose notification
// goes to one participant (plus spectators) instead of everyone.
func (h *Hub) commitTargetedLocked(ctx context.Context, s Session, next *game.Game, msg wire.Outbound, target game.PlayerID) {
	if !h.persistLocked(ctx, s, next) {
		return
	}
	if sess, ok := h.players[target]; ok {
		if !sess.Send(msg) {
			h.dropLocked(sess)
		}
	}
	for _, sess := range h.spectators {
		if !sess.Send(msg) {
			h.dropLocked(sess)
		}
	}
	h.afterCommitLocked(next)
}

func (h *Hub) persistLocked(ctx context.Context, s Session, next *game.Game) bool {
	if err := h.deps.Repo.Save(ctx, next); err != nil {
		h.mu.Unlock()
		h.log.WithError(err).Error("save failed, transition aborted")
		s.Send(wire.Error{Code: "PERSISTENCE_FAILURE", Message: "could not persist the game"})
		return false
	}
	h.g = next
	h.version++
	h.lastActive = h.deps.Clock.Now()
	return true
}

// afterCommitLocked runs the post-commit hooks and releases the lock.
func (h *Hub) afterCommitLocked(next *game.Game) {
	terminal := next.Status.Terminal()
	botTurn := !terminal && h.botTurnLocked()
	v := h.version
	h.mu.Unlock()

	if terminal && h.deps.Stats != nil {
		// Best effort: the game transition is already committed.
		if err := h.deps.Stats.RecordResult(context.Background(), next); err != nil {
			h.log.WithError(err).Warn("result recording failed")
		}
	}
	if botTurn {
		go h.runBot(v)
	}
}

func (h *Hub) sendError(s Session, err error) {
	s.Send(wire.Error{Code: ErrorCode(err), Message: err.Error()})
}

// broadcastLocked queues msg to every attached session except the one with
// the given sid. Sessions that cannot keep up are dropped; the committed
// state never rolls back.
func (h *Hub) broadcastLocked(msg wire.Outbound, exceptSID string) {
	for _, sess := range h.players {
		if sess.SID() == exceptSID {
			continue
		}
		if !sess.Send(msg) {
			h.dropLocked(sess)
		}
	}
	for _, sess := range h.spectators {
		if sess.SID() == exceptSID {
			continue
		}
		if !sess.Send(msg) {
			h.dropLocked(sess)
		}
	}
}

func (h *Hub) dropLocked(s Session) {
	h.log.WithFields(logrus.Fields{"sid": s.SID(), "userId": s.UserID()}).
		Warn("dropping unresponsive session")
	for pid, sess := range h.players {
		if sess.SID() == s.SID() {
			delete(h.players, pid)
			if !h.g.Status.Terminal() {
				h.vacated[pid] = struct{}{}
			}
		}
	}
	delete(h.spectators, s.SID())
	s.Close()
}

func (h *Hub) stateSyncLocked() wire.GameState {
	history := make([]wire.MoveInfo, len(h.g.History))
	for i, rec := range h.g.History {
		history[i] = moveInfo(rec.Move)
	}
	return wire.GameState{
		GameID:        h.g.ID.String(),
		FEN:           h.g.FEN(),
		MoveHistory:   history,
		Status:        h.g.Status.String(),
		CurrentSide:   game.SideName(h.g.CurrentSide()),
		WhitePlayerID: h.g.White.ID.String(),
		BlackPlayerID: h.g.Black.ID.String(),
	}
}

func (h *Hub) botTurnLocked() bool {
	if h.deps.Bots == nil || h.deps.Engine == nil || h.g.Status.Terminal() {
		return false
	}
	return h.deps.Bots.IsBot(h.g.CurrentPlayer().UserID)
}

// runBot computes and plays one bot move. The search runs without the hub
// lock; if the game moved on meanwhile the result is stale and discarded.
func (h *Hub) runBot(v uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), h.deps.BotTimeout)
	defer cancel()

	h.mu.Lock()
	if h.version != v || h.g.Status.Terminal() {
		h.mu.Unlock()
		return
	}
	snapshot := h.g
	actor := h.g.CurrentPlayer()
	h.mu.Unlock()

	mv, err := h.deps.Engine.ChooseMove(ctx, snapshot)
	if err != nil {
		h.log.WithError(err).Warn("bot move computation failed")
		return
	}

	h.mu.Lock()
	if h.version != v || h.g.Status.Terminal() {
		h.mu.Unlock()
		return
	}
	next, err := h.g.ApplyMove(actor, mv, h.deps.Clock.Now())
	if err != nil {
		h.mu.Unlock()
		h.log.WithError(err).WithField("move", mv).Error("bot produced an illegal move")
		return
	}
	if err := h.deps.Repo.Save(ctx, next); err != nil {
		h.mu.Unlock()
		h.log.WithError(err).Error("save failed, bot move aborted")
		return
	}
	h.g = next
	h.version++
	h.lastActive = h.deps.Clock.Now()
	h.broadcastLocked(wire.MoveExecuted{
		Move:        moveInfo(mv),
		FEN:         next.FEN(),
		Status:      next.Status.String(),
		CurrentSide: game.SideName(next.CurrentSide()),
		IsCheck:     next.InCheck(),
	}, "")
	h.afterCommitLocked(next)
}

func moveInfo(mv game.Move) wire.MoveInfo {
	return wire.MoveInfo{
		From:      mv.From.String(),
		To:        mv.To.String(),
		Promotion: game.PromotionName(mv.Promotion),
	}
}

// ErrorCode maps a domain error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrNotAParticipant):
		return "NOT_A_PARTICIPANT"
	case errors.Is(err, game.ErrGameOver):
		return "GAME_OVER"
	case errors.Is(err, game.ErrNotYourTurn):
		return "NOT_YOUR_TURN"
	case errors.Is(err, game.ErrIllegalMove):
		return "ILLEGAL_MOVE"
	case errors.Is(err, game.ErrOfferAlreadyPending):
		return "OFFER_ALREADY_PENDING"
	case errors.Is(err, game.ErrNoPendingOffer):
		return "NO_PENDING_OFFER"
	case errors.Is(err, game.ErrCannotAcceptOwnOffer):
		return "CANNOT_ACCEPT_OWN_OFFER"
	case errors.Is(err, ErrGameNotFound):
		return "GAME_NOT_FOUND"
	}
	return "INTERNAL"
}
