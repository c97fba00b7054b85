// Package match pairs waiting users first-come-first-served into games.
// The queue is in-memory and volatile; a server restart empties it.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
)

// Matchmaking precondition failures.
var (
	ErrAlreadyEnqueued = errors.New("user already enqueued")
	ErrUnknownUser     = errors.New("unknown user")
)

// UserExistenceChecker verifies a user id before it may enter the queue.
type UserExistenceChecker interface {
	Exists(ctx context.Context, id game.UserID) (bool, error)
}

// GameFactory materializes a persisted game for a fresh pairing.
type GameFactory interface {
	CreateGame(ctx context.Context, white, black game.Player) (game.GameID, error)
}

// Notifier is the side channel to users waiting on the matchmaking socket.
// NotifyMatched delivers the pairing to the peer who joined first; Connected
// reports whether a user still holds a live matchmaking connection.
type Notifier interface {
	NotifyMatched(id game.UserID, m Match)
	Connected(id game.UserID) bool
}

// BotSelector supplies the bot account for a bot-match request.
type BotSelector interface {
	SelectBot(ctx context.Context, botID game.UserID) (game.UserID, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RNG is the coin flip used for color assignment.
type RNG interface {
	Bool() bool
}

// DefaultMatchTTL bounds how long an unclaimed pairing is kept.
const DefaultMatchTTL = 5 * time.Minute

// Match is a completed pairing, held until both players connect to the game.
type Match struct {
	GameID    game.GameID
	White     game.Player
	Black     game.Player
	MatchedAt time.Time
	ExpiresAt time.Time
}

// PlayerFor returns the participant bound to the given user.
func (m Match) PlayerFor(id game.UserID) (game.Player, bool) {
	switch id {
	case m.White.UserID:
		return m.White, true
	case m.Black.UserID:
		return m.Black, true
	}
	return game.Player{}, false
}

// Opponent returns the other participant's user id.
func (m Match) Opponent(id game.UserID) game.UserID {
	if id == m.White.UserID {
		return m.Black.UserID
	}
	return m.White.UserID
}

// Result is the outcome of a Join call: either a queue position while
// waiting, or the match the caller was paired into.
type Result struct {
	Matched  bool
	Position int
	Match    Match
}

// BotRequest short-circuits the queue and pairs the caller with a bot.
// PlayerColor is the caller's preferred side, NoColor for a coin flip.
type BotRequest struct {
	BotID       game.UserID
	PlayerColor board.Color
}

type entry struct {
	userID     game.UserID
	enqueuedAt time.Time
}

// openMatch is a pairing waiting for its participants to reach the game
// socket. claimed tracks who already arrived.
type openMatch struct {
	m       Match
	claimed map[game.UserID]bool
}

// Matchmaker owns the FIFO queue. The enqueue-and-try-match step runs under
// one mutex, so a pairing is always the two oldest waiting users.
type Matchmaker struct {
	checker  UserExistenceChecker
	factory  GameFactory
	notifier Notifier
	bots     BotSelector
	clock    Clock
	rng      RNG
	ttl      time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	queue   []entry
	index   map[game.UserID]struct{}
	matches map[game.GameID]*openMatch
}

// Options carries the optional collaborators of a Matchmaker.
type Options struct {
	Bots     BotSelector
	MatchTTL time.Duration
}

// New builds a matchmaker. checker, factory, notifier, clock and rng are
// required; opts may be zero-valued.
func New(checker UserExistenceChecker, factory GameFactory, notifier Notifier, clock Clock, rng RNG, log *logrus.Logger, opts Options) *Matchmaker {
	ttl := opts.MatchTTL
	if ttl <= 0 {
		ttl = DefaultMatchTTL
	}
	return &Matchmaker{
		checker:  checker,
		factory:  factory,
		notifier: notifier,
		bots:     opts.Bots,
		clock:    clock,
		rng:      rng,
		ttl:      ttl,
		log:      log.WithField("component", "matchmaker"),
		index:    make(map[game.UserID]struct{}),
		matches:  make(map[game.GameID]*openMatch),
	}
}

// Join enters the user into matchmaking. With fewer than two users waiting
// it returns the caller's queue position; otherwise it pairs the caller with
// the oldest waiting user, creates the game and notifies the peer. A non-nil
// bot request skips the queue entirely.
func (mm *Matchmaker) Join(ctx context.Context, userID game.UserID, bot *BotRequest) (Result, error) {
	ok, err := mm.checker.Exists(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("check user %s: %w", userID, err)
	}
	if !ok {
		return Result{}, ErrUnknownUser
	}

	if bot != nil {
		return mm.joinBot(ctx, userID, bot)
	}

	now := mm.clock.Now()

	mm.mu.Lock()
	mm.expireLocked(now)
	if _, queued := mm.index[userID]; queued {
		mm.mu.Unlock()
		return Result{}, ErrAlreadyEnqueued
	}
	mm.queue = append(mm.queue, entry{userID: userID, enqueuedAt: now})
	mm.index[userID] = struct{}{}
	if len(mm.queue) < 2 {
		pos := len(mm.queue)
		mm.mu.Unlock()
		return Result{Position: pos}, nil
	}
	first, second := mm.queue[0], mm.queue[1]
	mm.queue = mm.queue[2:]
	delete(mm.index, first.userID)
	delete(mm.index, second.userID)
	mm.mu.Unlock()

	m, err := mm.createMatch(ctx, first.userID, second.userID)
	if err != nil {
		mm.requeue(first, second)
		return Result{}, err
	}

	// The peer joined first and is still blocked on its Waiting result, so
	// it learns of the pairing through the notifier side channel.
	mm.notifier.NotifyMatched(first.userID, m)

	return Result{Matched: true, Match: m}, nil
}

func (mm *Matchmaker) joinBot(ctx context.Context, userID game.UserID, req *BotRequest) (Result, error) {
	if mm.bots == nil {
		return Result{}, errors.New("bot matches are not enabled")
	}
	botID, err := mm.bots.SelectBot(ctx, req.BotID)
	if err != nil {
		return Result{}, fmt.Errorf("select bot: %w", err)
	}

	userSide := req.PlayerColor
	if userSide == board.NoColor {
		if mm.flip() {
			userSide = board.White
		} else {
			userSide = board.Black
		}
	}

	var m Match
	if userSide == board.White {
		m, err = mm.mint(ctx, userID, botID)
	} else {
		m, err = mm.mint(ctx, botID, userID)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: true, Match: m}, nil
}

// createMatch assigns colors by coin flip and materializes the game. Runs
// outside the queue lock: game creation may block on I/O.
func (mm *Matchmaker) createMatch(ctx context.Context, a, b game.UserID) (Match, error) {
	if mm.flip() {
		a, b = b, a
	}
	return mm.mint(ctx, a, b)
}

func (mm *Matchmaker) mint(ctx context.Context, whiteUser, blackUser game.UserID) (Match, error) {
	white := game.NewPlayer(whiteUser, board.White)
	black := game.NewPlayer(blackUser, board.Black)

	gameID, err := mm.factory.CreateGame(ctx, white, black)
	if err != nil {
		return Match{}, fmt.Errorf("create game: %w", err)
	}

	now := mm.clock.Now()
	m := Match{
		GameID:    gameID,
		White:     white,
		Black:     black,
		MatchedAt: now,
		ExpiresAt: now.Add(mm.ttl),
	}

	mm.mu.Lock()
	mm.matches[gameID] = &openMatch{m: m, claimed: make(map[game.UserID]bool)}
	mm.mu.Unlock()

	mm.log.WithFields(logrus.Fields{
		"gameId":    gameID,
		"whiteUser": whiteUser,
		"blackUser": blackUser,
	}).Info("match created")

	return m, nil
}

func (mm *Matchmaker) flip() bool {
	return mm.rng.Bool()
}

// requeue puts two popped entries back at the head of the queue in their
// original order after a failed game creation. Users who disconnected in the
// meantime are dropped silently.
func (mm *Matchmaker) requeue(first, second entry) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	head := make([]entry, 0, 2)
	for _, e := range []entry{first, second} {
		if _, queued := mm.index[e.userID]; queued {
			continue
		}
		if mm.notifier != nil && !mm.notifier.Connected(e.userID) {
			mm.log.WithField("userId", e.userID).Debug("dropping disconnected user on requeue")
			continue
		}
		head = append(head, e)
		mm.index[e.userID] = struct{}{}
	}
	mm.queue = append(head, mm.queue...)
}

// Leave removes the user from the queue. It reports whether a removal
// happened and is silent otherwise.
func (mm *Matchmaker) Leave(userID game.UserID) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, queued := mm.index[userID]; !queued {
		return false
	}
	delete(mm.index, userID)
	for i, e := range mm.queue {
		if e.userID == userID {
			mm.queue = append(mm.queue[:i], mm.queue[i+1:]...)
			break
		}
	}
	return true
}

// IsEnqueued reports whether the user is waiting in the queue.
func (mm *Matchmaker) IsEnqueued(userID game.UserID) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	_, queued := mm.index[userID]
	return queued
}

// Size returns the number of waiting users.
func (mm *Matchmaker) Size() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.queue)
}

// OpenMatch returns a pairing that has not yet expired or been claimed by
// both participants.
func (mm *Matchmaker) OpenMatch(id game.GameID) (Match, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.expireLocked(mm.clock.Now())
	om, ok := mm.matches[id]
	if !ok {
		return Match{}, false
	}
	return om.m, true
}

// ClaimMatch records that a matched user reached the game socket. The open
// pairing is dropped once both participants have claimed it; an unclaimed
// pairing lapses with its TTL.
func (mm *Matchmaker) ClaimMatch(id game.GameID, userID game.UserID) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.expireLocked(mm.clock.Now())

	om, ok := mm.matches[id]
	if !ok {
		return
	}
	if _, participant := om.m.PlayerFor(userID); !participant {
		return
	}
	om.claimed[userID] = true
	if om.claimed[om.m.White.UserID] && om.claimed[om.m.Black.UserID] {
		delete(mm.matches, id)
		mm.log.WithField("gameId", id).Debug("match claimed by both players")
	}
}

func (mm *Matchmaker) expireLocked(now time.Time) {
	for id, om := range mm.matches {
		if now.After(om.m.ExpiresAt) {
			delete(mm.matches, id)
		}
	}
}
