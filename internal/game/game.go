package game

import (
	"fmt"
	"time"

	"github.com/hailam/chessserve/internal/board"
)

// Game is the aggregate for one chess game between two players. Mutating
// operations return a new *Game and leave the receiver untouched, so a
// failed persistence step can simply discard the result. The embedded
// Position is treated as immutable; moves go through board.Apply.
type Game struct {
	ID    GameID
	White Player
	Black Player

	Position   *board.Position
	InitialFEN string

	Status Status

	// History holds every move in play order.
	History []MoveRecord

	// DrawOffer is the side with a pending draw offer, NoColor when none.
	// Any move, accept, reject or resignation clears it.
	DrawOffer board.Color

	// RepKeys holds the repetition keys of every position before the
	// current one, oldest first. Used for threefold repetition.
	RepKeys []board.RepetitionKey

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewGame creates a game from the standard starting position.
func NewGame(white, black Player, now time.Time) (*Game, error) {
	return NewGameFromFEN(white, black, board.StartFEN, now)
}

// NewGameFromFEN creates a game from an arbitrary starting position.
func NewGameFromFEN(white, black Player, fen string, now time.Time) (*Game, error) {
	if err := validatePlayers(white, black); err != nil {
		return nil, err
	}
	pos, err := board.ParseFEN(fen)
	if err != nil {
		return nil, err
	}
	return &Game{
		ID:         NewGameID(),
		White:      white,
		Black:      black,
		Position:   pos,
		InitialFEN: pos.ToFEN(),
		Status:     InProgress,
		DrawOffer:  board.NoColor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func validatePlayers(white, black Player) error {
	if white.Side != board.White {
		return fmt.Errorf("game: white player carries side %s", white.Side)
	}
	if black.Side != board.Black {
		return fmt.Errorf("game: black player carries side %s", black.Side)
	}
	if white.ID == "" || black.ID == "" {
		return fmt.Errorf("game: player ids must be set")
	}
	if white.ID == black.ID {
		return fmt.Errorf("game: players share id %s", white.ID)
	}
	if white.UserID == black.UserID {
		return fmt.Errorf("game: user %s cannot hold both sides", white.UserID)
	}
	return nil
}

// CurrentSide returns the side to move.
func (g *Game) CurrentSide() board.Color {
	return g.Position.SideToMove
}

// CurrentPlayer returns the player whose turn it is.
func (g *Game) CurrentPlayer() Player {
	if g.CurrentSide() == board.White {
		return g.White
	}
	return g.Black
}

// PlayerByID returns the participant with the given player id.
func (g *Game) PlayerByID(id PlayerID) (Player, bool) {
	switch id {
	case g.White.ID:
		return g.White, true
	case g.Black.ID:
		return g.Black, true
	}
	return Player{}, false
}

// PlayerByUserID returns the participant bound to the given user id.
func (g *Game) PlayerByUserID(id UserID) (Player, bool) {
	switch id {
	case g.White.UserID:
		return g.White, true
	case g.Black.UserID:
		return g.Black, true
	}
	return Player{}, false
}

// Opponent returns the other participant.
func (g *Game) Opponent(p Player) Player {
	if p.ID == g.White.ID {
		return g.Black
	}
	return g.White
}

// FEN returns the current position as a FEN string.
func (g *Game) FEN() string {
	return g.Position.ToFEN()
}

// InCheck returns true if the side to move is in check.
func (g *Game) InCheck() bool {
	return g.Position.InCheck()
}

func (g *Game) participant(actor Player) (Player, bool) {
	return g.PlayerByID(actor.ID)
}

func (g *Game) clone() *Game {
	next := *g
	next.History = append([]MoveRecord(nil), g.History...)
	next.RepKeys = append([]board.RepetitionKey(nil), g.RepKeys...)
	return &next
}

// classify derives the status of a freshly reached position. history holds
// the repetition keys of every earlier position.
func classify(pos *board.Position, history []board.RepetitionKey) Status {
	switch {
	case pos.IsCheckmate():
		return Checkmate
	case pos.IsStalemate():
		return Stalemate
	case pos.IsFiftyMove(), pos.IsInsufficientMaterial(), pos.IsThreefoldRepetition(history):
		return Draw
	}
	return InProgress
}

// ApplyMove validates and plays a move for the acting player. The move must
// match a legal move on from, to and promotion. On success the returned game
// carries the new position, extended history, cleared draw offer and a
// recomputed status.
func (g *Game) ApplyMove(actor Player, mv Move, now time.Time) (*Game, error) {
	player, ok := g.participant(actor)
	if !ok {
		return nil, ErrNotAParticipant
	}
	if g.Status.Terminal() {
		return nil, ErrGameOver
	}
	if player.Side != g.CurrentSide() {
		return nil, ErrNotYourTurn
	}

	bm := g.Position.GenerateLegalMoves().Find(mv.From, mv.To, mv.Promotion)
	if bm == board.NoMove {
		return nil, ErrIllegalMove
	}

	next := g.clone()
	next.RepKeys = append(next.RepKeys, g.Position.RepetitionKey())
	next.Position = g.Position.Apply(bm)
	next.History = append(next.History, MoveRecord{Move: mv, PlayedAt: now})
	next.DrawOffer = board.NoColor
	next.Status = classify(next.Position, next.RepKeys)
	next.UpdatedAt = now
	return next, nil
}

// Resign ends the game with a resignation by the acting player.
func (g *Game) Resign(actor Player, now time.Time) (*Game, error) {
	player, ok := g.participant(actor)
	if !ok {
		return nil, ErrNotAParticipant
	}
	if g.Status.Terminal() {
		return nil, ErrGameOver
	}

	next := g.clone()
	if player.Side == board.White {
		next.Status = ResignedWhite
	} else {
		next.Status = ResignedBlack
	}
	next.DrawOffer = board.NoColor
	next.UpdatedAt = now
	return next, nil
}

// OfferDraw records a draw offer by the acting player. Offers are accepted
// on either side's turn; only one offer can be pending at a time.
func (g *Game) OfferDraw(actor Player, now time.Time) (*Game, error) {
	player, ok := g.participant(actor)
	if !ok {
		return nil, ErrNotAParticipant
	}
	if g.Status.Terminal() {
		return nil, ErrGameOver
	}
	if g.DrawOffer != board.NoColor {
		return nil, ErrOfferAlreadyPending
	}

	next := g.clone()
	next.DrawOffer = player.Side
	next.UpdatedAt = now
	return next, nil
}

// AcceptDraw accepts the opponent's pending draw offer and ends the game.
func (g *Game) AcceptDraw(actor Player, now time.Time) (*Game, error) {
	player, ok := g.participant(actor)
	if !ok {
		return nil, ErrNotAParticipant
	}
	if g.Status.Terminal() {
		return nil, ErrGameOver
	}
	if g.DrawOffer == board.NoColor {
		return nil, ErrNoPendingOffer
	}
	if g.DrawOffer == player.Side {
		return nil, ErrCannotAcceptOwnOffer
	}

	next := g.clone()
	next.Status = Draw
	next.DrawOffer = board.NoColor
	next.UpdatedAt = now
	return next, nil
}

// RejectDraw clears the opponent's pending draw offer; the game goes on.
func (g *Game) RejectDraw(actor Player, now time.Time) (*Game, error) {
	player, ok := g.participant(actor)
	if !ok {
		return nil, ErrNotAParticipant
	}
	if g.Status.Terminal() {
		return nil, ErrGameOver
	}
	if g.DrawOffer == board.NoColor {
		return nil, ErrNoPendingOffer
	}
	if g.DrawOffer == player.Side {
		return nil, ErrCannotAcceptOwnOffer
	}

	next := g.clone()
	next.DrawOffer = board.NoColor
	next.UpdatedAt = now
	return next, nil
}

// Saved is the persistable state of a game. Position state is carried as the
// initial FEN plus the full move history; Restore replays the history.
type Saved struct {
	ID         GameID
	White      Player
	Black      Player
	InitialFEN string
	Status     Status
	DrawOffer  board.Color
	History    []MoveRecord
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Saved returns the persistable state of the game.
func (g *Game) Saved() Saved {
	return Saved{
		ID:         g.ID,
		White:      g.White,
		Black:      g.Black,
		InitialFEN: g.InitialFEN,
		Status:     g.Status,
		DrawOffer:  g.DrawOffer,
		History:    append([]MoveRecord(nil), g.History...),
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

// Restore rebuilds an aggregate from persisted state by replaying the move
// history from the initial position. A history move that is not legal means
// the stored game is corrupt.
func Restore(s Saved) (*Game, error) {
	if err := validatePlayers(s.White, s.Black); err != nil {
		return nil, err
	}
	pos, err := board.ParseFEN(s.InitialFEN)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", s.ID, err)
	}

	repKeys := make([]board.RepetitionKey, 0, len(s.History))
	for i, rec := range s.History {
		bm := pos.GenerateLegalMoves().Find(rec.Move.From, rec.Move.To, rec.Move.Promotion)
		if bm == board.NoMove {
			return nil, fmt.Errorf("restore %s: stored move %d (%s) is not legal", s.ID, i+1, rec.Move)
		}
		repKeys = append(repKeys, pos.RepetitionKey())
		pos = pos.Apply(bm)
	}

	return &Game{
		ID:         s.ID,
		White:      s.White,
		Black:      s.Black,
		Position:   pos,
		InitialFEN: s.InitialFEN,
		Status:     s.Status,
		DrawOffer:  s.DrawOffer,
		History:    append([]MoveRecord(nil), s.History...),
		RepKeys:    repKeys,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}, nil
}
