package game

import "github.com/hailam/chessserve/internal/board"

// Player is one participation in one game: a fresh PlayerID bound to a
// durable UserID and a side. Players are minted at game creation and never
// change.
type Player struct {
	ID     PlayerID
	UserID UserID
	Side   board.Color
}

// NewPlayer mints a player for the given user and side.
func NewPlayer(userID UserID, side board.Color) Player {
	return Player{
		ID:     NewPlayerID(),
		UserID: userID,
		Side:   side,
	}
}
