package game

import (
	"fmt"
	"time"

	"github.com/hailam/chessserve/internal/board"
)

// Move is a player's move request: origin, destination and an optional
// promotion piece. Promotion is NoPieceType unless the move promotes.
type Move struct {
	From      board.Square
	To        board.Square
	Promotion board.PieceType
}

// String returns the move in UCI form (e.g. "e7e8q").
func (m Move) String() string {
	s := m.From.String() + m.To.String()
	if m.Promotion != board.NoPieceType {
		s += string(m.Promotion.Char())
	}
	return s
}

// MoveRecord is one entry of a game's move history.
type MoveRecord struct {
	Move     Move
	PlayedAt time.Time
}

// Side names used on the wire and in storage.
const (
	SideWhite = "WHITE"
	SideBlack = "BLACK"
)

// SideName returns the wire name of a color.
func SideName(c board.Color) string {
	if c == board.White {
		return SideWhite
	}
	return SideBlack
}

// ParseSide converts a wire side name to a color.
func ParseSide(s string) (board.Color, error) {
	switch s {
	case SideWhite:
		return board.White, nil
	case SideBlack:
		return board.Black, nil
	}
	return board.NoColor, fmt.Errorf("invalid side %q", s)
}

// PromotionName returns the wire name of a promotion piece, or "" when the
// move does not promote.
func PromotionName(pt board.PieceType) string {
	switch pt {
	case board.Queen:
		return "QUEEN"
	case board.Rook:
		return "ROOK"
	case board.Bishop:
		return "BISHOP"
	case board.Knight:
		return "KNIGHT"
	}
	return ""
}

// ParsePromotion converts a wire promotion name to a piece type. The empty
// string means no promotion. Only the four promotable pieces are accepted.
func ParsePromotion(s string) (board.PieceType, error) {
	switch s {
	case "":
		return board.NoPieceType, nil
	case "QUEEN":
		return board.Queen, nil
	case "ROOK":
		return board.Rook, nil
	case "BISHOP":
		return board.Bishop, nil
	case "KNIGHT":
		return board.Knight, nil
	}
	return board.NoPieceType, fmt.Errorf("invalid promotion %q", s)
}
