package board

// IsCheckmate returns true if the side to move is in check with no legal moves.
func (p *Position) IsCheckmate() bool {
	return p.InCheck() && !p.HasLegalMoves()
}

// IsStalemate returns true if the side to move is not in check but has no
// legal moves.
func (p *Position) IsStalemate() bool {
	return !p.InCheck() && !p.HasLegalMoves()
}

// IsFiftyMove returns true once 100 half-moves have passed without a capture
// or pawn move.
func (p *Position) IsFiftyMove() bool {
	return p.HalfMoveClock >= 100
}

// IsInsufficientMaterial returns true exactly for K vs K, K+B vs K, K+N vs K,
// and K+B vs K+B with both bishops on same-colored squares. Every other
// combination, including K+N+N vs K, is treated as sufficient.
func (p *Position) IsInsufficientMaterial() bool {
	if p.Pieces[White][Pawn]|p.Pieces[Black][Pawn] != 0 ||
		p.Pieces[White][Rook]|p.Pieces[Black][Rook] != 0 ||
		p.Pieces[White][Queen]|p.Pieces[Black][Queen] != 0 {
		return false
	}

	wKnights := p.Pieces[White][Knight].PopCount()
	wBishops := p.Pieces[White][Bishop].PopCount()
	bKnights := p.Pieces[Black][Knight].PopCount()
	bBishops := p.Pieces[Black][Bishop].PopCount()
	wMinors := wKnights + wBishops
	bMinors := bKnights + bBishops

	// K vs K
	if wMinors+bMinors == 0 {
		return true
	}

	// K+B vs K or K+N vs K
	if wMinors+bMinors == 1 {
		return true
	}

	// K+B vs K+B with both bishops on same-colored squares
	if wBishops == 1 && bBishops == 1 && wKnights == 0 && bKnights == 0 {
		wSq := p.Pieces[White][Bishop].LSB()
		bSq := p.Pieces[Black][Bishop].LSB()
		return squareColor(wSq) == squareColor(bSq)
	}

	return false
}

// squareColor returns 0 for dark squares and 1 for light squares.
func squareColor(sq Square) int {
	return (sq.File() + sq.Rank()) & 1
}

// RepetitionKey identifies a position for threefold repetition: the piece
// bitboards, side to move, castling rights and en passant target.
// The move clocks are deliberately excluded. Keys compare with ==.
type RepetitionKey struct {
	Pieces         [2][6]Bitboard
	SideToMove     Color
	CastlingRights CastlingRights
	EnPassant      Square
}

// RepetitionKey returns the comparable repetition key of the position.
func (p *Position) RepetitionKey() RepetitionKey {
	return RepetitionKey{
		Pieces:         p.Pieces,
		SideToMove:     p.SideToMove,
		CastlingRights: p.CastlingRights,
		EnPassant:      p.EnPassant,
	}
}

// IsThreefoldRepetition reports whether the position's key appears at least
// three times counting the position itself plus the given history of keys
// from earlier positions.
func (p *Position) IsThreefoldRepetition(history []RepetitionKey) bool {
	key := p.RepetitionKey()
	count := 1
	for _, k := range history {
		if k == key {
			count++
			if count >= 3 {
				return true
			}
		}
	}
	return false
}
