package game

import "errors"

// Game precondition failures. The hub maps these onto wire error codes, so
// they stay sentinel values rather than structured types.
var (
	ErrNotAParticipant      = errors.New("not a participant in this game")
	ErrGameOver             = errors.New("game is over")
	ErrNotYourTurn          = errors.New("not your turn")
	ErrIllegalMove          = errors.New("illegal move")
	ErrOfferAlreadyPending  = errors.New("a draw offer is already pending")
	ErrNoPendingOffer       = errors.New("no pending draw offer")
	ErrCannotAcceptOwnOffer = errors.New("cannot accept your own draw offer")
)
