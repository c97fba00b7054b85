// Package wire defines the JSON message protocol spoken over the WebSocket
// channels. Every message is a JSON object tagged with a "type" field.
// The package is pure: it never touches the network or the domain state.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types (client to server).
const (
	TypeJoinQueue  = "JOIN_QUEUE"
	TypeMove       = "MOVE"
	TypeResign     = "RESIGN"
	TypeOfferDraw  = "OFFER_DRAW"
	TypeAcceptDraw = "ACCEPT_DRAW"
	TypeRejectDraw = "REJECT_DRAW"
)

// Outbound message types (server to client).
const (
	TypeAuthSuccess        = "AUTH_SUCCESS"
	TypeAuthFailed         = "AUTH_FAILED"
	TypeQueuePosition      = "QUEUE_POSITION"
	TypeMatchFound         = "MATCH_FOUND"
	TypeMatchmakingError   = "MATCHMAKING_ERROR"
	TypeGameState          = "GAME_STATE"
	TypeMoveExecuted       = "MOVE_EXECUTED"
	TypeMoveRejected       = "MOVE_REJECTED"
	TypeGameResigned       = "GAME_RESIGNED"
	TypeDrawOffered        = "DRAW_OFFERED"
	TypeDrawAccepted       = "DRAW_ACCEPTED"
	TypeDrawRejected       = "DRAW_REJECTED"
	TypePlayerDisconnected = "PLAYER_DISCONNECTED"
	TypePlayerReconnected  = "PLAYER_RECONNECTED"
	TypeError              = "ERROR"
)

// Decode failures. ErrInvalidMessage covers malformed JSON and missing
// required fields and is answered with an ERROR frame; ErrUnknownType marks
// message kinds this server does not know, which are logged and dropped.
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownType    = errors.New("unknown message type")
)

// Inbound is a decoded client message: one of *JoinQueue, *Move, *Resign,
// *OfferDraw, *AcceptDraw or *RejectDraw.
type Inbound interface {
	inbound()
}

// JoinQueue asks to enter matchmaking. The bot fields request a game against
// an engine instead of a human opponent.
type JoinQueue struct {
	Bot         bool   `json:"bot,omitempty"`
	BotID       string `json:"botId,omitempty"`
	PlayerColor string `json:"playerColor,omitempty"`
}

// Move attempts a move. Squares are lowercase algebraic; Promotion is one of
// QUEEN, ROOK, BISHOP, KNIGHT, or absent.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Resign resigns the game.
type Resign struct{}

// OfferDraw offers a draw to the opponent.
type OfferDraw struct{}

// AcceptDraw accepts the opponent's pending draw offer.
type AcceptDraw struct{}

// RejectDraw declines the opponent's pending draw offer.
type RejectDraw struct{}

func (*JoinQueue) inbound()  {}
func (*Move) inbound()       {}
func (*Resign) inbound()     {}
func (*OfferDraw) inbound()  {}
func (*AcceptDraw) inbound() {}
func (*RejectDraw) inbound() {}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func validPromotion(s string) bool {
	switch s {
	case "", "QUEEN", "ROOK", "BISHOP", "KNIGHT":
		return true
	}
	return false
}

func validSide(s string) bool {
	switch s {
	case "", "WHITE", "BLACK":
		return true
	}
	return false
}

// Decode parses one client message. Malformed JSON, a missing type tag or
// missing required fields yield ErrInvalidMessage; a well-formed message of
// a kind this server does not speak yields ErrUnknownType.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}

	switch env.Type {
	case TypeJoinQueue:
		var m JoinQueue
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if !validSide(m.PlayerColor) {
			return nil, fmt.Errorf("%w: playerColor %q", ErrInvalidMessage, m.PlayerColor)
		}
		return &m, nil

	case TypeMove:
		var m Move
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if !validSquare(m.From) {
			return nil, fmt.Errorf("%w: from %q", ErrInvalidMessage, m.From)
		}
		if !validSquare(m.To) {
			return nil, fmt.Errorf("%w: to %q", ErrInvalidMessage, m.To)
		}
		if !validPromotion(m.Promotion) {
			return nil, fmt.Errorf("%w: promotion %q", ErrInvalidMessage, m.Promotion)
		}
		return &m, nil

	case TypeResign:
		return &Resign{}, nil
	case TypeOfferDraw:
		return &OfferDraw{}, nil
	case TypeAcceptDraw:
		return &AcceptDraw{}, nil
	case TypeRejectDraw:
		return &RejectDraw{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// Outbound is a server message. Kind returns the wire type tag.
type Outbound interface {
	Kind() string
}

// MoveInfo is the wire form of a played move.
type MoveInfo struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// AuthSuccess confirms authentication; sent before any domain message.
type AuthSuccess struct {
	UserID string `json:"userId"`
}

// AuthFailed reports a rejected connection; the connection closes after it.
type AuthFailed struct {
	Reason string `json:"reason"`
}

// QueuePosition reports the caller's place in the matchmaking queue.
type QueuePosition struct {
	Position int `json:"position"`
}

// MatchFound announces a pairing to one of its participants.
type MatchFound struct {
	GameID         string `json:"gameId"`
	YourColor      string `json:"yourColor"`
	PlayerID       string `json:"playerId"`
	OpponentUserID string `json:"opponentUserId,omitempty"`
}

// MatchmakingError reports a failed matchmaking request to its sender.
type MatchmakingError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GameState is the full state sync sent to a session when it attaches.
type GameState struct {
	GameID        string     `json:"gameId"`
	FEN           string     `json:"fen"`
	MoveHistory   []MoveInfo `json:"moveHistory"`
	Status        string     `json:"status"`
	CurrentSide   string     `json:"currentSide"`
	WhitePlayerID string     `json:"whitePlayerId"`
	BlackPlayerID string     `json:"blackPlayerId"`
}

// MoveExecuted broadcasts a committed move.
type MoveExecuted struct {
	Move        MoveInfo `json:"move"`
	FEN         string   `json:"fen"`
	Status      string   `json:"status"`
	CurrentSide string   `json:"currentSide"`
	IsCheck     bool     `json:"isCheck"`
}

// MoveRejected reports a refused move to its sender only.
type MoveRejected struct {
	Reason string `json:"reason"`
}

// GameResigned broadcasts a resignation.
type GameResigned struct {
	ResignedPlayerID string `json:"resignedPlayerId"`
	Status           string `json:"status"`
}

// DrawOffered tells the opponent a draw has been offered.
type DrawOffered struct {
	OfferedByPlayerID string `json:"offeredByPlayerId"`
}

// DrawAccepted broadcasts an accepted draw; the game is over.
type DrawAccepted struct {
	AcceptedByPlayerID string `json:"acceptedByPlayerId"`
	Status             string `json:"status"`
}

// DrawRejected tells the offerer the draw was declined.
type DrawRejected struct {
	RejectedByPlayerID string `json:"rejectedByPlayerId"`
}

// PlayerDisconnected tells remaining sessions a player's connection dropped.
type PlayerDisconnected struct {
	PlayerID string `json:"playerId"`
}

// PlayerReconnected tells other sessions a player's seat was re-taken.
type PlayerReconnected struct {
	PlayerID string `json:"playerId"`
}

// Error reports a failure to the offending sender; no state has changed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (AuthSuccess) Kind() string        { return TypeAuthSuccess }
func (AuthFailed) Kind() string         { return TypeAuthFailed }
func (QueuePosition) Kind() string      { return TypeQueuePosition }
func (MatchFound) Kind() string         { return TypeMatchFound }
func (MatchmakingError) Kind() string   { return TypeMatchmakingError }
func (GameState) Kind() string          { return TypeGameState }
func (MoveExecuted) Kind() string       { return TypeMoveExecuted }
func (MoveRejected) Kind() string       { return TypeMoveRejected }
func (GameResigned) Kind() string       { return TypeGameResigned }
func (DrawOffered) Kind() string        { return TypeDrawOffered }
func (DrawAccepted) Kind() string       { return TypeDrawAccepted }
func (DrawRejected) Kind() string       { return TypeDrawRejected }
func (PlayerDisconnected) Kind() string { return TypePlayerDisconnected }
func (PlayerReconnected) Kind() string  { return TypePlayerReconnected }
func (Error) Kind() string              { return TypeError }

// Encode serializes an outbound message, splicing the type tag in.
func Encode(msg Outbound) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	payload["type"] = msg.Kind()
	return json.Marshal(payload)
}
