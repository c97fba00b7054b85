package server

import (
	"sync"

	"github.com/hailam/chessserve/internal/game"
	"github.com/hailam/chessserve/internal/hub"
	"github.com/hailam/chessserve/internal/match"
	"github.com/hailam/chessserve/internal/wire"
)

// ConnRegistry tracks which users hold a live matchmaking connection. It is
// the matchmaker's notifier: the user who joined the queue first learns of
// the pairing through NotifyMatched rather than a Join return value.
type ConnRegistry struct {
	mu    sync.Mutex
	conns map[game.UserID]hub.Session
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[game.UserID]hub.Session)}
}

// Add registers a matchmaking connection, superseding any prior one for the
// same user.
func (r *ConnRegistry) Add(id game.UserID, s hub.Session) {
	r.mu.Lock()
	prior := r.conns[id]
	r.conns[id] = s
	r.mu.Unlock()

	if prior != nil && prior.SID() != s.SID() {
		prior.Close()
	}
}

// Remove drops the connection, unless the seat has already been taken over
// by a newer session.
func (r *ConnRegistry) Remove(id game.UserID, s hub.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[id]; ok && cur.SID() == s.SID() {
		delete(r.conns, id)
	}
}

// Connected implements match.Notifier.
func (r *ConnRegistry) Connected(id game.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// NotifyMatched implements match.Notifier.
func (r *ConnRegistry) NotifyMatched(id game.UserID, m match.Match) {
	r.mu.Lock()
	s := r.conns[id]
	r.mu.Unlock()
	if s == nil {
		return
	}
	s.Send(matchFound(id, m))
}

// matchFound renders a pairing from one participant's point of view.
func matchFound(id game.UserID, m match.Match) wire.MatchFound {
	p, _ := m.PlayerFor(id)
	return wire.MatchFound{
		GameID:         m.GameID.String(),
		YourColor:      game.SideName(p.Side),
		PlayerID:       p.ID.String(),
		OpponentUserID: m.Opponent(id).String(),
	}
}
