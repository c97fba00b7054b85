// Package server exposes the HTTP surface: a dev login endpoint and the
// websocket endpoints for matchmaking, playing and spectating.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
	"github.com/hailam/chessserve/internal/hub"
	"github.com/hailam/chessserve/internal/match"
	"github.com/hailam/chessserve/internal/wire"
)

// Authenticator validates a bearer token into a user id.
type Authenticator interface {
	Authenticate(token string) (game.UserID, error)
}

// TokenIssuer mints tokens for the login endpoint.
type TokenIssuer interface {
	Issue(userID game.UserID, now time.Time) (string, error)
}

// UserRegistrar creates or fetches the user behind a login name.
type UserRegistrar interface {
	Register(ctx context.Context, username string) (game.UserID, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Deps are the server's collaborators, wired in cmd.
type Deps struct {
	Auth       Authenticator
	Issuer     TokenIssuer
	Users      UserRegistrar
	Matchmaker *match.Matchmaker
	Games      *hub.Registry
	Conns      *ConnRegistry
	Clock      Clock
	Log        *logrus.Logger
}

// Server routes HTTP and websocket traffic.
type Server struct {
	deps     Deps
	log      *logrus.Entry
	router   *httprouter.Router
	upgrader websocket.Upgrader
}

// New builds the server and its route table.
func New(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  deps.Log.WithField("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := httprouter.New()
	r.HandlerFunc(http.MethodPost, "/auth/login", s.handleLogin)
	r.HandlerFunc(http.MethodGet, "/healthz", s.handleHealth)
	r.HandlerFunc(http.MethodGet, "/ws/matchmaking", s.handleMatchmaking)
	r.GET("/ws/game/:id", s.handleGame)
	r.GET("/ws/game/:id/spectate", s.handleSpectate)
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// handleLogin issues a token for a username, creating the user on first
// sight. Development convenience, not an identity system.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	userID, err := s.deps.Users.Register(r.Context(), req.Username)
	if err != nil {
		s.log.WithError(err).Error("register user")
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	token, err := s.deps.Issuer.Issue(userID, s.deps.Clock.Now())
	if err != nil {
		s.log.WithError(err).Error("issue token")
		http.Error(w, "token issuance failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(loginResponse{UserID: userID.String(), Token: token})
}

// bearerToken pulls the token from the Authorization header, falling back
// to the token query parameter for browser websocket clients.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authenticate upgrades the connection and runs the token check. On failure
// the client gets one AUTH_FAILED frame before the close; on success the
// session is live, its write pump running, and AUTH_SUCCESS has been queued.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*wsSession, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return nil, false
	}

	userID, err := s.deps.Auth.Authenticate(bearerToken(r))
	if err != nil {
		s.rejectConn(conn, "invalid or missing token")
		return nil, false
	}

	sess := newSession(conn, userID, s.deps.Log)
	go sess.writePump()
	sess.Send(wire.AuthSuccess{UserID: userID.String()})
	return sess, true
}

func (s *Server) rejectConn(conn *websocket.Conn, reason string) {
	data, err := wire.Encode(wire.AuthFailed{Reason: reason})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth failed"))
	_ = conn.Close()
}

// handleMatchmaking serves the queue socket. The connection stays registered
// for the lifetime of the socket so a pairing completed by a later joiner
// can reach this user; dropping the socket leaves the queue.
func (s *Server) handleMatchmaking(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	userID := sess.UserID()

	s.deps.Conns.Add(userID, sess)
	defer func() {
		s.deps.Conns.Remove(userID, sess)
		s.deps.Matchmaker.Leave(userID)
		sess.Close()
	}()

	ctx := r.Context()
	sess.readPump(func(msg wire.Inbound) {
		jq, ok := msg.(*wire.JoinQueue)
		if !ok {
			sess.Send(wire.Error{Code: "INVALID_MESSAGE", Message: "only JOIN_QUEUE is accepted here"})
			return
		}
		s.joinQueue(ctx, sess, jq)
	})
}

func (s *Server) joinQueue(ctx context.Context, sess *wsSession, jq *wire.JoinQueue) {
	var botReq *match.BotRequest
	if jq.Bot || jq.BotID != "" {
		side := board.NoColor
		if jq.PlayerColor != "" {
			side, _ = game.ParseSide(jq.PlayerColor)
		}
		botReq = &match.BotRequest{BotID: game.UserID(jq.BotID), PlayerColor: side}
	}

	res, err := s.deps.Matchmaker.Join(ctx, sess.UserID(), botReq)
	if err != nil {
		sess.Send(wire.MatchmakingError{Code: matchErrorCode(err), Message: err.Error()})
		return
	}
	if res.Matched {
		sess.Send(matchFound(sess.UserID(), res.Match))
		return
	}
	sess.Send(wire.QueuePosition{Position: res.Position})
}

func matchErrorCode(err error) string {
	switch {
	case errors.Is(err, match.ErrAlreadyEnqueued):
		return "ALREADY_ENQUEUED"
	case errors.Is(err, match.ErrUnknownUser):
		return "UNKNOWN_USER"
	}
	return "INTERNAL"
}

// handleGame serves a participant's game socket.
func (s *Server) handleGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.serveGame(w, r, ps.ByName("id"), false)
}

// handleSpectate serves a read-only game socket.
func (s *Server) handleSpectate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.serveGame(w, r, ps.ByName("id"), true)
}

func (s *Server) serveGame(w http.ResponseWriter, r *http.Request, rawID string, spectate bool) {
	gameID, err := game.ParseGameID(rawID)
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	defer sess.Close()

	ctx := r.Context()
	h, err := s.deps.Games.Get(ctx, gameID)
	if err != nil {
		sess.Send(wire.Error{Code: hub.ErrorCode(err), Message: err.Error()})
		return
	}

	if spectate {
		h.AttachSpectator(sess)
	} else {
		if err := h.AttachPlayer(sess.UserID(), sess); err != nil {
			sess.Send(wire.Error{Code: hub.ErrorCode(err), Message: err.Error()})
			return
		}
		s.deps.Matchmaker.ClaimMatch(gameID, sess.UserID())
	}
	defer h.Detach(sess)

	sess.readPump(func(msg wire.Inbound) {
		// The spectate channel is read-only, whoever holds it.
		if spectate {
			sess.Send(wire.Error{Code: "NOT_A_PARTICIPANT", Message: "spectator channel is read-only"})
			return
		}
		s.dispatchGame(ctx, h, sess, msg)
	})
}

func (s *Server) dispatchGame(ctx context.Context, h *hub.Hub, sess *wsSession, msg wire.Inbound) {
	switch m := msg.(type) {
	case *wire.Move:
		mv, err := parseMove(m)
		if err != nil {
			sess.Send(wire.Error{Code: "INVALID_MESSAGE", Message: err.Error()})
			return
		}
		h.Move(ctx, sess, mv)
	case *wire.Resign:
		h.Resign(ctx, sess)
	case *wire.OfferDraw:
		h.OfferDraw(ctx, sess)
	case *wire.AcceptDraw:
		h.AcceptDraw(ctx, sess)
	case *wire.RejectDraw:
		h.RejectDraw(ctx, sess)
	default:
		sess.Send(wire.Error{Code: "INVALID_MESSAGE", Message: "unsupported on game socket"})
	}
}

func parseMove(m *wire.Move) (game.Move, error) {
	from, err := board.ParseSquare(m.From)
	if err != nil {
		return game.Move{}, err
	}
	to, err := board.ParseSquare(m.To)
	if err != nil {
		return game.Move{}, err
	}
	promo, err := game.ParsePromotion(m.Promotion)
	if err != nil {
		return game.Move{}, err
	}
	return game.Move{From: from, To: to, Promotion: promo}, nil
}
