// Package storage persists games, users and per-user statistics in BadgerDB.
// Values are JSON; move rows use a big-endian sequence suffix so that a
// prefix iteration yields them in play order.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
)

// Key prefixes.
const (
	prefixGame     = "game:"
	prefixMove     = "move:"
	prefixUser     = "user:"
	prefixUsername = "username:"
	prefixStats    = "stats:"
)

// ErrUsernameTaken is returned when registering a username that exists.
var ErrUsernameTaken = errors.New("username already taken")

// Store wraps a BadgerDB instance.
type Store struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open opens (or creates) the database in dir.
func Open(dir string, log *logrus.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Badger's own logging is too chatty for a server log

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	return &Store{
		db:  db,
		log: log.WithField("component", "storage"),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func gameKey(id game.GameID) []byte {
	return []byte(prefixGame + id.String())
}

func movePrefix(id game.GameID) []byte {
	return []byte(prefixMove + id.String() + ":")
}

func moveKey(id game.GameID, seq int) []byte {
	key := movePrefix(id)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return append(key, buf[:]...)
}

func userKey(id game.UserID) []byte {
	return []byte(prefixUser + id.String())
}

func usernameKey(name string) []byte {
	return []byte(prefixUsername + name)
}

func statsKey(id game.UserID) []byte {
	return []byte(prefixStats + id.String())
}

// gameRecord is the stored form of a game aggregate. The position travels as
// the initial FEN plus the ordered move rows; the current FEN is denormalized
// for external readers.
type gameRecord struct {
	ID            string    `json:"id"`
	WhiteUserID   string    `json:"whiteUserId"`
	BlackUserID   string    `json:"blackUserId"`
	WhitePlayerID string    `json:"whitePlayerId"`
	BlackPlayerID string    `json:"blackPlayerId"`
	InitialFEN    string    `json:"initialFen"`
	FEN           string    `json:"fen"`
	CurrentSide   string    `json:"currentSide"`
	Status        string    `json:"status"`
	DrawOffer     string    `json:"drawOffer,omitempty"`
	MoveCount     int       `json:"moveCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// moveRecord is one stored move row.
type moveRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Promotion string    `json:"promotion,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveGame writes the game record and its move rows in one transaction.
func (s *Store) SaveGame(ctx context.Context, g *game.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	saved := g.Saved()
	rec := gameRecord{
		ID:            saved.ID.String(),
		WhiteUserID:   saved.White.UserID.String(),
		BlackUserID:   saved.Black.UserID.String(),
		WhitePlayerID: saved.White.ID.String(),
		BlackPlayerID: saved.Black.ID.String(),
		InitialFEN:    saved.InitialFEN,
		FEN:           g.FEN(),
		CurrentSide:   game.SideName(g.CurrentSide()),
		Status:        saved.Status.String(),
		MoveCount:     len(saved.History),
		CreatedAt:     saved.CreatedAt,
		UpdatedAt:     saved.UpdatedAt,
	}
	if saved.DrawOffer != board.NoColor {
		rec.DrawOffer = game.SideName(saved.DrawOffer)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(gameKey(saved.ID), data); err != nil {
			return err
		}
		for i, mr := range saved.History {
			row := moveRecord{
				From:      mr.Move.From.String(),
				To:        mr.Move.To.String(),
				Promotion: game.PromotionName(mr.Move.Promotion),
				CreatedAt: mr.PlayedAt,
			}
			val, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := txn.Set(moveKey(saved.ID, i), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindGame loads a game and replays its move history. A missing game returns
// (nil, nil).
func (s *Store) FindGame(ctx context.Context, id game.GameID) (*game.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec gameRecord
	var rows []moveRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(gameKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = movePrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var row moveRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, nil
	}

	return restoreGame(rec, rows)
}

func restoreGame(rec gameRecord, rows []moveRecord) (*game.Game, error) {
	status, err := game.ParseStatus(rec.Status)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", rec.ID, err)
	}

	drawOffer := board.NoColor
	if rec.DrawOffer != "" {
		drawOffer, err = game.ParseSide(rec.DrawOffer)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", rec.ID, err)
		}
	}

	history := make([]game.MoveRecord, 0, len(rows))
	for i, row := range rows {
		from, err := board.ParseSquare(row.From)
		if err != nil {
			return nil, fmt.Errorf("game %s move %d: %w", rec.ID, i+1, err)
		}
		to, err := board.ParseSquare(row.To)
		if err != nil {
			return nil, fmt.Errorf("game %s move %d: %w", rec.ID, i+1, err)
		}
		promo, err := game.ParsePromotion(row.Promotion)
		if err != nil {
			return nil, fmt.Errorf("game %s move %d: %w", rec.ID, i+1, err)
		}
		history = append(history, game.MoveRecord{
			Move:     game.Move{From: from, To: to, Promotion: promo},
			PlayedAt: row.CreatedAt,
		})
	}

	return game.Restore(game.Saved{
		ID:         game.GameID(rec.ID),
		White:      game.Player{ID: game.PlayerID(rec.WhitePlayerID), UserID: game.UserID(rec.WhiteUserID), Side: board.White},
		Black:      game.Player{ID: game.PlayerID(rec.BlackPlayerID), UserID: game.UserID(rec.BlackUserID), Side: board.Black},
		InitialFEN: rec.InitialFEN,
		Status:     status,
		DrawOffer:  drawOffer,
		History:    history,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	})
}
