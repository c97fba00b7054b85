package storage

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/hailam/chessserve/internal/board"
	"github.com/hailam/chessserve/internal/game"
)

// Stats holds per-user lifetime results.
type Stats struct {
	GamesPlayed int `json:"gamesPlayed"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
	Draws       int `json:"draws"`
}

// StatsFor loads a user's statistics, zero-valued when none are recorded.
func (s *Store) StatsFor(ctx context.Context, id game.UserID) (Stats, error) {
	var st Stats
	if err := ctx.Err(); err != nil {
		return st, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statsKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	return st, err
}

// RecordResult updates both participants' statistics from a finished game.
// In-progress games are ignored.
func (s *Store) RecordResult(ctx context.Context, g *game.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var whiteWins, blackWins, draw bool
	switch g.Status {
	case game.Checkmate:
		// The side to move in the final position is the one mated.
		whiteWins = g.CurrentSide() == board.Black
		blackWins = !whiteWins
	case game.Stalemate, game.Draw:
		draw = true
	case game.ResignedWhite:
		blackWins = true
	case game.ResignedBlack:
		whiteWins = true
	default:
		return nil
	}

	return s.db.Update(func(txn *badger.Txn) error {
		update := func(id game.UserID, won bool) error {
			var st Stats
			item, err := txn.Get(statsKey(id))
			if err == nil {
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &st)
				}); err != nil {
					return err
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}

			st.GamesPlayed++
			switch {
			case draw:
				st.Draws++
			case won:
				st.Wins++
			default:
				st.Losses++
			}

			data, err := json.Marshal(st)
			if err != nil {
				return err
			}
			return txn.Set(statsKey(id), data)
		}

		if err := update(g.White.UserID, whiteWins); err != nil {
			return err
		}
		return update(g.Black.UserID, blackWins)
	})
}
