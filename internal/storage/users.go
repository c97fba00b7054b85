package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hailam/chessserve/internal/game"
)

// User is a registered account. Bots are users with IsBot set.
type User struct {
	ID        game.UserID `json:"id"`
	Username  string      `json:"username"`
	IsBot     bool        `json:"isBot"`
	CreatedAt time.Time   `json:"createdAt"`
}

// CreateUser registers a new user with a unique username.
func (s *Store) CreateUser(ctx context.Context, username string, isBot bool, now time.Time) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := &User{
		ID:        game.NewUserID(),
		Username:  username,
		IsBot:     isBot,
		CreatedAt: now,
	}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(usernameKey(username))
		if err == nil {
			return ErrUsernameTaken
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(userKey(u.ID), data); err != nil {
			return err
		}
		return txn.Set(usernameKey(username), []byte(u.ID))
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UserByName looks a user up through the username index. A missing user
// returns (nil, nil).
func (s *Store) UserByName(ctx context.Context, username string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var id game.UserID
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(username))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = game.UserID(val)
			return nil
		})
	})
	if err != nil || id == "" {
		return nil, err
	}
	return s.UserByID(ctx, id)
}

// UserByID loads a user record. A missing user returns (nil, nil).
func (s *Store) UserByID(ctx context.Context, id game.UserID) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var u *User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			u = &User{}
			return json.Unmarshal(val, u)
		})
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureUser returns the user with the given name, creating it when absent.
func (s *Store) EnsureUser(ctx context.Context, username string, isBot bool, now time.Time) (*User, error) {
	u, err := s.UserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	return s.CreateUser(ctx, username, isBot, now)
}

// Exists reports whether a user id is registered.
func (s *Store) Exists(ctx context.Context, id game.UserID) (bool, error) {
	u, err := s.UserByID(ctx, id)
	if err != nil {
		return false, err
	}
	return u != nil, nil
}

// IsBot reports whether the user id belongs to a bot account. Lookup
// failures are logged and read as "not a bot".
func (s *Store) IsBot(id game.UserID) bool {
	u, err := s.UserByID(context.Background(), id)
	if err != nil {
		s.log.WithError(err).WithField("userId", id).Warn("bot lookup failed")
		return false
	}
	return u != nil && u.IsBot
}
