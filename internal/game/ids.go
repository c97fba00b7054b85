package game

import (
	"crypto/rand"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// The three identifier kinds are distinct string types so a UserID can never
// be passed where a GameID is expected. All are 26-character Crockford
// base32 ULIDs, lexicographically ordered by creation time.
type (
	// UserID identifies a durable user account.
	UserID string

	// PlayerID identifies one participation in one game. A new PlayerID is
	// minted every time a user enters a game.
	PlayerID string

	// GameID identifies a game.
	GameID string
)

// entropy feeds all ID generation. The monotonic reader keeps IDs minted in
// the same millisecond ordered; the lock makes it safe for concurrent use.
var entropy = &ulid.LockedMonotonicReader{
	MonotonicReader: ulid.Monotonic(rand.Reader, 0),
}

func newULID() string {
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// NewUserID mints a fresh user identifier.
func NewUserID() UserID { return UserID(newULID()) }

// NewPlayerID mints a fresh player identifier.
func NewPlayerID() PlayerID { return PlayerID(newULID()) }

// NewGameID mints a fresh game identifier.
func NewGameID() GameID { return GameID(newULID()) }

func (id UserID) String() string   { return string(id) }
func (id PlayerID) String() string { return string(id) }
func (id GameID) String() string   { return string(id) }

// ParseUserID validates the encoding and returns the typed identifier.
func ParseUserID(s string) (UserID, error) {
	if err := checkULID(s); err != nil {
		return "", fmt.Errorf("user id: %w", err)
	}
	return UserID(s), nil
}

// ParsePlayerID validates the encoding and returns the typed identifier.
func ParsePlayerID(s string) (PlayerID, error) {
	if err := checkULID(s); err != nil {
		return "", fmt.Errorf("player id: %w", err)
	}
	return PlayerID(s), nil
}

// ParseGameID validates the encoding and returns the typed identifier.
func ParseGameID(s string) (GameID, error) {
	if err := checkULID(s); err != nil {
		return "", fmt.Errorf("game id: %w", err)
	}
	return GameID(s), nil
}

func checkULID(s string) error {
	if _, err := ulid.ParseStrict(s); err != nil {
		return fmt.Errorf("invalid identifier %q: %w", s, err)
	}
	return nil
}
