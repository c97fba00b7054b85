package game

import "fmt"

// Status is the lifecycle state of a game. A game starts InProgress and ends
// in exactly one terminal state; terminal games reject every mutation.
type Status uint8

const (
	InProgress Status = iota
	Checkmate
	Stalemate
	Draw
	ResignedWhite
	ResignedBlack
)

var statusNames = [...]string{
	InProgress:    "IN_PROGRESS",
	Checkmate:     "CHECKMATE",
	Stalemate:     "STALEMATE",
	Draw:          "DRAW",
	ResignedWhite: "RESIGNED_WHITE",
	ResignedBlack: "RESIGNED_BLACK",
}

// String returns the wire name of the status.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// Terminal returns true once the game can no longer be mutated.
func (s Status) Terminal() bool {
	return s != InProgress
}

// ParseStatus converts a wire status name back to a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return Status(s), nil
		}
	}
	return InProgress, fmt.Errorf("invalid status %q", name)
}
