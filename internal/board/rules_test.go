package board

import (
	"strings"
	"testing"
)

// applyLine applies a sequence of UCI moves, failing the test on any illegal move.
func applyLine(t *testing.T, pos *Position, line ...string) *Position {
	t.Helper()
	for _, uci := range line {
		m, err := ParseMove(uci, pos)
		if err != nil {
			t.Fatalf("ParseMove(%s): %v", uci, err)
		}
		if !pos.GenerateLegalMoves().Contains(m) {
			t.Fatalf("move %s not legal in %s", uci, pos.ToFEN())
		}
		pos = pos.Apply(m)
	}
	return pos
}

func TestFoolsMate(t *testing.T) {
	pos := applyLine(t, NewPosition(), "f2f3", "e7e5", "g2g4", "d8h4")

	if !pos.IsCheckmate() {
		t.Error("expected checkmate")
	}
	if pos.SideToMove != White {
		t.Errorf("side to move = %s, want White", pos.SideToMove)
	}
	if !pos.IsKingAttacked(White) {
		t.Error("white king should be attacked")
	}

	fen := pos.ToFEN()
	row1 := fen[:strings.IndexByte(fen, ' ')]
	rows := strings.Split(row1, "/")
	if rows[7] != "RNBQKBNR" {
		t.Errorf("rank 1 placement = %s, want RNBQKBNR", rows[7])
	}
}

func TestScholarsMate(t *testing.T) {
	pos := applyLine(t, NewPosition(),
		"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")

	if !pos.IsCheckmate() {
		t.Error("expected checkmate")
	}
	if pos.IsStalemate() {
		t.Error("checkmate must not be stalemate")
	}
}

func TestStalemate(t *testing.T) {
	// Black king on a8 boxed in by the white queen on b6; not in check.
	pos, err := ParseFEN("k7/8/1Q6/8/8/8/8/4K3 b - - 0 1")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.IsStalemate() {
		t.Error("expected stalemate")
	}
	if pos.IsCheckmate() {
		t.Error("stalemate must not be checkmate")
	}
}

func TestNoLegalMovesImpliesMateOrStalemate(t *testing.T) {
	fens := []string{
		"R6k/6pp/8/8/8/8/8/K7 b - - 0 1", // back rank mate
		"k7/8/1Q6/8/8/8/8/4K3 b - - 0 1", // stalemate
		StartFEN,                         // 20 moves
		"4k3/8/8/4Pp2/8/8/8/4K3 w - f6 0 1",
	}

	for _, fen := range fens {
		pos, err := ParseFEN(fen)
		if err != nil {
			t.Fatal(err)
		}
		empty := pos.GenerateLegalMoves().Len() == 0
		terminal := pos.IsCheckmate() || pos.IsStalemate()
		if empty != terminal {
			t.Errorf("%s: empty=%v terminal=%v", fen, empty, terminal)
		}
	}
}

func TestFiftyMoveRule(t *testing.T) {
	pos, err := ParseFEN("4k3/8/8/8/8/8/8/4K2R w - - 99 80")
	if err != nil {
		t.Fatal(err)
	}
	if pos.IsFiftyMove() {
		t.Error("99 half-moves must not trigger the rule")
	}

	next := pos.Apply(NewMove(H1, H2))
	if next.HalfMoveClock != 100 {
		t.Fatalf("half-move clock = %d, want 100", next.HalfMoveClock)
	}
	if !next.IsFiftyMove() {
		t.Error("100 half-moves must trigger the rule")
	}
}

func TestInsufficientMaterial(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		want bool
	}{
		{"K vs K", "4k3/8/8/8/8/8/8/4K3 w - - 0 1", true},
		{"KB vs K", "4k3/8/8/8/8/8/8/2B1K3 w - - 0 1", true},
		{"KN vs K", "4k3/8/8/8/8/8/8/2N1K3 w - - 0 1", true},
		{"K vs KN", "2n1k3/8/8/8/8/8/8/4K3 w - - 0 1", true},
		{"KB vs KB same color", "2b1k3/8/8/8/8/8/8/4KB2 w - - 0 1", true},
		{"KB vs KB opposite color", "1b2k3/8/8/8/8/8/8/4KB2 w - - 0 1", false},
		{"KNN vs K", "4k3/8/8/8/8/8/8/1NN1K3 w - - 0 1", false},
		{"KN vs KN", "2n1k3/8/8/8/8/8/8/2N1K3 w - - 0 1", false},
		{"KB vs KN", "2n1k3/8/8/8/8/8/8/2B1K3 w - - 0 1", false},
		{"KP vs K", "4k3/8/8/8/8/8/4P3/4K3 w - - 0 1", false},
		{"KR vs K", "4k3/8/8/8/8/8/8/R3K3 w - - 0 1", false},
		{"KQ vs K", "4k3/8/8/8/8/8/8/Q3K3 w - - 0 1", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pos, err := ParseFEN(tc.fen)
			if err != nil {
				t.Fatal(err)
			}
			if got := pos.IsInsufficientMaterial(); got != tc.want {
				t.Errorf("IsInsufficientMaterial() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBishopsSquareColors(t *testing.T) {
	// c8 is light, f1 is light: insufficient. b8 is dark, f1 light: not.
	light, _ := ParseFEN("2b1k3/8/8/8/8/8/8/4KB2 w - - 0 1")
	if squareColor(C8) != squareColor(F1) {
		t.Fatal("test premise wrong: c8 and f1 should share a color")
	}
	if !light.IsInsufficientMaterial() {
		t.Error("same-color bishops should be insufficient")
	}
}

func TestThreefoldRepetition(t *testing.T) {
	pos := NewPosition()
	var history []RepetitionKey

	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}

	for i, uci := range shuffle {
		history = append(history, pos.RepetitionKey())
		m, err := ParseMove(uci, pos)
		if err != nil {
			t.Fatal(err)
		}
		pos = pos.Apply(m)

		got := pos.IsThreefoldRepetition(history)
		want := i == len(shuffle)-1 // only the final return reaches the third occurrence
		if got != want {
			t.Errorf("after %d half-moves: IsThreefoldRepetition = %v, want %v", i+1, got, want)
		}
	}
}

func TestRepetitionKeyIgnoresClocks(t *testing.T) {
	a, _ := ParseFEN("4k3/8/8/8/8/8/8/4K2R w - - 0 1")
	b, _ := ParseFEN("4k3/8/8/8/8/8/8/4K2R w - - 42 90")
	if a.RepetitionKey() != b.RepetitionKey() {
		t.Error("clocks must not affect the repetition key")
	}
}

func TestRepetitionKeyDistinguishesRightsAndEP(t *testing.T) {
	a, _ := ParseFEN("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	b, _ := ParseFEN("r3k2r/8/8/8/8/8/8/R3K2R w - - 0 1")
	if a.RepetitionKey() == b.RepetitionKey() {
		t.Error("castling rights must affect the repetition key")
	}

	c, _ := ParseFEN("4k3/8/8/4Pp2/8/8/8/4K3 w - f6 0 1")
	d, _ := ParseFEN("4k3/8/8/4Pp2/8/8/8/4K3 w - - 0 1")
	if c.RepetitionKey() == d.RepetitionKey() {
		t.Error("en passant target must affect the repetition key")
	}
}
