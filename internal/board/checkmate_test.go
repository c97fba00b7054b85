package board

import "testing"

func TestMatePositions(t *testing.T) {
	cases := []struct {
		name    string
		fen     string
		inCheck bool
		mate    bool
	}{
		{
			name:    "back rank mate",
			fen:     "R6k/6pp/8/8/8/8/8/K7 b - - 0 1",
			inCheck: true,
			mate:    true,
		},
		{
			name: "smothered mate",
			// Knight on f7 checks h8; the king's own rook and pawns seal
			// every exit.
			fen:     "6rk/5Npp/8/8/8/8/8/6K1 b - - 0 1",
			inCheck: true,
			mate:    true,
		},
		{
			name:    "queen mate with king support",
			fen:     "7k/6Q1/6K1/8/8/8/8/8 b - - 0 1",
			inCheck: true,
			mate:    true,
		},
		{
			name: "undefended checker can be captured",
			fen:  "7k/7Q/8/8/8/8/8/K7 b - - 0 1",
			inCheck: true,
			mate:    false,
		},
		{
			name: "stalemate is not mate",
			fen:  "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1",
			inCheck: false,
			mate:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos, err := ParseFEN(tc.fen)
			if err != nil {
				t.Fatal(err)
			}
			if got := pos.InCheck(); got != tc.inCheck {
				t.Errorf("InCheck() = %v, want %v", got, tc.inCheck)
			}
			if got := pos.IsCheckmate(); got != tc.mate {
				t.Errorf("IsCheckmate() = %v, want %v", got, tc.mate)
			}
		})
	}
}

func TestMateLeavesNoLegalMoves(t *testing.T) {
	pos, err := ParseFEN("6rk/5Npp/8/8/8/8/8/6K1 b - - 0 1")
	if err != nil {
		t.Fatal(err)
	}
	if n := pos.GenerateLegalMoves().Len(); n != 0 {
		t.Errorf("mated side has %d legal moves, want 0", n)
	}
}
