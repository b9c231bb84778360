package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardCastlingRoundTrip(t *testing.T) {
	pos, err := ParseFEN("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	require.NoError(t, err)
	assert.False(t, pos.Chess960, "standard KQkq FEN should not be flagged Chess960")
	assert.Equal(t, H1, pos.RookStartSq[White][Kingside])
	assert.Equal(t, A1, pos.RookStartSq[White][Queenside])

	moves := pos.GenerateLegalMoves()
	var kingside, queenside Move
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if !m.IsCastling() {
			continue
		}
		if m.To() == H1 {
			kingside = m
		} else if m.To() == A1 {
			queenside = m
		}
	}
	require.NotEqual(t, NoMove, kingside, "expected white kingside castle to be legal")
	require.NotEqual(t, NoMove, queenside, "expected white queenside castle to be legal")

	undo := pos.MakeMove(kingside)
	assert.Equal(t, NewPiece(King, White), pos.PieceAt(G1))
	assert.Equal(t, NewPiece(Rook, White), pos.PieceAt(F1))
	assert.Zero(t, pos.CastlingRights&(WhiteKingSideCastle|WhiteQueenSideCastle),
		"castling rights should be cleared for white after castling")

	pos.UnmakeMove(kingside, undo)
	assert.Equal(t, NewPiece(King, White), pos.PieceAt(E1))
	assert.Equal(t, NewPiece(Rook, White), pos.PieceAt(H1))
	assert.NotZero(t, pos.CastlingRights&WhiteKingSideCastle)
	assert.NotZero(t, pos.CastlingRights&WhiteQueenSideCastle)
}

func TestChess960ShredderFENRoundTrip(t *testing.T) {
	pos, err := ParseFEN("rk2r3/pppppppp/8/8/8/8/PPPPPPPP/RK2R3 w EAea - 0 1")
	require.NoError(t, err)
	assert.True(t, pos.Chess960, "Shredder-FEN rights should flag the position Chess960")
	assert.Equal(t, E1, pos.RookStartSq[White][Kingside])
	assert.Equal(t, A1, pos.RookStartSq[White][Queenside])

	fen := pos.ToFEN()
	pos2, err := ParseFEN(fen)
	require.NoError(t, err, "re-parsing round-tripped FEN %q", fen)
	assert.Equal(t, pos.RookStartSq, pos2.RookStartSq, "round trip lost rook start squares")
	assert.Equal(t, pos.CastlingRights, pos2.CastlingRights, "round trip lost castling rights")
}

func TestChess960CastlingKingRookOverlap(t *testing.T) {
	// King on d1, rook on c1: castling queenside moves the rook onto the
	// king's own origin square and the king onto the square the rook occupies.
	pos, err := ParseFEN("2rk4/pppppppp/8/8/8/8/PPPPPPPP/2RK4 w Qq - 0 1")
	require.NoError(t, err)

	moves := pos.GenerateLegalMoves()
	var queenside Move
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.IsCastling() && m.To() == C1 {
			queenside = m
		}
	}
	require.NotEqual(t, NoMove, queenside, "expected white queenside castle to be legal")

	undo := pos.MakeMove(queenside)
	assert.Equal(t, NewPiece(King, White), pos.PieceAt(C1))
	assert.Equal(t, NewPiece(Rook, White), pos.PieceAt(D1))

	pos.UnmakeMove(queenside, undo)
	assert.Equal(t, NewPiece(King, White), pos.PieceAt(D1))
	assert.Equal(t, NewPiece(Rook, White), pos.PieceAt(C1))
}

func TestCastlingBlockedByAttack(t *testing.T) {
	// Black rook on e8 gives check along the e-file, so white may castle on
	// neither side (the king may not castle out of check).
	pos, err := ParseFEN("4r3/8/8/8/8/8/8/R3K2R w KQ - 0 1")
	require.NoError(t, err)
	pos.UpdateCheckers()

	moves := pos.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		assert.False(t, moves.Get(i).IsCastling(), "castling should be illegal while the king is in check")
	}
}

func TestUCIMoveStringCastling(t *testing.T) {
	tests := []struct {
		name     string
		chess960 bool
		want     string
	}{
		{"standard wire notation", false, "e1g1"},
		{"chess960 wire notation", true, "e1h1"},
	}

	m := NewCastling(E1, H1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.UCIMoveString(tt.chess960))
		})
	}
}
