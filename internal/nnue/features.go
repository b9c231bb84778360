package nnue

import "github.com/tantabus/engine/internal/board"

// FeatureIndex computes the flat feature index for a piece from a given
// perspective. Black's perspective mirrors the square and flips the piece's
// apparent color, so both accumulators are computed over the same feature
// space regardless of which side is actually moving.
func FeatureIndex(perspective board.Color, pieceType board.PieceType, pieceColor board.Color, sq board.Square) int {
	pc := pieceColor
	if perspective == board.Black {
		sq = sq.Mirror()
		pc = pieceColor.Other()
	}

	colorIdx := 0
	if pc == board.Black {
		colorIdx = 1
	}

	return (int(pieceType)*NumColors+colorIdx)*NumSquares + int(sq)
}

// GetActiveFeatures returns all active feature indices for a position from both perspectives.
func GetActiveFeatures(pos *board.Position) (white, black []int) {
	white = make([]int, 0, 32)
	black = make([]int, 0, 32)

	for color := board.White; color <= board.Black; color++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			pieces := pos.Pieces[color][pt]
			for pieces != 0 {
				sq := pieces.PopLSB()
				white = append(white, FeatureIndex(board.White, pt, color, sq))
				black = append(black, FeatureIndex(board.Black, pt, color, sq))
			}
		}
	}

	return white, black
}

// GetChangedFeatures returns the feature indices to add/remove for a move,
// from both perspectives. Every move type - including king moves and
// castling - is handled incrementally; the flat architecture has no
// king-relative buckets to cross.
//
// Castling moves are encoded king-captures-own-rook (From = king's origin,
// To = rook's origin), which by this point has already been applied to pos,
// so neither origin square can be read back off the board to recover the
// piece that stood there. The king/rook from/to squares are derived
// directly from the move instead of via pos.PieceAt.
func GetChangedFeatures(pos *board.Position, m board.Move, captured board.Piece) (
	whiteAdd, whiteRem, blackAdd, blackRem []int) {

	from := m.From()
	to := m.To()

	if m.IsCastling() {
		movingColor := pos.SideToMove.Other()
		kingFrom := from
		rookFrom := to
		rank := kingFrom.Rank()

		kingToFile, rookToFile := 2, 3
		if rookFrom.File() > kingFrom.File() {
			kingToFile, rookToFile = 6, 5
		}
		kingTo := board.NewSquare(kingToFile, rank)
		rookTo := board.NewSquare(rookToFile, rank)

		whiteRem = append(whiteRem, FeatureIndex(board.White, board.King, movingColor, kingFrom))
		blackRem = append(blackRem, FeatureIndex(board.Black, board.King, movingColor, kingFrom))
		whiteAdd = append(whiteAdd, FeatureIndex(board.White, board.King, movingColor, kingTo))
		blackAdd = append(blackAdd, FeatureIndex(board.Black, board.King, movingColor, kingTo))

		whiteRem = append(whiteRem, FeatureIndex(board.White, board.Rook, movingColor, rookFrom))
		blackRem = append(blackRem, FeatureIndex(board.Black, board.Rook, movingColor, rookFrom))
		whiteAdd = append(whiteAdd, FeatureIndex(board.White, board.Rook, movingColor, rookTo))
		blackAdd = append(blackAdd, FeatureIndex(board.Black, board.Rook, movingColor, rookTo))
		return
	}

	movedPiece := pos.PieceAt(to) // piece after the move was made

	if movedPiece == board.NoPiece {
		return
	}

	movingColor := movedPiece.Color()

	// movedPiece reflects the board after MakeMove already applied the
	// move, so on a promotion it is the promoted piece, not the pawn that
	// stood on the origin square. The origin-square feature to remove must
	// be the pre-move piece type (always a pawn for promotions); only the
	// destination-square feature to add uses the promoted type.
	removePT := movedPiece.Type()
	addPT := removePT
	if m.IsPromotion() {
		removePT = board.Pawn
		addPT = m.Promotion()
	}

	whiteRem = append(whiteRem, FeatureIndex(board.White, removePT, movingColor, from))
	blackRem = append(blackRem, FeatureIndex(board.Black, removePT, movingColor, from))
	whiteAdd = append(whiteAdd, FeatureIndex(board.White, addPT, movingColor, to))
	blackAdd = append(blackAdd, FeatureIndex(board.Black, addPT, movingColor, to))

	// The en passant target square is empty before the move, so callers
	// that read the captured piece from it pass NoPiece.
	if m.IsEnPassant() && captured == board.NoPiece {
		captured = board.NewPiece(board.Pawn, movingColor.Other())
	}

	if captured != board.NoPiece && captured.Type() != board.King {
		capturedPT := captured.Type()
		capturedColor := captured.Color()
		capturedSq := to

		if m.IsEnPassant() {
			if movingColor == board.White {
				capturedSq = to - 8
			} else {
				capturedSq = to + 8
			}
		}

		whiteRem = append(whiteRem, FeatureIndex(board.White, capturedPT, capturedColor, capturedSq))
		blackRem = append(blackRem, FeatureIndex(board.Black, capturedPT, capturedColor, capturedSq))
	}

	return
}
