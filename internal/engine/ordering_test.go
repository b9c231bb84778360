package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tantabus/engine/internal/board"
)

// TestHistorySaturation is spec 8 property 6: after an arbitrary sequence of
// bonus/malus gravity updates, every history entry stays within
// [-HistMax, HistMax].
func TestHistorySaturation(t *testing.T) {
	mo := NewMoveOrderer()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50000; i++ {
		from := board.Square(rng.Intn(64))
		to := board.Square(rng.Intn(64))
		m := board.NewMove(from, to)
		depth := rng.Intn(32) + 1
		isGood := rng.Intn(2) == 0

		mo.UpdateHistory(m, depth, isGood)

		h := mo.history[from][to]
		assert.GreaterOrEqual(t, h, -HistMax)
		assert.LessOrEqual(t, h, HistMax)
	}
}

// TestHistoryGravityConverges checks that repeated identical bonuses
// asymptote toward +HistMax rather than overflow or oscillate past it.
func TestHistoryGravityConverges(t *testing.T) {
	mo := NewMoveOrderer()
	m := board.NewMove(board.E2, board.E4)

	for i := 0; i < 1000; i++ {
		mo.UpdateHistory(m, 31, true) // near-maximal bonus every time
	}

	assert.LessOrEqual(t, mo.GetHistoryScore(m), HistMax)
	assert.Greater(t, mo.GetHistoryScore(m), HistMax/2, "repeated max bonus should converge close to the ceiling")
}

// TestUpdateKillersDedupAndShift exercises spec 4.C: a new cutoff move is
// inserted at slot 0 and the previous slot-0 occupant shifts to slot 1;
// re-inserting the current slot-0 move is a no-op, not a duplicate.
func TestUpdateKillersDedupAndShift(t *testing.T) {
	mo := NewMoveOrderer()
	ply := 3

	m1 := board.NewMove(board.E2, board.E4)
	m2 := board.NewMove(board.D2, board.D4)

	mo.UpdateKillers(m1, ply)
	assert.Equal(t, m1, mo.killers[ply][0])
	assert.Equal(t, board.NoMove, mo.killers[ply][1])

	mo.UpdateKillers(m2, ply)
	assert.Equal(t, m2, mo.killers[ply][0])
	assert.Equal(t, m1, mo.killers[ply][1])

	// Re-inserting the current first killer must not duplicate it into slot 1.
	mo.UpdateKillers(m2, ply)
	assert.Equal(t, m2, mo.killers[ply][0])
	assert.Equal(t, m1, mo.killers[ply][1])
}

// TestMoveOrderingLegalStartpos is spec 8 property 8 (partial): the moves
// scored for the starting position contain no duplicates, and the TT move
// gets TTMoveScore while every other move scores strictly below it.
func TestMoveOrderingLegalStartpos(t *testing.T) {
	pos := board.NewPosition()
	moves := pos.GenerateLegalMoves()

	mo := NewMoveOrderer()
	ttMove := moves.Get(0)
	scores := mo.ScoreMoves(pos, moves, 0, ttMove)

	seen := make(map[board.Move]bool, moves.Len())
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		assert.False(t, seen[m], "move picker scored the same move twice")
		seen[m] = true
	}

	for i := 0; i < moves.Len(); i++ {
		if moves.Get(i) == ttMove {
			assert.Equal(t, TTMoveScore, scores[i])
		} else {
			assert.Less(t, scores[i], TTMoveScore)
		}
	}
}
