package engine

import (
	"github.com/tantabus/engine/internal/board"
)

// Search bounds.
const (
	Infinity  = 30000
	MateScore = 29000
	MaxPly    = 128
)

// PVTable stores the principal variation collected during one search.
type PVTable struct {
	length [MaxPly]int
	moves  [MaxPly][MaxPly]board.Move
}
