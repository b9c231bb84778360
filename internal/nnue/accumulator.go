package nnue

import "github.com/tantabus/engine/internal/board"

// Accumulator stores the hidden-layer values for both perspectives.
type Accumulator struct {
	White [L1Size]int16
	Black [L1Size]int16

	Computed bool
}

// AccumulatorStack manages accumulators across the search tree. Push/Pop
// track the stack alongside MakeMove/UnmakeMove so incremental updates never
// need to be undone explicitly.
type AccumulatorStack struct {
	stack [MaxStackDepth]Accumulator
	top   int
}

// MaxStackDepth bounds the accumulator stack; matches engine.MaxPly.
const MaxStackDepth = 128

// NewAccumulatorStack creates a new accumulator stack.
func NewAccumulatorStack() *AccumulatorStack {
	return &AccumulatorStack{}
}

// Push saves current accumulator state.
func (s *AccumulatorStack) Push() {
	if s.top < MaxStackDepth-1 {
		s.stack[s.top+1] = s.stack[s.top]
		s.top++
	}
}

// Pop restores previous accumulator state.
func (s *AccumulatorStack) Pop() {
	if s.top > 0 {
		s.top--
	}
}

// Current returns the current accumulator.
func (s *AccumulatorStack) Current() *Accumulator {
	return &s.stack[s.top]
}

// Reset resets the stack to its initial state.
func (s *AccumulatorStack) Reset() {
	s.top = 0
	s.stack[0].Computed = false
}

// ComputeFull computes the accumulator from scratch for a position.
func (acc *Accumulator) ComputeFull(pos *board.Position, net *Network) {
	whiteFeatures, blackFeatures := GetActiveFeatures(pos)

	copy(acc.White[:], net.L1Bias[:])
	copy(acc.Black[:], net.L1Bias[:])

	for _, idx := range whiteFeatures {
		addFeature(&acc.White, net, idx)
	}
	for _, idx := range blackFeatures {
		addFeature(&acc.Black, net, idx)
	}

	acc.Computed = true
}

// UpdateIncremental updates the accumulator for a move in O(#changed
// features). The flat architecture has no king-relative buckets, so this is
// always valid - king moves and castling are handled the same as any other move.
// Should be called after the move has been made on the position.
func (acc *Accumulator) UpdateIncremental(pos *board.Position, m board.Move, captured board.Piece, net *Network) {
	if !acc.Computed {
		acc.ComputeFull(pos, net)
		return
	}

	whiteAdd, whiteRem, blackAdd, blackRem := GetChangedFeatures(pos, m, captured)

	for _, idx := range whiteRem {
		subFeature(&acc.White, net, idx)
	}
	for _, idx := range blackRem {
		subFeature(&acc.Black, net, idx)
	}
	for _, idx := range whiteAdd {
		addFeature(&acc.White, net, idx)
	}
	for _, idx := range blackAdd {
		addFeature(&acc.Black, net, idx)
	}
}

func addFeature(half *[L1Size]int16, net *Network, idx int) {
	if idx < 0 || idx >= FeatureSize {
		return
	}
	for i := 0; i < L1Size; i++ {
		half[i] += net.L1Weights[idx][i]
	}
}

func subFeature(half *[L1Size]int16, net *Network, idx int) {
	if idx < 0 || idx >= FeatureSize {
		return
	}
	for i := 0; i < L1Size; i++ {
		half[i] -= net.L1Weights[idx][i]
	}
}
