// Package nnue implements NNUE (Efficiently Updatable Neural Network) evaluation.
package nnue

import "github.com/tantabus/engine/internal/board"

// Flat network architecture: (768 -> 128) x 2 -> 1. Features are one-hot
// (piece color, piece type, square) per perspective - there is no
// king-relative bucketing, so every move (including king moves) applies to
// the accumulator incrementally; only the initial position needs a full compute.
const (
	NumPieceTypes = 6 // Pawn..King
	NumColors     = 2
	NumSquares    = 64

	FeatureSize = NumPieceTypes * NumColors * NumSquares // 768

	L1Size     = 128
	OutputSize = 1

	// Quantization constants (bullet-trainer convention).
	QA        = 255 // accumulator clamp ceiling
	QB        = 64  // output layer weight scale
	EvalScale = 400 // centipawn scale applied after dequantization
)

// ClampedReLU clamps an accumulator value to [0, QA] for quantized inference.
func ClampedReLU(x int16) int16 {
	if x < 0 {
		return 0
	}
	if x > QA {
		return QA
	}
	return x
}

// Evaluator is the main NNUE evaluator interface. Each Worker owns its own
// Evaluator so its accumulator stack is never touched by another goroutine;
// the underlying Network (weights) can be shared since it is read-only after load.
type Evaluator struct {
	net   *Network
	stack *AccumulatorStack
}

// NewEvaluator creates an evaluator with its own network loaded from disk.
// If weightsFile is empty, random weights are used (for testing only).
func NewEvaluator(weightsFile string) (*Evaluator, error) {
	net := NewNetwork()

	if weightsFile != "" {
		if err := net.LoadWeights(weightsFile); err != nil {
			return nil, err
		}
	} else {
		net.InitRandom(12345)
	}

	return &Evaluator{
		net:   net,
		stack: NewAccumulatorStack(),
	}, nil
}

// NewEvaluatorSharingNetwork creates an evaluator reusing an already-loaded
// network with a fresh, independent accumulator stack. Used to give every
// Lazy-SMP worker its own evaluator without reloading or duplicating weights.
func NewEvaluatorSharingNetwork(net *Network) *Evaluator {
	return &Evaluator{
		net:   net,
		stack: NewAccumulatorStack(),
	}
}

// Evaluate returns the NNUE evaluation for the position, in centipawns from
// the side to move's perspective.
func (e *Evaluator) Evaluate(pos *board.Position) int {
	acc := e.stack.Current()
	if !acc.Computed {
		acc.ComputeFull(pos, e.net)
	}
	return e.net.Forward(acc, pos.SideToMove)
}

// Push saves accumulator state (call before MakeMove).
func (e *Evaluator) Push() {
	e.stack.Push()
}

// Pop restores accumulator state (call after UnmakeMove).
func (e *Evaluator) Pop() {
	e.stack.Pop()
}

// Refresh forces a full recomputation of the accumulator.
func (e *Evaluator) Refresh(pos *board.Position) {
	e.stack.Current().ComputeFull(pos, e.net)
}

// Update updates the accumulator incrementally for a move.
// Should be called after MakeMove.
func (e *Evaluator) Update(pos *board.Position, m board.Move, captured board.Piece) {
	e.stack.Current().UpdateIncremental(pos, m, captured, e.net)
}

// Reset resets the accumulator stack (for a new search).
func (e *Evaluator) Reset() {
	e.stack.Reset()
}
