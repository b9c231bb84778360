package nnue

import "github.com/tantabus/engine/internal/board"

// Network holds the NNUE weights for the flat (768 -> 128) x 2 -> 1 architecture.
type Network struct {
	// Feature transformer: FeatureSize -> L1Size, shared by both perspectives.
	L1Weights [FeatureSize][L1Size]int16
	L1Bias    [L1Size]int16

	// Output layer: L1Size*2 (both perspectives, stm first) -> 1.
	OutputWeights [L1Size * 2]int16
	OutputBias    int32
}

// NewNetwork creates a network with zero weights (must load weights or init random).
func NewNetwork() *Network {
	return &Network{}
}

// Forward computes the network output given an accumulator. Returns a
// centipawn score from the perspective of the side to move.
func (n *Network) Forward(acc *Accumulator, sideToMove board.Color) int {
	var stmAcc, nstmAcc *[L1Size]int16
	if sideToMove == board.White {
		stmAcc = &acc.White
		nstmAcc = &acc.Black
	} else {
		stmAcc = &acc.Black
		nstmAcc = &acc.White
	}

	var sum int32
	for i := 0; i < L1Size; i++ {
		sum += int32(ClampedReLU(stmAcc[i])) * int32(n.OutputWeights[i])
		sum += int32(ClampedReLU(nstmAcc[i])) * int32(n.OutputWeights[L1Size+i])
	}

	sum += n.OutputBias
	return int(sum * EvalScale / (QA * QB))
}

// InitRandom initializes weights with small random values (for testing only).
func (n *Network) InitRandom(seed int64) {
	state := uint64(seed)
	next := func() int16 {
		state = state*6364136223846793005 + 1442695040888963407
		return int16((state >> 48) & 0xFF) - 128
	}

	for i := 0; i < FeatureSize; i++ {
		for j := 0; j < L1Size; j++ {
			n.L1Weights[i][j] = next() >> 5
		}
	}
	for i := 0; i < L1Size; i++ {
		n.L1Bias[i] = next() >> 3
	}
	for i := 0; i < L1Size*2; i++ {
		n.OutputWeights[i] = next() >> 6
	}
	n.OutputBias = int32(next()) * 100
}
