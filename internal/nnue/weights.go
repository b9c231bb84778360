package nnue

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Weight file format constants.
const (
	MagicNumber = 0x46524B53 // "FRKS"
	Version     = 2          // flat (768 -> 128) x 2 -> 1 layout
)

// FileHeader is the header of the weight file.
type FileHeader struct {
	Magic   uint32
	Version uint32
	L1Size  uint32
}

// LoadWeights loads network weights from a binary file.
// File format:
//   - Header: Magic (4 bytes), Version (4 bytes), L1Size (4 bytes)
//   - L1Weights: FeatureSize * L1Size * int16
//   - L1Bias: L1Size * int16
//   - OutputWeights: L1Size*2 * int16
//   - OutputBias: int32
func (n *Network) LoadWeights(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("nnue: open weights file: %w", err)
	}
	defer f.Close()

	return n.LoadWeightsFromReader(f)
}

// SaveWeights saves network weights to a binary file.
func (n *Network) SaveWeights(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("nnue: create weights file: %w", err)
	}
	defer f.Close()

	header := FileHeader{
		Magic:   MagicNumber,
		Version: Version,
		L1Size:  L1Size,
	}
	if err := binary.Write(f, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("nnue: write header: %w", err)
	}
	for i := 0; i < FeatureSize; i++ {
		if err := binary.Write(f, binary.LittleEndian, &n.L1Weights[i]); err != nil {
			return fmt.Errorf("nnue: write L1 weights at %d: %w", i, err)
		}
	}
	if err := binary.Write(f, binary.LittleEndian, &n.L1Bias); err != nil {
		return fmt.Errorf("nnue: write L1 bias: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, &n.OutputWeights); err != nil {
		return fmt.Errorf("nnue: write output weights: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, &n.OutputBias); err != nil {
		return fmt.Errorf("nnue: write output bias: %w", err)
	}

	return nil
}

// LoadWeightsFromReader loads network weights from an io.Reader.
func (n *Network) LoadWeightsFromReader(r io.Reader) error {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("nnue: read header: %w", err)
	}
	if header.Magic != MagicNumber {
		return fmt.Errorf("nnue: invalid magic number: expected %x, got %x", MagicNumber, header.Magic)
	}
	if header.Version != Version {
		return fmt.Errorf("nnue: unsupported version: expected %d, got %d", Version, header.Version)
	}
	if header.L1Size != L1Size {
		return fmt.Errorf("nnue: L1 size mismatch: expected %d, got %d", L1Size, header.L1Size)
	}

	for i := 0; i < FeatureSize; i++ {
		if err := binary.Read(r, binary.LittleEndian, &n.L1Weights[i]); err != nil {
			return fmt.Errorf("nnue: read L1 weights at %d: %w", i, err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &n.L1Bias); err != nil {
		return fmt.Errorf("nnue: read L1 bias: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n.OutputWeights); err != nil {
		return fmt.Errorf("nnue: read output weights: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n.OutputBias); err != nil {
		return fmt.Errorf("nnue: read output bias: %w", err)
	}

	return nil
}
