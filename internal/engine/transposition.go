package engine

import (
	"sync/atomic"

	"github.com/tantabus/engine/internal/board"
)

// TTFlag indicates the type of bound stored in the transposition table.
type TTFlag uint8

const (
	TTExact      TTFlag = iota // Exact score
	TTLowerBound               // Failed high (beta cutoff)
	TTUpperBound               // Failed low
)

// TTEntry is the decoded view of a transposition table slot.
type TTEntry struct {
	Key      uint32     // Upper 32 bits of Zobrist hash for verification
	BestMove board.Move // Best move found
	Score    int16      // Score (bounded by flag)
	Depth    int8       // Search depth
	Flag     TTFlag     // Type of bound
	Age      uint8      // Generation, carried but not used to gate replacement
}

// packedEntry is the lockless-safe physical layout of one slot. A slot is
// two independently-atomic uint64 halves: data and key^data. A probe that
// recomputes storedKey^storedData and finds it equal to the search key knows
// both halves were written together as a pair, even if a concurrent writer
// tore the two stores apart - the XOR trick from spec 4.B.
//
//	data bit layout (LSB first):
//	  bits 0..15   BestMove  (uint16)
//	  bits 16..31  Score     (int16, stored as uint16)
//	  bits 32..39  Depth     (int8, stored as uint8)
//	  bits 40..41  Flag      (2 bits)
//	  bits 42..49  Age       (uint8)
type packedEntry struct {
	data    atomic.Uint64
	keyXor  atomic.Uint64 // storedKey ^ data, where storedKey is the full 64-bit hash
}

func packData(bestMove board.Move, score int16, depth int8, flag TTFlag, age uint8) uint64 {
	var d uint64
	d |= uint64(uint16(bestMove))
	d |= uint64(uint16(score)) << 16
	d |= uint64(uint8(depth)) << 32
	d |= uint64(flag&0x3) << 40
	d |= uint64(age) << 42
	return d
}

func unpackData(d uint64) (move board.Move, score int16, depth int8, flag TTFlag, age uint8) {
	move = board.Move(uint16(d))
	score = int16(uint16(d >> 16))
	depth = int8(uint8(d >> 32))
	flag = TTFlag((d >> 40) & 0x3)
	age = uint8(d >> 42)
	return
}

// TranspositionTable is a lock-free, shared hash table mapping Zobrist keys
// to search results. Workers in a Lazy-SMP search read and write the same
// table concurrently with no locks; per-slot consistency comes entirely from
// the XOR trick, not from synchronization.
type TranspositionTable struct {
	entries []packedEntry
	size    uint64
	mask    uint64
	age     atomic.Uint32

	hits   atomic.Uint64
	probes atomic.Uint64
}

// NewTranspositionTable creates a transposition table with the given size in MB.
func NewTranspositionTable(sizeMB int) *TranspositionTable {
	if sizeMB < 1 {
		sizeMB = 1
	}
	const entrySize = uint64(16) // two uint64 halves
	numEntries := (uint64(sizeMB) * 1024 * 1024) / entrySize
	numEntries = roundDownToPowerOf2(numEntries)
	if numEntries == 0 {
		numEntries = 1
	}

	return &TranspositionTable{
		entries: make([]packedEntry, numEntries),
		size:    numEntries,
		mask:    numEntries - 1,
	}
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// Probe looks up a position. A miss is reported whenever the XOR check
// fails, which also covers empty slots (both halves zero never matches a
// non-zero key).
func (tt *TranspositionTable) Probe(hash uint64) (TTEntry, bool) {
	tt.probes.Add(1)

	idx := hash & tt.mask
	slot := &tt.entries[idx]

	data := slot.data.Load()
	keyXor := slot.keyXor.Load()

	if keyXor^data != hash {
		return TTEntry{}, false
	}

	move, score, depth, flag, age := unpackData(data)
	tt.hits.Add(1)
	return TTEntry{
		Key:      uint32(hash >> 32),
		BestMove: move,
		Score:    score,
		Depth:    depth,
		Flag:     flag,
		Age:      age,
	}, true
}

// Store unconditionally overwrites the slot (Always Replace, per spec 4.B).
// Age is carried through but does not currently gate replacement.
func (tt *TranspositionTable) Store(hash uint64, depth int, score int, flag TTFlag, bestMove board.Move) {
	idx := hash & tt.mask
	slot := &tt.entries[idx]

	data := packData(bestMove, int16(score), int8(depth), flag, uint8(tt.age.Load()))

	// Write data first, then the XOR-tagged key. A concurrent reader that
	// observes a torn pair (old key half, new data half, or vice versa)
	// computes a keyXor^data that does not equal any real hash with
	// overwhelming probability, so it reports a miss instead of garbage.
	slot.data.Store(data)
	slot.keyXor.Store(hash ^ data)
}

// NewSearch bumps the age counter at the start of a new top-level search.
func (tt *TranspositionTable) NewSearch() {
	tt.age.Add(1)
}

// Clear zeroes every slot, used on ucinewgame or a Hash resize.
func (tt *TranspositionTable) Clear() {
	for i := range tt.entries {
		tt.entries[i].data.Store(0)
		tt.entries[i].keyXor.Store(0)
	}
	tt.age.Store(0)
	tt.hits.Store(0)
	tt.probes.Store(0)
}

// HashFull samples the first 1000 entries and reports permille occupancy.
func (tt *TranspositionTable) HashFull() int {
	sampleSize := 1000
	if uint64(sampleSize) > tt.size {
		sampleSize = int(tt.size)
	}
	if sampleSize == 0 {
		return 0
	}

	used := 0
	for i := 0; i < sampleSize; i++ {
		if tt.entries[i].data.Load() != 0 || tt.entries[i].keyXor.Load() != 0 {
			used++
		}
	}

	return (used * 1000) / sampleSize
}

// HitRate returns the cache hit rate as a percentage.
func (tt *TranspositionTable) HitRate() float64 {
	probes := tt.probes.Load()
	if probes == 0 {
		return 0
	}
	return float64(tt.hits.Load()) / float64(probes) * 100
}

// Size returns the number of slots in the table.
func (tt *TranspositionTable) Size() uint64 {
	return tt.size
}

// AdjustScoreFromTT converts a ply-relative mate score read from the table
// back into a score relative to the current search root.
func AdjustScoreFromTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score - ply
	}
	if score < -MateScore+MaxPly {
		return score + ply
	}
	return score
}

// AdjustScoreToTT converts a root-relative mate score into the ply-relative
// encoding stored in the table, so hits from other subtrees at other plies
// decode to the correct distance-to-mate.
func AdjustScoreToTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score + ply
	}
	if score < -MateScore+MaxPly {
		return score - ply
	}
	return score
}
