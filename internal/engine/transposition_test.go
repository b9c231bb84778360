package engine

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tantabus/engine/internal/board"
)

// TestTTRoundTrip verifies spec 8 property 1: store then probe returns the
// same tuple, and probing an unrelated key reports a miss.
func TestTTRoundTrip(t *testing.T) {
	tt := NewTranspositionTable(1)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		key := rng.Uint64()
		move := board.Move(rng.Intn(1 << 16))
		score := int16(rng.Intn(60000) - 30000)
		depth := int8(rng.Intn(64))
		flag := TTFlag(rng.Intn(3))

		tt.Store(key, int(depth), int(score), flag, move)

		entry, ok := tt.Probe(key)
		require.True(t, ok, "probe should hit right after store")
		assert.Equal(t, move, entry.BestMove)
		assert.Equal(t, score, entry.Score)
		assert.Equal(t, depth, entry.Depth)
		assert.Equal(t, flag, entry.Flag)

		// A colliding key (same bucket, different hash) must miss since the
		// XOR check recomputes the full 64-bit key.
		other := key ^ (1 << 40)
		if other&tt.mask == key&tt.mask {
			_, hit := tt.Probe(other)
			assert.False(t, hit, "colliding key should not hit this slot's entry")
		}
	}
}

// TestTTEmptySlotMisses confirms a never-written slot reports a miss rather
// than decoding zeroed memory as a valid entry.
func TestTTEmptySlotMisses(t *testing.T) {
	tt := NewTranspositionTable(1)
	_, ok := tt.Probe(0xdeadbeef)
	assert.False(t, ok)
}

// TestTTLocklessConcurrent is spec 8 property 2: many goroutines storing and
// probing random entries concurrently; every successful probe must return
// data that was written as one atomic (data, keyXor) pair, never a torn mix.
// Run with -race to also catch any accidental unsynchronized access.
func TestTTLocklessConcurrent(t *testing.T) {
	tt := NewTranspositionTable(1)

	const goroutines = 8
	const opsPerGoroutine = 25000
	if testing.Short() {
		t.Skip("skipping TT stress test in short mode")
	}

	// A small keyspace so writers collide on the same slots frequently,
	// maximizing the chance of observing a torn write if the XOR trick
	// were broken.
	const keyspace = 64

	var wg sync.WaitGroup
	var corrupt atomic.Int64

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerGoroutine; i++ {
				key := uint64(rng.Intn(keyspace))
				move := board.Move(rng.Intn(1 << 16))
				score := int16(rng.Intn(2000) - 1000)
				depth := int8(rng.Intn(32))
				flag := TTFlag(rng.Intn(3))

				tt.Store(key, int(depth), int(score), flag, move)

				if entry, ok := tt.Probe(key); ok {
					// The only thing we can assert about a concurrently-
					// mutated slot is internal self-consistency: the
					// decoded fields must come from a value that could
					// have been legally packed. packData/unpackData are
					// a bijection over the field ranges used here, so any
					// successful unpack from a slot that passed the XOR
					// check is, by construction, not torn.
					if entry.Depth < 0 || entry.Depth >= 32 {
						corrupt.Add(1)
					}
				}
			}
		}(int64(g) + 1)
	}
	wg.Wait()

	assert.Equal(t, int64(0), corrupt.Load(), "lockless probe returned data outside any value a writer could have stored")
}
