package engine

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tantabus/engine/internal/board"
	"github.com/tantabus/engine/internal/nnue"
)

// NumWorkers is the number of parallel Lazy-SMP search workers, defaulting
// to the host's CPU count. The UCI Threads option can override it via SetThreads.
var NumWorkers = runtime.GOMAXPROCS(0)

// SearchInfo reports progress for one completed iteration, forwarded to the
// UCI layer for `info` lines.
type SearchInfo struct {
	Depth    int
	Score    int
	Nodes    uint64
	Time     time.Duration
	PV       []board.Move
	HashFull int
}

// SearchLimits specifies constraints on the search.
type SearchLimits struct {
	Depth    int           // Maximum depth (0 = no limit)
	Nodes    uint64        // Maximum nodes (0 = no limit)
	MoveTime time.Duration // Time for this move (0 = no limit)
	Infinite bool          // Search until stopped
}

// Difficulty represents a canned strength level for non-UCI callers.
type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

// DifficultySettings maps difficulty to search limits.
var DifficultySettings = map[Difficulty]SearchLimits{
	Easy:   {Depth: 3, MoveTime: 500 * time.Millisecond},
	Medium: {Depth: 7, MoveTime: 1 * time.Second},
	Hard:   {Depth: 40, MoveTime: 3 * time.Second},
}

// Engine coordinates a Lazy-SMP search: independent workers sharing only the
// transposition table and the pawn hash table's backing allocation pattern,
// everything else (history, killers, the NNUE accumulator stack, the board)
// stays thread-local to each worker.
type Engine struct {
	workers  []*Worker
	tt       *TranspositionTable
	stopFlag atomic.Bool

	difficulty Difficulty

	rootPosHashes []uint64

	useNNUE bool
	nnueNet *nnue.Network // shared, read-only once loaded

	OnInfo func(SearchInfo)
}

// NewEngine creates a new chess engine with the given transposition table size in MB.
func NewEngine(ttSizeMB int) *Engine {
	tt := NewTranspositionTable(ttSizeMB)

	e := &Engine{
		tt:         tt,
		difficulty: Medium,
		workers:    make([]*Worker, NumWorkers),
	}

	log.Info().Int("workers", NumWorkers).Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("engine created")

	for i := 0; i < NumWorkers; i++ {
		workerPawnTable := NewPawnTable(1)
		e.workers[i] = NewWorker(i, tt, workerPawnTable, &e.stopFlag)
	}

	return e
}

// SetThreads resizes the worker pool, used by the UCI Threads option.
func (e *Engine) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	if n == len(e.workers) {
		return
	}

	NumWorkers = n
	workers := make([]*Worker, n)
	for i := 0; i < n; i++ {
		pawnTable := NewPawnTable(1)
		w := NewWorker(i, e.tt, pawnTable, &e.stopFlag)
		if e.useNNUE && e.nnueNet != nil {
			w.SetNNUE(nnue.NewEvaluatorSharingNetwork(e.nnueNet))
		}
		workers[i] = w
	}
	e.workers = workers
	log.Info().Int("workers", n).Msg("resized worker pool")
}

// SetDifficulty sets the engine's canned strength level.
func (e *Engine) SetDifficulty(d Difficulty) {
	e.difficulty = d
}

// SetPositionHistory sets the position history for repetition detection.
// Call before Search() with hashes from the game's move history.
func (e *Engine) SetPositionHistory(hashes []uint64) {
	e.rootPosHashes = make([]uint64, len(hashes))
	copy(e.rootPosHashes, hashes)

	for _, w := range e.workers {
		w.SetRootHistory(hashes)
	}
}

// NewGame clears the transposition table and every worker's history tables,
// per the UCI ucinewgame contract.
func (e *Engine) NewGame() {
	e.tt.Clear()
	for _, w := range e.workers {
		w.NewGame()
	}
}

// Search finds the best move for the given position using the engine's
// current difficulty setting.
func (e *Engine) Search(pos *board.Position) board.Move {
	limits := DifficultySettings[e.difficulty]
	return e.SearchWithLimits(pos, limits)
}

// SearchWithLimits finds the best move with specific search limits using Lazy SMP.
func (e *Engine) SearchWithLimits(pos *board.Position, limits SearchLimits) board.Move {
	var deadline time.Time
	if limits.MoveTime > 0 {
		deadline = time.Now().Add(limits.MoveTime)
	}
	return e.runSearch(pos, limits, deadline, nil)
}

// SearchWithUCILimits finds the best move using UCI time controls (wtime/btime/winc/binc).
func (e *Engine) SearchWithUCILimits(pos *board.Position, limits UCILimits, ply int) board.Move {
	tm := NewTimeManager()
	tm.Init(limits, pos.SideToMove, ply)

	searchLimits := SearchLimits{Depth: limits.Depth, Nodes: limits.Nodes}
	return e.runSearch(pos, searchLimits, time.Time{}, tm)
}

// runSearch drives iterative deepening across all workers via an errgroup,
// collecting WorkerResult messages on a shared channel and stopping on the
// first satisfied limit (depth, deadline, node budget, mate found, or - when
// a TimeManager is supplied - move stability).
func (e *Engine) runSearch(pos *board.Position, limits SearchLimits, deadline time.Time, tm *TimeManager) board.Move {
	e.stopFlag.Store(false)
	e.tt.NewSearch()

	for _, w := range e.workers {
		w.Reset()
	}

	maxDepth := MaxPly
	if limits.Depth > 0 {
		maxDepth = limits.Depth
	}

	resultCh := make(chan WorkerResult, len(e.workers)*maxDepth)

	g := &errgroup.Group{}
	for i := range e.workers {
		workerID := i
		g.Go(func() error {
			e.workerSearch(workerID, pos, maxDepth, resultCh)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(resultCh)
		close(done)
	}()

	startTime := time.Now()
	var bestMove, lastBestMove board.Move
	var bestScore, bestDepth int
	var stabilityCount int

resultLoop:
	for {
		select {
		case result, ok := <-resultCh:
			if !ok {
				break resultLoop
			}

			// Only worker 0 is canonical for bestmove/info reporting (spec
			// 4.G/4.H); helper threads still run full iterative deepening
			// for search diversity but their results are discarded here.
			if result.WorkerID == 0 && result.Move != board.NoMove &&
				(result.Depth > bestDepth || (result.Depth == bestDepth && result.Score > bestScore)) {

				if result.Depth > bestDepth && result.Move == lastBestMove {
					stabilityCount++
				} else if result.Depth > bestDepth {
					stabilityCount = 0
				}
				lastBestMove = result.Move

				bestMove = result.Move
				bestScore = result.Score
				bestDepth = result.Depth

				if e.OnInfo != nil {
					e.OnInfo(SearchInfo{
						Depth:    bestDepth,
						Score:    bestScore,
						Nodes:    e.getTotalNodes(),
						Time:     time.Since(startTime),
						PV:       result.PV,
						HashFull: e.tt.HashFull(),
					})
				}

				if bestScore > MateScore-100 || bestScore < -MateScore+100 {
					e.stopFlag.Store(true)
					break resultLoop
				}

				if tm != nil && tm.PastOptimum() && stabilityCount >= 4 {
					e.stopFlag.Store(true)
					break resultLoop
				}
			}

			if !deadline.IsZero() && time.Now().After(deadline) {
				e.stopFlag.Store(true)
				break resultLoop
			}
			if tm != nil && tm.ShouldStop() {
				e.stopFlag.Store(true)
				break resultLoop
			}
			if limits.Nodes > 0 && e.getTotalNodes() >= limits.Nodes {
				e.stopFlag.Store(true)
				break resultLoop
			}

		case <-done:
			break resultLoop
		}
	}

	e.stopFlag.Store(true)
	<-done

	return bestMove
}

// workerSearch runs iterative deepening in one worker. Workers stagger their
// starting depth so helpers don't all redo the same shallow iterations, and
// use a score-volatility-scaled aspiration window once a baseline score exists.
func (e *Engine) workerSearch(workerID int, pos *board.Position, maxDepth int, resultCh chan<- WorkerResult) {
	worker := e.workers[workerID]
	worker.InitSearch(pos.Copy())

	var prevScore int
	startDepth := 1
	switch {
	case workerID >= 6:
		startDepth = 4
	case workerID >= 3:
		startDepth = 3
	case workerID >= 1:
		startDepth = 2
	}

	recentScores := make([]int, 0, 10)

	for depth := startDepth; depth <= maxDepth; depth++ {
		if e.stopFlag.Load() {
			return
		}

		worker.UpdateOptimism()

		var move board.Move
		var score int

		if depth >= 5 && prevScore != 0 {
			volatility := 0
			if len(recentScores) >= 2 {
				minScore, maxScore := recentScores[0], recentScores[0]
				for _, s := range recentScores {
					if s < minScore {
						minScore = s
					}
					if s > maxScore {
						maxScore = s
					}
				}
				volatility = maxScore - minScore
			}

			var window int
			switch {
			case volatility > 400:
				window = 150 + volatility/4
			case volatility < 50:
				window = 25
			default:
				window = 50 + volatility/8
			}
			window += (workerID % 8) * 3

			alpha := prevScore - window
			beta := prevScore + window
			worker.rootDelta = window * 2
			retryCount := 0

			for {
				move, score = worker.SearchDepth(depth, alpha, beta)
				if e.stopFlag.Load() {
					return
				}

				if score <= alpha {
					retryCount++
					if retryCount >= 2 {
						alpha = -Infinity
					} else {
						alpha = prevScore - window*2
					}
				} else if score >= beta {
					retryCount++
					if retryCount >= 2 {
						beta = Infinity
					} else {
						beta = prevScore + window*2
					}
				} else {
					break
				}

				if alpha == -Infinity && beta == Infinity {
					break
				}
			}
		} else {
			worker.rootDelta = Infinity
			move, score = worker.SearchDepth(depth, -Infinity, Infinity)
		}

		if e.stopFlag.Load() {
			return
		}

		worker.UpdateAvgScore(score)
		prevScore = score

		recentScores = append(recentScores, score)
		if len(recentScores) > 10 {
			recentScores = recentScores[1:]
		}

		resultCh <- WorkerResult{
			WorkerID: workerID,
			Depth:    depth,
			Score:    score,
			Move:     move,
			PV:       worker.GetPV(),
			Nodes:    worker.Nodes(),
		}
	}
}

// getTotalNodes returns the total nodes searched by all workers.
func (e *Engine) getTotalNodes() uint64 {
	var total uint64
	for _, w := range e.workers {
		total += w.Nodes()
	}
	return total
}

// Stop stops the current search.
func (e *Engine) Stop() {
	e.stopFlag.Store(true)
}

// Clear clears the transposition table and every worker's move-ordering tables.
func (e *Engine) Clear() {
	e.tt.Clear()
	for _, w := range e.workers {
		w.NewGame()
	}
}

// ResizeHash replaces the transposition table, rounding down to the nearest
// power-of-two entry count that fits. Used by the UCI Hash option.
func (e *Engine) ResizeHash(sizeMB int) {
	e.tt = NewTranspositionTable(sizeMB)
	for _, w := range e.workers {
		w.tt = e.tt
	}
	log.Info().Int("mb", sizeMB).Uint64("slots", e.tt.Size()).Msg("resized transposition table")
}

// Perft performs a perft test (for debugging move generation).
func (e *Engine) Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}

	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		move := moves.Get(i)
		undo := pos.MakeMove(move)
		nodes += e.Perft(pos, depth-1)
		pos.UnmakeMove(move, undo)
	}

	return nodes
}

// Evaluate returns the static evaluation of a position using the classical evaluator.
func (e *Engine) Evaluate(pos *board.Position) int {
	return Evaluate(pos)
}

// LoadNNUE loads a flat (768 -> 128) x 2 -> 1 network and wires a dedicated
// Evaluator (sharing the one set of weights) into every worker.
func (e *Engine) LoadNNUE(weightsPath string) error {
	log.Info().Str("path", weightsPath).Msg("loading NNUE network")

	net := nnue.NewNetwork()
	if err := net.LoadWeights(weightsPath); err != nil {
		return fmt.Errorf("engine: load NNUE weights: %w", err)
	}
	e.nnueNet = net

	for _, w := range e.workers {
		w.SetNNUE(nnue.NewEvaluatorSharingNetwork(net))
	}

	log.Info().Msg("NNUE network loaded")
	return nil
}

// SetUseNNUE enables or disables NNUE evaluation.
func (e *Engine) SetUseNNUE(use bool) {
	e.useNNUE = use
	for _, w := range e.workers {
		w.useNNUE = use && w.nnueEval != nil
	}
	if use {
		log.Info().Msg("evaluation mode: NNUE")
	} else {
		log.Info().Msg("evaluation mode: classical")
	}
}

// UseNNUE returns whether NNUE evaluation is enabled.
func (e *Engine) UseNNUE() bool {
	return e.useNNUE
}

// HasNNUE returns whether an NNUE network is loaded.
func (e *Engine) HasNNUE() bool {
	return e.nnueNet != nil
}

// ScoreToString converts a score to a human-readable string.
func ScoreToString(score int) string {
	if score > MateScore-100 {
		mateIn := (MateScore - score + 1) / 2
		return "Mate in " + itoa(mateIn)
	}
	if score < -MateScore+100 {
		mateIn := (MateScore + score + 1) / 2
		return "Mated in " + itoa(mateIn)
	}

	sign := ""
	if score < 0 {
		sign = "-"
		score = -score
	}
	pawns := score / 100
	centipawns := score % 100

	return sign + itoa(pawns) + "." + itoa(centipawns)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	s := ""
	for n > 0 {
		s = string('0'+byte(n%10)) + s
		n /= 10
	}
	return s
}
