package engine

import (
	"math"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/tantabus/engine/internal/board"
	"github.com/tantabus/engine/internal/nnue"
)

// LMR reduction table - precomputed logarithmic reductions
// Based on Stockfish's formula: (21.46 * log(depth)) * (21.46 * log(moveCount)) / 1024
var lmrReductions [64][64]int

func init() {
	for d := 1; d < 64; d++ {
		for m := 1; m < 64; m++ {
			lmrReductions[d][m] = int(21.46 * math.Log(float64(d)) * 21.46 * math.Log(float64(m)) / 1024.0)
		}
	}
}

// SearchStack stores per-ply search state for continuation-history lookups
// and hindsight depth adjustment.
type SearchStack struct {
	currentMove board.Move
	movedPiece  board.Piece
	moveTo      board.Square

	statScore int
	reduction int
	cutoffCnt int
}

// Worker represents a search worker for parallel Lazy-SMP search. Every
// field except tt and stopFlag is thread-local: history tables, killers,
// the pawn hash table, the NNUE accumulator stack, and the board are never
// shared across workers.
type Worker struct {
	id int

	pos *board.Position

	orderer *MoveOrderer

	nodes uint64
	pv    PVTable

	undoStack   [MaxPly]board.UndoInfo
	evalStack   [MaxPly]int
	searchStack [MaxPly]SearchStack

	// Pre-allocated repetition-history buffer: MaxPly (128) + 640 for root history.
	posHistoryBuffer [768]uint64
	posHistoryLen    int
	rootPosHashes    []uint64

	// Shared resources: only the TT and the stop flag cross worker boundaries.
	tt          *TranspositionTable
	pawnTable   *PawnTable
	corrHistory *CorrectionHistory
	stopFlag    *atomic.Bool

	useNNUE  bool
	nnueEval *nnue.Evaluator

	debug bool

	resultCh chan<- WorkerResult
	depth    int

	// Optimism tracking (Stockfish evaluate.cpp): material scaling term based
	// on a running average of root scores.
	optimism [2]int
	avgScore int

	// Width of the current aspiration window, used to scale LMR.
	rootDelta int
}

// WorkerResult contains the result from a worker's search at a given depth.
type WorkerResult struct {
	WorkerID int
	Depth    int
	Score    int
	Move     board.Move
	PV       []board.Move
	Nodes    uint64
}

// NewWorker creates a new search worker.
func NewWorker(id int, tt *TranspositionTable, pawnTable *PawnTable, stopFlag *atomic.Bool) *Worker {
	return &Worker{
		id:          id,
		orderer:     NewMoveOrderer(),
		tt:          tt,
		pawnTable:   pawnTable,
		corrHistory: NewCorrectionHistory(),
		stopFlag:    stopFlag,
	}
}

// SetNNUE wires an NNUE evaluator into this worker. Each worker gets its own
// Evaluator (and accumulator stack) so push/pop never crosses goroutines.
func (w *Worker) SetNNUE(eval *nnue.Evaluator) {
	w.nnueEval = eval
	w.useNNUE = eval != nil
}

// ID returns the worker's ID.
func (w *Worker) ID() int {
	return w.id
}

// Nodes returns the number of nodes searched by this worker.
func (w *Worker) Nodes() uint64 {
	return w.nodes
}

// Reset resets the worker for a new search. History tables decay (halve)
// rather than clear: spec 4.G reseeds worker-local tables between searches
// of the same game, ucinewgame is what zeroes them.
func (w *Worker) Reset() {
	w.nodes = 0
	w.orderer.DecayForNewSearch()
	w.avgScore = -Infinity
	w.optimism[0] = 0
	w.optimism[1] = 0
}

// NewGame clears all worker-local state at ucinewgame.
func (w *Worker) NewGame() {
	w.orderer.Clear()
	w.corrHistory.Clear()
}

// UpdateOptimism calculates optimism for the current iteration based on
// avgScore. Ported from Stockfish's iterative deepening loop.
func (w *Worker) UpdateOptimism() {
	avg := w.avgScore
	if avg == -Infinity {
		w.optimism[0] = 0
		w.optimism[1] = 0
		return
	}

	us := 0
	if w.pos.SideToMove == board.Black {
		us = 1
	}

	absAvg := avg
	if absAvg < 0 {
		absAvg = -absAvg
	}
	w.optimism[us] = (142 * avg) / (absAvg + 91)
	w.optimism[1-us] = -w.optimism[us]
}

// UpdateAvgScore updates the running average score after each iteration.
func (w *Worker) UpdateAvgScore(score int) {
	if w.avgScore == -Infinity {
		w.avgScore = score
	} else {
		w.avgScore = (score + w.avgScore) / 2
	}
}

// SetRootHistory sets the position history from the game (for repetition detection).
func (w *Worker) SetRootHistory(hashes []uint64) {
	w.rootPosHashes = make([]uint64, len(hashes))
	copy(w.rootPosHashes, hashes)
}

// SetResultChannel sets the channel for sending search results.
func (w *Worker) SetResultChannel(ch chan<- WorkerResult) {
	w.resultCh = ch
}

// InitSearch initializes the worker for a new search. pos must be a
// dedicated copy for this worker - the caller is responsible for isolation.
func (w *Worker) InitSearch(pos *board.Position) {
	w.pos = pos

	if w.nnueEval != nil {
		w.nnueEval.Reset()
		if w.useNNUE {
			w.nnueEval.Refresh(pos)
		}
	}

	rootLen := len(w.rootPosHashes)
	if rootLen > 640 {
		rootLen = 640
		copy(w.posHistoryBuffer[:rootLen], w.rootPosHashes[len(w.rootPosHashes)-640:])
	} else {
		copy(w.posHistoryBuffer[:rootLen], w.rootPosHashes)
	}
	w.posHistoryBuffer[rootLen] = w.pos.Hash
	w.posHistoryLen = rootLen + 1
}

// Pos returns the current position (for debugging).
func (w *Worker) Pos() *board.Position {
	return w.pos
}

// SearchDepth performs search at the given depth and sends result via channel.
func (w *Worker) SearchDepth(depth, alpha, beta int) (board.Move, int) {
	w.depth = depth

	score := w.negamax(depth, 0, alpha, beta, board.NoMove, board.NoMove, false)

	var bestMove board.Move
	if w.pv.length[0] > 0 {
		bestMove = w.pv.moves[0][0]
	}

	// Safety fallback: if no PV but legal moves exist, use first legal move.
	if bestMove == board.NoMove && !w.stopFlag.Load() {
		moves := w.pos.GenerateLegalMoves()
		if moves.Len() > 0 {
			bestMove = moves.Get(0)
		}
	}

	if w.resultCh != nil && !w.stopFlag.Load() {
		pv := make([]board.Move, w.pv.length[0])
		for i := 0; i < w.pv.length[0]; i++ {
			pv[i] = w.pv.moves[0][i]
		}
		w.resultCh <- WorkerResult{
			WorkerID: w.id,
			Depth:    depth,
			Score:    score,
			Move:     bestMove,
			PV:       pv,
			Nodes:    w.nodes,
		}
	}

	return bestMove, score
}

// evaluate returns the static evaluation using NNUE when loaded, falling
// back to the classical pawn-hash-backed evaluator otherwise.
func (w *Worker) evaluate() int {
	if w.useNNUE && w.nnueEval != nil {
		return w.nnueEval.Evaluate(w.pos)
	}
	return EvaluateWithPawnTable(w.pos, w.pawnTable)
}

// nnuePush saves accumulator state before a move is made.
func (w *Worker) nnuePush() {
	if w.useNNUE && w.nnueEval != nil {
		w.nnueEval.Push()
	}
}

// nnuePop restores accumulator state after a move is unmade.
func (w *Worker) nnuePop() {
	if w.useNNUE && w.nnueEval != nil {
		w.nnueEval.Pop()
	}
}

// nnueUpdate incrementally updates the accumulator for a move just made.
func (w *Worker) nnueUpdate(m board.Move, captured board.Piece) {
	if w.useNNUE && w.nnueEval != nil {
		w.nnueEval.Update(w.pos, m, captured)
	}
}

func (w *Worker) stopped() bool {
	return w.stopFlag.Load()
}

// GetPV returns the principal variation from the last search.
func (w *Worker) GetPV() []board.Move {
	pv := make([]board.Move, w.pv.length[0])
	for i := 0; i < w.pv.length[0]; i++ {
		pv[i] = w.pv.moves[0][i]
	}
	return pv
}

// isDraw checks for draw by repetition, the 50-move rule, or insufficient material.
func (w *Worker) isDraw() bool {
	if w.pos.HalfMoveClock >= 100 {
		return true
	}
	if w.pos.IsInsufficientMaterial() {
		return true
	}

	if w.posHistoryLen > 0 {
		currentHash := w.pos.Hash
		count := 0
		for i := 0; i < w.posHistoryLen; i++ {
			if w.posHistoryBuffer[i] == currentHash {
				count++
				if count >= 2 {
					return true
				}
			}
		}
	}

	return false
}

// negamax implements PVS negamax with alpha-beta pruning. excludedMove skips
// a move during a singular-extension probe. cutNode marks an expected-fail-high
// node (most children are cut-nodes in a well-ordered tree).
func (w *Worker) negamax(depth, ply int, alpha, beta int, prevMove, excludedMove board.Move, cutNode bool) int {
	if ply >= MaxPly-1 {
		return w.evaluate()
	}

	if w.nodes&2047 == 0 && w.stopFlag.Load() {
		return 0
	}

	w.nodes++
	w.pv.length[ply] = ply

	if ply > 0 && w.isDraw() {
		return 0
	}

	isPvNode := alpha < beta-1

	// Mate distance pruning: no line from here can beat a mate found nearer the root.
	if ply > 0 {
		if alpha < -MateScore+ply {
			alpha = -MateScore + ply
		}
		if beta > MateScore-ply-1 {
			beta = MateScore - ply - 1
		}
		if alpha >= beta {
			return alpha
		}
	}

	// Probe transposition table.
	var ttMove board.Move
	ttEntry, found := w.tt.Probe(w.pos.Hash)
	if found {
		ttMove = ttEntry.BestMove
		if ttMove != board.NoMove && !w.pos.PseudoLegal(ttMove) {
			ttMove = board.NoMove
		}

		if int(ttEntry.Depth) >= depth {
			score := AdjustScoreFromTT(int(ttEntry.Score), ply)
			switch ttEntry.Flag {
			case TTExact:
				if ply == 0 && ttMove != board.NoMove {
					w.pv.moves[0][0] = ttMove
					w.pv.length[0] = 1
				}
				return score
			case TTLowerBound:
				if score > alpha {
					alpha = score
				}
			case TTUpperBound:
				if score < beta {
					beta = score
				}
			}
			if alpha >= beta {
				if ply == 0 && ttMove != board.NoMove {
					w.pv.moves[0][0] = ttMove
					w.pv.length[0] = 1
				}
				return score
			}
		}
	}

	if depth <= 0 {
		return w.quiescence(ply, alpha, beta)
	}

	inCheck := w.pos.InCheck()

	// Internal Iterative Reduction: no TT move means the node isn't well
	// explored yet, reduce instead of doing a recursive IID search.
	if depth >= 4 && ttMove == board.NoMove && !inCheck {
		depth -= 2
	}

	extension := 0
	if inCheck {
		extension = 1
	}

	if EnableThreatExt && extension == 0 && depth >= threatExtensionMinDepth && ply > 0 {
		if w.detectSeriousThreats() {
			extension = 1
		}
	}

	rawEval := w.evaluate()
	correction := w.corrHistory.Get(w.pos)
	staticEval := rawEval + correction
	w.evalStack[ply] = staticEval

	improving := false
	if ply >= 2 {
		improving = staticEval > w.evalStack[ply-2]
	}

	opponentWorsening := false
	if ply >= 1 {
		opponentWorsening = staticEval > -w.evalStack[ply-1]
	}

	if EnableHindsightDepth && ply >= 1 {
		priorReduction := w.searchStack[ply-1].reduction
		if priorReduction >= 3 && !opponentWorsening {
			depth++
		}
		if priorReduction >= 2 && depth >= 2 {
			evalSum := staticEval + w.evalStack[ply-1]
			if evalSum > 173 {
				depth--
			}
		}
	}

	if ply+2 < MaxPly {
		w.searchStack[ply+2].cutoffCnt = 0
	}

	// Reverse Futility Pruning - skip in PV nodes to preserve the line.
	if EnableRFP && !inCheck && depth <= 6 && ply > 0 && !isPvNode {
		rfpMargin := 80 * depth
		if !improving {
			rfpMargin -= 20
		}
		if staticEval-rfpMargin >= beta {
			return beta
		}
	}

	// Razoring
	if EnableRazoring && depth <= 5 && !inCheck && ply > 0 && !isPvNode {
		razorMargin := 485 + 281*depth*depth
		if staticEval+razorMargin <= alpha {
			score := w.quiescence(ply, alpha, beta)
			if score <= alpha {
				return score
			}
		}
	}

	// Null Move Pruning
	if EnableNMP && !inCheck && depth >= 3 && ply > 0 && !isPvNode && w.pos.HasNonPawnMaterial() {
		R := 7 + depth/3
		if R > depth-1 {
			R = depth - 1
		}

		nullUndo := w.pos.MakeNullMove()
		nullScore := -w.negamax(depth-1-R, ply+1, -beta, -beta+1, board.NoMove, board.NoMove, !cutNode)
		w.pos.UnmakeNullMove(nullUndo)

		if nullScore >= beta {
			return nullScore
		}
	}

	// Probcut: a shallow capture search exceeding beta by a margin lets us
	// skip the full-depth search.
	if EnableProbcut && depth >= probcutDepth && !inCheck && ply > 0 && abs(beta) < MateScore-100 {
		adaptiveMargin := 235
		if improving {
			adaptiveMargin -= 63
		}
		probcutBeta := beta + adaptiveMargin

		evalDiff := staticEval - beta
		probcutSearchDepth := depth - 5 - evalDiff/315
		if probcutSearchDepth < 1 {
			probcutSearchDepth = 1
		}
		if probcutSearchDepth > depth {
			probcutSearchDepth = depth
		}

		captures := w.pos.GenerateCaptures()
		for i := 0; i < captures.Len(); i++ {
			capture := captures.Get(i)
			if SEE(w.pos, capture) < 0 {
				continue
			}

			captured := w.pos.PieceAt(capture.To())
			w.nnuePush()
			undo := w.pos.MakeMove(capture)
			if !undo.Valid {
				w.pos.UnmakeMove(capture, undo)
				w.nnuePop()
				continue
			}
			w.nnueUpdate(capture, captured)

			score := -w.negamax(probcutSearchDepth, ply+1, -probcutBeta, -probcutBeta+1, capture, board.NoMove, !cutNode)
			w.pos.UnmakeMove(capture, undo)
			w.nnuePop()

			if score >= probcutBeta {
				return score
			}
		}
	}

	// Multi-Cut: if several moves fail high at reduced depth, prune the node.
	if EnableMulticut && depth >= multicutDepth && !inCheck && ply > 0 && abs(beta) < MateScore-100 {
		mcMoves := w.pos.GenerateLegalMoves()
		mcScores := w.orderer.ScoreMovesWithCounter(w.pos, mcMoves, ply, ttMove, prevMove)

		mcCutoffs := 0
		mcSearched := 0
		mcSearchDepth := depth - 4
		if mcSearchDepth < 1 {
			mcSearchDepth = 1
		}

		for i := 0; i < mcMoves.Len() && mcSearched < multicutMoves; i++ {
			PickMove(mcMoves, mcScores, i)
			move := mcMoves.Get(i)

			captured := w.pos.PieceAt(move.To())
			w.nnuePush()
			undo := w.pos.MakeMove(move)
			if !undo.Valid {
				w.pos.UnmakeMove(move, undo)
				w.nnuePop()
				continue
			}
			w.nnueUpdate(move, captured)
			mcSearched++

			score := -w.negamax(mcSearchDepth, ply+1, -beta, -beta+1, move, board.NoMove, !cutNode)
			w.pos.UnmakeMove(move, undo)
			w.nnuePop()

			if score >= beta {
				mcCutoffs++
				if mcCutoffs >= multicutRequired {
					return beta
				}
			}
		}
	}

	pruneQuietMoves := false
	if EnableFutilityPruning && depth <= 5 && !inCheck && ply > 0 {
		futilityMargin := []int{0, 200, 300, 500, 700, 900}
		if staticEval+futilityMargin[depth] <= alpha {
			pruneQuietMoves = true
		}
	}

	// Singular Extensions: when the TT move is significantly better than the
	// alternatives, extend it (or shrink depth if it turns out not to be singular).
	singularExtension := 0
	if EnableSingularExt && depth >= 6 && ttMove != board.NoMove && excludedMove == board.NoMove && found {
		if int(ttEntry.Depth) >= depth-3 && (ttEntry.Flag == TTLowerBound || ttEntry.Flag == TTExact) {
			margin := 53
			if !isPvNode {
				margin = 128
			}
			ttValue := AdjustScoreFromTT(int(ttEntry.Score), ply)
			singularBeta := ttValue - margin*depth/60

			singularDepth := (depth - 1) / 2
			singularScore := w.negamax(singularDepth, ply, singularBeta-1, singularBeta, prevMove, ttMove, cutNode)

			if singularScore < singularBeta {
				ttCapture := ttMove.IsCapture(w.pos)

				doubleMargin := -4
				if isPvNode {
					doubleMargin += 199
				}
				if !ttCapture {
					doubleMargin -= 201
				}

				tripleMargin := 73
				if isPvNode {
					tripleMargin += 302
				}
				if !ttCapture {
					tripleMargin -= 248
				}

				singularExtension = 1
				if singularScore < singularBeta-doubleMargin {
					singularExtension = 2
				}
				if singularScore < singularBeta-tripleMargin {
					singularExtension = 3
				}
			} else {
				ttValue := AdjustScoreFromTT(int(ttEntry.Score), ply)
				if ttValue >= beta {
					singularExtension = -3
				} else if cutNode {
					singularExtension = -2
				}
			}
		}
	}

	moves := w.pos.GenerateLegalMoves()

	if moves.Len() == 0 {
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}

	scores := w.orderer.ScoreMovesWithCounter(w.pos, moves, ply, ttMove, prevMove)

	bestScore := -Infinity
	bestMove := board.NoMove
	flag := TTUpperBound
	movesSearched := 0

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		move := moves.Get(i)

		if move == excludedMove {
			continue
		}

		isCapture := move.IsCapture(w.pos)
		isPromotion := move.IsPromotion()

		if EnableFutilityPruning && pruneQuietMoves && !isCapture && !isPromotion && bestMove != board.NoMove {
			continue
		}

		if EnableSEEPruning && isCapture && depth <= 7 && !inCheck && movesSearched > 0 {
			seeThreshold := -20 * depth
			if SEE(w.pos, move) < seeThreshold {
				continue
			}
		}

		if EnableLMP && depth <= 7 && !inCheck && movesSearched > 0 && !isCapture && !isPromotion && move != ttMove {
			threshold := lmpThreshold[depth]
			if !improving {
				threshold = threshold * 2 / 3
			}
			if movesSearched >= threshold {
				continue
			}
		}

		if EnableHistoryPruning && depth <= 3 && !inCheck && movesSearched > 0 && !isCapture && !isPromotion && move != ttMove {
			if w.orderer.GetHistoryScore(move) < historyPruningThreshold {
				continue
			}
		}

		movingPiece := w.pos.PieceAt(move.From())
		moveTo := move.To()

		if movingPiece == board.NoPiece || movingPiece.Color() != w.pos.SideToMove {
			if w.debug {
				log.Debug().Str("move", move.String()).Msg("skipping move with stale piece data")
			}
			continue
		}

		captured := w.pos.PieceAt(move.To())
		w.nnuePush()
		w.undoStack[ply] = w.pos.MakeMove(move)
		if !w.undoStack[ply].Valid {
			w.pos.UnmakeMove(move, w.undoStack[ply])
			w.nnuePop()
			continue
		}
		w.nnueUpdate(move, captured)

		w.searchStack[ply].currentMove = move
		w.searchStack[ply].movedPiece = movingPiece
		w.searchStack[ply].moveTo = moveTo

		w.posHistoryBuffer[w.posHistoryLen] = w.pos.Hash
		w.posHistoryLen++
		movesSearched++

		var score int
		newDepth := depth - 1 + extension

		if move == ttMove && singularExtension != 0 {
			newDepth += singularExtension
		}

		// Late Move Reduction: logarithmic base reduction scaled by node type,
		// history signal, and how the aspiration window is tracking.
		if movesSearched > 4 && depth >= 3 && !inCheck && !isCapture && !isPromotion {
			d := depth
			if d > 63 {
				d = 63
			}
			m := movesSearched
			if m > 63 {
				m = 63
			}
			reduction := lmrReductions[d][m]

			if w.rootDelta > 0 && w.rootDelta < Infinity {
				delta := beta - alpha
				reduction -= delta * 608 / w.rootDelta
			}

			if !improving {
				reduction++
			}
			if move == ttMove {
				reduction -= 2
			}
			if isPvNode {
				reduction--
			}

			if cutNode {
				extra := 3372
				if ttMove == board.NoMove {
					extra += 997
				}
				reduction += extra / 1024
			}

			allNode := !isPvNode && !cutNode
			if allNode && depth > 2 {
				reduction += reduction / (depth + 1)
			}

			if ply+1 < MaxPly {
				cutoffCnt := w.searchStack[ply+1].cutoffCnt
				if cutoffCnt > 1 {
					extra := 120
					if cutoffCnt > 2 {
						extra += 1024
					}
					if cutoffCnt > 3 {
						extra += 100
					}
					if allNode {
						extra += 1024
					}
					reduction += extra / 1024
				}
			}

			// statScore blends the plain history score with the countermove
			// history looked up 1 and 2 plies back (Stockfish's formula).
			mainHist := w.orderer.GetHistoryScore(move)

			contHist0 := 0
			contHist1 := 0
			if ply >= 1 && w.searchStack[ply-1].currentMove != board.NoMove {
				ss := &w.searchStack[ply-1]
				contHist0 = w.orderer.GetCountermoveHistoryScore(ss.currentMove, ss.movedPiece, movingPiece, moveTo)
			}
			if ply >= 2 && w.searchStack[ply-2].currentMove != board.NoMove {
				ss := &w.searchStack[ply-2]
				contHist1 = w.orderer.GetCountermoveHistoryScore(ss.currentMove, ss.movedPiece, movingPiece, moveTo)
			}

			statScore := 2*mainHist + contHist0 + contHist1
			w.searchStack[ply].statScore = statScore

			reduction -= statScore * 850 / 8192
			reduction -= movesSearched * 73 / 1024

			if reduction < 1 {
				reduction = 1
			}

			reducedDepth := newDepth - reduction
			if reducedDepth < 1 {
				reducedDepth = 1
			}

			w.searchStack[ply].reduction = reduction

			score = -w.negamax(reducedDepth, ply+1, -alpha-1, -alpha, move, board.NoMove, !cutNode)

			if score > alpha {
				score = -w.negamax(newDepth, ply+1, -beta, -alpha, move, board.NoMove, false)
			}
		} else if movesSearched == 1 {
			score = -w.negamax(newDepth, ply+1, -beta, -alpha, move, board.NoMove, false)
		} else {
			score = -w.negamax(newDepth, ply+1, -alpha-1, -alpha, move, board.NoMove, !cutNode)
			if score > alpha && score < beta {
				score = -w.negamax(newDepth, ply+1, -beta, -alpha, move, board.NoMove, false)
			}
		}

		w.posHistoryLen--
		w.pos.UnmakeMove(move, w.undoStack[ply])
		w.nnuePop()

		if w.stopFlag.Load() {
			return 0
		}

		if score > bestScore {
			bestScore = score
			bestMove = move

			if score > alpha {
				alpha = score
				flag = TTExact

				w.pv.moves[ply][ply] = move
				for j := ply + 1; j < w.pv.length[ply+1]; j++ {
					w.pv.moves[ply][j] = w.pv.moves[ply+1][j]
				}
				w.pv.length[ply] = w.pv.length[ply+1]
			}
		}

		if score >= beta {
			if extension < 2 || isPvNode {
				w.searchStack[ply].cutoffCnt++
			}

			if ply == 0 && bestMove != board.NoMove {
				w.pv.moves[0][0] = bestMove
				w.pv.length[0] = 1
			}

			w.tt.Store(w.pos.Hash, depth, AdjustScoreToTT(score, ply), TTLowerBound, bestMove)

			if isCapture {
				attackerPiece := w.pos.PieceAt(move.From())
				var capturedType board.PieceType
				if move.IsEnPassant() {
					capturedType = board.Pawn
				} else if captured != board.NoPiece {
					capturedType = captured.Type()
				}
				w.orderer.UpdateCaptureHistory(attackerPiece, move.To(), capturedType, depth, true)
			} else {
				w.orderer.UpdateKillers(move, ply)
				w.orderer.UpdateHistory(move, depth, true)
				w.orderer.UpdateCounterMove(prevMove, move, w.pos)

				if prevMove != board.NoMove {
					prevPiece := w.pos.PieceAt(prevMove.To())
					w.orderer.UpdateCountermoveHistory(prevMove, move, prevPiece, movingPiece, depth, true)
				}
			}

			return score
		}
	}

	if bestMove == board.NoMove && moves.Len() > 0 {
		bestMove = moves.Get(0)
		if bestScore == -Infinity {
			bestScore = alpha
		}
	}

	if flag == TTExact && !inCheck && depth >= 2 {
		w.corrHistory.Update(w.pos, bestScore, rawEval, depth)
	}

	w.tt.Store(w.pos.Hash, depth, AdjustScoreToTT(bestScore, ply), flag, bestMove)

	return bestScore
}

// quiescence searches captures (and, when in check, all evasions) to avoid the horizon effect.
func (w *Worker) quiescence(ply int, alpha, beta int) int {
	return w.quiescenceInternal(ply, 0, alpha, beta)
}

func (w *Worker) quiescenceInternal(ply, qPly int, alpha, beta int) int {
	const maxQuiescencePly = 32
	if ply >= MaxPly || qPly > maxQuiescencePly {
		return w.evaluate()
	}

	if w.stopFlag.Load() {
		return 0
	}

	w.nodes++
	originalAlpha := alpha

	var ttMove board.Move
	ttEntry, ttHit := w.tt.Probe(w.pos.Hash)
	if ttHit {
		ttMove = ttEntry.BestMove
		if ttMove != board.NoMove && !w.pos.PseudoLegal(ttMove) {
			ttMove = board.NoMove
		}
		if ttEntry.Depth >= 0 {
			score := AdjustScoreFromTT(int(ttEntry.Score), ply)
			switch ttEntry.Flag {
			case TTExact:
				return score
			case TTLowerBound:
				if score >= beta {
					return score
				}
			case TTUpperBound:
				if score <= alpha {
					return score
				}
			}
		}
	}

	inCheck := w.pos.InCheck()

	var standPat, bestValue int
	var bestMove board.Move

	if inCheck {
		bestValue = -MateScore + ply
		standPat = bestValue
	} else {
		lazyEval := EvaluateMaterial(w.pos)
		if lazyEval-lazyEvalMargin >= beta {
			return beta
		}
		if lazyEval+lazyEvalMargin <= alpha {
			return alpha
		}

		standPat = w.evaluate()
		bestValue = standPat

		if standPat >= beta {
			w.tt.Store(w.pos.Hash, 0, AdjustScoreToTT(standPat, ply), TTLowerBound, board.NoMove)
			return beta
		}

		if standPat > alpha {
			alpha = standPat
		}

		if standPat+QueenValue < alpha {
			return alpha
		}
	}

	var moves *board.MoveList
	if inCheck {
		moves = w.pos.GenerateLegalMoves()
	} else {
		moves = w.pos.GenerateCaptures()
	}

	scores := w.orderer.ScoreMoves(w.pos, moves, ply, ttMove)

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		move := moves.Get(i)

		if !inCheck && move.IsCapture(w.pos) {
			captureValue := qsCaptureValue(w.pos, move)
			futilityBase := standPat + 351

			if standPat+captureValue+200 < alpha && !move.IsPromotion() {
				if captureValue+futilityBase > bestValue {
					bestValue = captureValue + futilityBase
				}
				continue
			}

			seeValue := SEE(w.pos, move)
			if seeValue < 0 {
				continue
			}

			if futilityBase+seeValue <= alpha {
				if futilityBase > bestValue {
					bestValue = futilityBase
				}
				continue
			}
		}

		captured := w.pos.PieceAt(move.To())
		w.nnuePush()
		undo := w.pos.MakeMove(move)
		if !undo.Valid {
			w.pos.UnmakeMove(move, undo)
			w.nnuePop()
			continue
		}
		w.nnueUpdate(move, captured)

		score := -w.quiescenceInternal(ply+1, qPly+1, -beta, -alpha)
		w.pos.UnmakeMove(move, undo)
		w.nnuePop()

		if score > bestValue {
			bestValue = score
			bestMove = move

			if score > alpha {
				alpha = score
				if score >= beta {
					break
				}
			}
		}
	}

	if inCheck && bestValue == -MateScore+ply {
		return -MateScore + ply
	}

	var ttFlag TTFlag
	if bestValue >= beta {
		ttFlag = TTLowerBound
	} else if bestValue > originalAlpha {
		ttFlag = TTExact
	} else {
		ttFlag = TTUpperBound
	}
	w.tt.Store(w.pos.Hash, 0, AdjustScoreToTT(bestValue, ply), ttFlag, bestMove)

	return bestValue
}

// qsCaptureValue returns the material value of a capture for QS pruning.
func qsCaptureValue(pos *board.Position, move board.Move) int {
	var value int
	if move.IsEnPassant() {
		value = PawnValue
	} else {
		captured := pos.PieceAt(move.To())
		if captured != board.NoPiece {
			value = pieceValues[captured.Type()]
		}
	}
	if move.IsPromotion() {
		value += pieceValues[move.Promotion()] - PawnValue
	}
	return value
}

// detectSeriousThreats checks if the opponent has serious threats against our pieces.
func (w *Worker) detectSeriousThreats() bool {
	pos := w.pos
	us := pos.SideToMove
	them := us.Other()
	occupied := pos.AllOccupied

	enemyPawnAttacks := computePawnAttacksBB(pos, them)
	enemyKnightAttacks := computeKnightAttacksBB(pos, them)
	enemyBishopAttacks := computeBishopAttacksBB(pos, them, occupied)
	enemyRookAttacks := computeRookAttacksBB(pos, them, occupied)
	enemyQueenAttacks := computeQueenAttacksBB(pos, them, occupied)

	enemyAttacks := enemyPawnAttacks | enemyKnightAttacks | enemyBishopAttacks |
		enemyRookAttacks | enemyQueenAttacks

	ourPawnAttacks := computePawnAttacksBB(pos, us)
	ourKnightAttacks := computeKnightAttacksBB(pos, us)
	ourBishopAttacks := computeBishopAttacksBB(pos, us, occupied)
	ourRookAttacks := computeRookAttacksBB(pos, us, occupied)
	ourQueenAttacks := computeQueenAttacksBB(pos, us, occupied)
	ourKingAttacks := board.KingAttacks(pos.KingSquare[us])

	ourDefenses := ourPawnAttacks | ourKnightAttacks | ourBishopAttacks |
		ourRookAttacks | ourQueenAttacks | ourKingAttacks

	ourPieces := pos.Occupied[us] &^ board.SquareBB(pos.KingSquare[us])

	hangingPieces := ourPieces & enemyAttacks & ^ourDefenses

	for hangingPieces != 0 {
		sq := hangingPieces.PopLSB()
		piece := pos.PieceAt(sq)
		if piece != board.NoPiece && pieceValues[piece.Type()] >= threatExtensionThreshold {
			return true
		}
	}

	queens := pos.Pieces[us][board.Queen]
	if queens&(enemyPawnAttacks|enemyKnightAttacks|enemyBishopAttacks|enemyRookAttacks) != 0 {
		return true
	}

	rooks := pos.Pieces[us][board.Rook]
	if rooks&(enemyPawnAttacks|enemyKnightAttacks|enemyBishopAttacks) != 0 {
		return true
	}

	return false
}
