// Package combat is the pure turn-resolution engine. It keeps no state
// between calls: every resolution replays the full ordered move ledger
// from the first exchange, seeded from character base stats. That makes
// resolution idempotent — two replays of the same ledger yield identical
// state — and crash-safe, at O(exchanges) cost per call.
package combat

import (
	"errors"
	"fmt"
)

var (
	ErrMatchOver          = errors.New("match already decided")
	ErrInvalidMove        = errors.New("invalid move type")
	ErrInsufficientEnergy = errors.New("not enough energy for special")
	ErrStunnedMove        = errors.New("stunned side must resolve as a forced block")
	ErrBadFormat          = errors.New("format must be an odd best-of-N")
)

// Character is the stat seed for one side.
type Character struct {
	MaxHP       int
	MaxEnergy   int
	AttackPower int // percent modifier on base move damage
}

// Turn is one resolved simultaneous move pair from the ledger. Forced
// flags mark system-filled blocks written for a stunned side.
type Turn struct {
	P1Move   MoveType
	P2Move   MoveType
	P1Forced bool
	P2Forced bool
}

// SideState is the derived per-fighter state.
type SideState struct {
	HP        int
	Energy    int
	Guard     int
	Stunned   bool
	RoundsWon int
}

// State is the full derived combat state. Never persisted — always the
// result of folding the ledger.
type State struct {
	P1 SideState
	P2 SideState

	CurrentRound int // 1-based scoring round
	CurrentTurn  int // exchanges resolved within the current round

	IsRoundOver bool // the last exchange closed a scoring round
	RoundWinner Side

	IsMatchOver bool
	MatchWinner Side
}

// TurnResult describes the outcome of a single exchange.
type TurnResult struct {
	P1Damage  int // damage taken by side 1
	P2Damage  int
	P1HPAfter int
	P2HPAfter int

	P1Stunned bool // stunned for the next exchange
	P2Stunned bool

	RoundOver      bool
	RoundWinner    Side
	RoundEndReason string // "knockout", "decision", "forfeit" when RoundOver

	MatchOver   bool
	MatchWinner Side
}

// Round end reasons.
const (
	RoundEndKnockout = "knockout"
	RoundEndDecision = "decision"
	RoundEndForfeit  = "forfeit"
)

// Resolve folds the ordered exchange ledger into derived state. The last
// TurnResult is returned alongside so a caller sealing the newest ledger
// row does not need a second pass. An empty ledger yields the seeded
// opening state and a zero TurnResult.
func Resolve(p1, p2 Character, format int, turns []Turn) (*State, *TurnResult, error) {
	if !ValidFormat(format) {
		return nil, nil, ErrBadFormat
	}

	st := &State{
		P1:           seedSide(p1),
		P2:           seedSide(p2),
		CurrentRound: 1,
	}

	var last TurnResult
	for i, t := range turns {
		if st.IsMatchOver {
			return nil, nil, fmt.Errorf("exchange %d: %w", i+1, ErrMatchOver)
		}
		res, err := applyTurn(st, p1, p2, format, t)
		if err != nil {
			return nil, nil, fmt.Errorf("exchange %d: %w", i+1, err)
		}
		last = *res
	}

	return st, &last, nil
}

// ValidateMove checks whether a side may legally play move given the
// current derived state. Used at submission time so an illegal move is
// rejected before it ever reaches the ledger.
func ValidateMove(st *State, side Side, move MoveType, forced bool) error {
	if st.IsMatchOver {
		return ErrMatchOver
	}
	if !ValidMove(move) {
		return ErrInvalidMove
	}
	ss := st.side(side)
	if ss.Stunned && !(move == MoveBlock && forced) {
		return ErrStunnedMove
	}
	if move == MoveSpecial && ss.Energy < moveSpecs[MoveSpecial].EnergyCost {
		return ErrInsufficientEnergy
	}
	return nil
}

func seedSide(c Character) SideState {
	return SideState{HP: c.MaxHP, Energy: 0}
}

func (st *State) side(s Side) *SideState {
	if s == Side1 {
		return &st.P1
	}
	return &st.P2
}

func applyTurn(st *State, c1, c2 Character, format int, t Turn) (*TurnResult, error) {
	res := &TurnResult{}

	// Forfeit short-circuit: no combat is resolved, the scoring round is
	// awarded to the opponent. Both rejecting voids the round.
	if t.P1Move == MoveReject || t.P2Move == MoveReject {
		winner := SideNone
		if t.P1Move == MoveReject && t.P2Move != MoveReject {
			winner = Side2
		} else if t.P2Move == MoveReject && t.P1Move != MoveReject {
			winner = Side1
		}
		res.P1HPAfter = st.P1.HP
		res.P2HPAfter = st.P2.HP
		closeRound(st, c1, c2, format, winner, RoundEndForfeit, res)
		return res, nil
	}

	// Replay-time enforcement of the same rules the submission path
	// validates. A violation here means the ledger is corrupt.
	if err := checkLedgerMove(&st.P1, t.P1Move, t.P1Forced); err != nil {
		return nil, fmt.Errorf("side 1: %w", err)
	}
	if err := checkLedgerMove(&st.P2, t.P2Move, t.P2Forced); err != nil {
		return nil, fmt.Errorf("side 2: %w", err)
	}

	spec1 := moveSpecs[t.P1Move]
	spec2 := moveSpecs[t.P2Move]

	// Energy costs are paid up front; gains land after the exchange.
	st.P1.Energy -= spec1.EnergyCost
	st.P2.Energy -= spec2.EnergyCost

	raw1 := spec1.Damage * c1.AttackPower / 100 // dealt by side 1
	raw2 := spec2.Damage * c2.AttackPower / 100

	dmgTo2 := mitigate(raw1, t.P2Move, t.P1Move)
	dmgTo1 := mitigate(raw2, t.P1Move, t.P2Move)

	// A deliberate block absorbing an incoming attack accumulates guard
	// even when the damage is fully nullified. Forced blocks are a
	// stagger, not an active guard, and do not accumulate.
	stun1 := accumulateGuard(&st.P1, t.P1Move, t.P1Forced, raw2)
	stun2 := accumulateGuard(&st.P2, t.P2Move, t.P2Forced, raw1)

	st.P1.HP = clamp(st.P1.HP-dmgTo1, 0, c1.MaxHP)
	st.P2.HP = clamp(st.P2.HP-dmgTo2, 0, c2.MaxHP)

	st.P1.Energy = clamp(st.P1.Energy+spec1.EnergyGain, 0, c1.MaxEnergy)
	st.P2.Energy = clamp(st.P2.Energy+spec2.EnergyGain, 0, c2.MaxEnergy)

	// A consumed stun clears (the forced block resolved it); a fresh
	// guard break stuns the next exchange.
	st.P1.Stunned = stun1
	st.P2.Stunned = stun2

	res.P1Damage = dmgTo1
	res.P2Damage = dmgTo2
	res.P1HPAfter = st.P1.HP
	res.P2HPAfter = st.P2.HP
	res.P1Stunned = st.P1.Stunned
	res.P2Stunned = st.P2.Stunned

	st.CurrentTurn++
	st.IsRoundOver = false
	st.RoundWinner = SideNone

	switch {
	case st.P1.HP == 0 || st.P2.HP == 0:
		winner := SideNone
		switch {
		case st.P1.HP == 0 && st.P2.HP == 0:
			// Double knockout: the heavier hitter of this exchange takes
			// the round, a perfectly even trade voids it.
			if dmgTo2 > dmgTo1 {
				winner = Side1
			} else if dmgTo1 > dmgTo2 {
				winner = Side2
			}
		case st.P1.HP == 0:
			winner = Side2
		default:
			winner = Side1
		}
		closeRound(st, c1, c2, format, winner, RoundEndKnockout, res)
	case st.CurrentTurn >= TurnLimit:
		winner := SideNone
		if st.P1.HP > st.P2.HP {
			winner = Side1
		} else if st.P2.HP > st.P1.HP {
			winner = Side2
		}
		closeRound(st, c1, c2, format, winner, RoundEndDecision, res)
	}

	return res, nil
}

func checkLedgerMove(ss *SideState, m MoveType, forced bool) error {
	if !ValidMove(m) || m == MoveReject {
		return ErrInvalidMove
	}
	if ss.Stunned && !(m == MoveBlock && forced) {
		return ErrStunnedMove
	}
	if m == MoveSpecial && ss.Energy < moveSpecs[MoveSpecial].EnergyCost {
		return ErrInsufficientEnergy
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// mitigate applies the defender's move to incoming raw damage: a block
// nullifies punch and kick and halves a special.
func mitigate(raw int, defenderMove, attackerMove MoveType) int {
	if raw <= 0 {
		return 0
	}
	if defenderMove == MoveBlock {
		if attackerMove == MoveSpecial {
			return raw / 2
		}
		return 0
	}
	return raw
}

// accumulateGuard bumps the meter for a deliberate block that absorbed an
// attack and reports whether the guard broke this exchange.
func accumulateGuard(ss *SideState, move MoveType, forced bool, incomingRaw int) bool {
	if move != MoveBlock || forced || incomingRaw <= 0 {
		return false
	}
	ss.Guard++
	if ss.Guard >= GuardBreakThreshold {
		ss.Guard = 0
		return true
	}
	return false
}

// closeRound finalizes a scoring round, advances counters, and either
// ends the match at the majority threshold or resets both sides for the
// next round.
func closeRound(st *State, c1, c2 Character, format int, winner Side, reason string, res *TurnResult) {
	st.IsRoundOver = true
	st.RoundWinner = winner

	if winner != SideNone {
		st.side(winner).RoundsWon++
	}

	res.RoundOver = true
	res.RoundWinner = winner
	res.RoundEndReason = reason

	needed := WinsNeeded(format)
	if winner != SideNone && st.side(winner).RoundsWon >= needed {
		st.IsMatchOver = true
		st.MatchWinner = winner
		res.MatchOver = true
		res.MatchWinner = winner
		return
	}

	// Fresh round: health, energy, guard and stun all reseed; round-win
	// counters are the only state that carries across.
	w1, w2 := st.P1.RoundsWon, st.P2.RoundsWon
	st.P1 = SideState{HP: c1.MaxHP, RoundsWon: w1}
	st.P2 = SideState{HP: c2.MaxHP, RoundsWon: w2}
	st.CurrentRound++
	st.CurrentTurn = 0
}
