package services

import (
	"log"
	"time"

	"combat-settlement-system/utils"
)

// SideSnapshot is the per-fighter view carried on every event.
type SideSnapshot struct {
	HP        int  `json:"hp"`
	Energy    int  `json:"energy"`
	Guard     int  `json:"guard"`
	Stunned   bool `json:"stunned"`
	RoundsWon int  `json:"rounds_won"`
}

type RoundStartingEvent struct {
	MatchID          string       `json:"match_id"`
	RoundNumber      int          `json:"round_number"`
	Player1          SideSnapshot `json:"player1"`
	Player2          SideSnapshot `json:"player2"`
	MoveDeadline     time.Time    `json:"move_deadline"`
	CountdownSeconds int          `json:"countdown_seconds"`
}

type RoundResolvedEvent struct {
	MatchID       string       `json:"match_id"`
	RoundNumber   int          `json:"round_number"`
	Player1Move   string       `json:"player1_move"`
	Player2Move   string       `json:"player2_move"`
	Player1Damage int          `json:"player1_damage"` // damage taken
	Player2Damage int          `json:"player2_damage"`
	Player1       SideSnapshot `json:"player1"`
	Player2       SideSnapshot `json:"player2"`
	RoundWinnerID *string      `json:"round_winner_id,omitempty"`
	MatchWinnerID *string      `json:"match_winner_id,omitempty"`
	Narrative     []string     `json:"narrative,omitempty"`
}

type MatchEndedEvent struct {
	MatchID          string         `json:"match_id"`
	WinningSide      int            `json:"winning_side"`
	WinnerID         string         `json:"winner_id,omitempty"`
	Reason           string         `json:"reason"`
	Player1RoundsWon int            `json:"player1_rounds_won"`
	Player2RoundsWon int            `json:"player2_rounds_won"`
	RatingDeltas     map[string]int `json:"rating_deltas,omitempty"`
}

type MatchCancelledEvent struct {
	MatchID       string `json:"match_id"`
	Reason        string `json:"reason"`
	RefundedBets  int    `json:"refunded_bets"`
	RefundedSompi int64  `json:"refunded_sompi"`
}

// Notifier is the capability handed to the core for telling subscribers
// about match X. The contract is one call per state-changing event; the
// delivery mechanism behind it is not the core's concern.
type Notifier interface {
	RoundStarting(ev RoundStartingEvent)
	RoundResolved(ev RoundResolvedEvent)
	MatchEnded(ev MatchEndedEvent)
	MatchCancelled(ev MatchCancelledEvent)
}

// LogNotifier writes events to the service log. The default wiring until
// a real pub/sub channel is attached in front of it.
type LogNotifier struct{}

func (LogNotifier) RoundStarting(ev RoundStartingEvent) {
	log.Printf("🥊 [NOTIFY] match %s round %d starting, deadline %s", ev.MatchID, ev.RoundNumber, ev.MoveDeadline.Format(time.RFC3339))
}

func (LogNotifier) RoundResolved(ev RoundResolvedEvent) {
	log.Printf("💥 [NOTIFY] match %s round %d resolved: %s vs %s (hp %d/%d)", ev.MatchID, ev.RoundNumber, ev.Player1Move, ev.Player2Move, ev.Player1.HP, ev.Player2.HP)
}

func (LogNotifier) MatchEnded(ev MatchEndedEvent) {
	log.Printf("🏆 [NOTIFY] match %s ended: winner %s (%s) %d-%d", ev.MatchID, ev.WinnerID, ev.Reason, ev.Player1RoundsWon, ev.Player2RoundsWon)
}

func (LogNotifier) MatchCancelled(ev MatchCancelledEvent) {
	log.Printf("↩️  [NOTIFY] match %s cancelled (%s): refunded %d bet(s), %s", ev.MatchID, ev.Reason, ev.RefundedBets, utils.FormatKAS(ev.RefundedSompi))
}
