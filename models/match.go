package models

import (
	"time"

	"gorm.io/gorm"
)

// Match statuses. Transitions are monotonic:
// waiting → in_progress → {completed, cancelled}.
const (
	MatchStatusWaiting    = "waiting"
	MatchStatusInProgress = "in_progress"
	MatchStatusCompleted  = "completed"
	MatchStatusCancelled  = "cancelled"
)

// Match end reasons, reported in the match-ended event. Expired is the
// liveness sweep cancelling a dead-even match past its time budget.
const (
	EndReasonRoundsWon        = "rounds_won"
	EndReasonKnockout         = "knockout"
	EndReasonOpponentRejected = "opponent_rejected"
	EndReasonBothDisconnected = "both_disconnected"
	EndReasonExpired          = "expired"
)

// Match is created fully populated by the matchmaking service.
// Player2ID stays nil until a bot match is filled.
type Match struct {
	ID        string  `gorm:"primaryKey;type:uuid" json:"id"`
	Player1ID string  `gorm:"index;not null" json:"player1_id"`
	Player2ID *string `gorm:"index" json:"player2_id,omitempty"`

	Player1Character string `gorm:"type:varchar(64);not null" json:"player1_character"`
	Player2Character string `gorm:"type:varchar(64);not null" json:"player2_character"`

	// Format is best-of-N, N odd. A side wins the match at ceil(N/2) rounds.
	Format int    `gorm:"not null;default:3" json:"format"`
	Status string `gorm:"type:varchar(16);not null;default:'waiting';index" json:"status"`

	Player1RoundsWon int `gorm:"default:0" json:"player1_rounds_won"`
	Player2RoundsWon int `gorm:"default:0" json:"player2_rounds_won"`

	// WinningSide is the authoritative outcome (0 = undecided). WinnerID
	// stays nil when the winning side has no player id, as when a bot
	// takes side 2.
	WinningSide int     `gorm:"default:0" json:"winning_side"`
	WinnerID    *string `json:"winner_id,omitempty"`
	EndReason   string  `gorm:"type:varchar(32)" json:"end_reason,omitempty"`

	// Per-player stake in sompi. 0 = friendly match, nothing to settle.
	StakeAmount     int64   `gorm:"default:0" json:"stake_amount"`
	Player1StakeRef *string `json:"player1_stake_ref,omitempty"`
	Player2StakeRef *string `json:"player2_stake_ref,omitempty"`

	Player1DisconnectedAt *time.Time `json:"player1_disconnected_at,omitempty"`
	Player2DisconnectedAt *time.Time `json:"player2_disconnected_at,omitempty"`

	// Guard for the stake-settlement path. Set exactly once via a
	// conditional update on settled_at IS NULL.
	SettledAt *time.Time `json:"settled_at,omitempty"`

	Timestamps
}

// Round statuses. open → resolving → resolved; the resolving hop is the
// conditional update that serializes near-simultaneous resolution attempts.
const (
	RoundStatusOpen      = "open"
	RoundStatusResolving = "resolving"
	RoundStatusResolved  = "resolved"
)

// Round is one simultaneous move exchange, append-only once resolved.
// The ordered sequence of resolved rounds for a match is the move ledger;
// scoring rounds in the best-of-N sense are derived by replaying it.
type Round struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID     string `gorm:"not null;uniqueIndex:idx_rounds_match_number" json:"match_id"`
	RoundNumber int    `gorm:"not null;uniqueIndex:idx_rounds_match_number" json:"round_number"`

	Player1Move *string `gorm:"type:varchar(16)" json:"player1_move,omitempty"`
	Player2Move *string `gorm:"type:varchar(16)" json:"player2_move,omitempty"`

	// Forced marks a system-filled block written for a stunned side, so
	// replay stays deterministic without guessing.
	Player1Forced bool `gorm:"default:false" json:"player1_forced"`
	Player2Forced bool `gorm:"default:false" json:"player2_forced"`

	// Damage taken by each side this exchange, and health after it.
	Player1Damage  int `gorm:"default:0" json:"player1_damage"`
	Player2Damage  int `gorm:"default:0" json:"player2_damage"`
	Player1HPAfter int `gorm:"default:0" json:"player1_hp_after"`
	Player2HPAfter int `gorm:"default:0" json:"player2_hp_after"`

	// WinnerID is set when this exchange closes a scoring round.
	WinnerID *string `json:"winner_id,omitempty"`

	Status       string    `gorm:"type:varchar(16);not null;default:'open'" json:"status"`
	MoveDeadline time.Time `json:"move_deadline"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
