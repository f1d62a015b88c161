package models

import (
	"time"
)

// WagerPool statuses. open → locked → resolved; settlement is the only
// writer allowed to make the final hop and does it with a conditional
// update, so a second settle attempt observes resolved and no-ops.
const (
	PoolStatusOpen     = "open"
	PoolStatusLocked   = "locked"
	PoolStatusResolved = "resolved"
)

// WagerPool aggregates all spectator bets on one match. Exactly one pool
// per match (unique index), created lazily on the first bet. While the
// pool is open the aggregates equal the sum of net amounts over pending
// and confirmed bets; settlement refunds whatever is still pending and
// rewrites the aggregates to confirmed-only sums, so a resolved pool
// satisfies sum(net over confirmed+won+lost) == total_pool.
type WagerPool struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID string `gorm:"uniqueIndex;not null" json:"match_id"`

	// Net sompi, per side and total. Fees are tracked separately.
	Side1Total int64 `gorm:"default:0" json:"side1_total"`
	Side2Total int64 `gorm:"default:0" json:"side2_total"`
	TotalPool  int64 `gorm:"default:0" json:"total_pool"`
	TotalFees  int64 `gorm:"default:0" json:"total_fees"`

	Status      string    `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	WinningSide *int      `json:"winning_side,omitempty"`
	ClosesAt    time.Time `json:"closes_at"`

	Timestamps
}

// Bet statuses. pending until the transfer service verifies the deposit,
// then confirmed; exactly one terminal status (won/lost/refunded) is ever
// reached and never revisited.
const (
	BetStatusPending   = "pending"
	BetStatusConfirmed = "confirmed"
	BetStatusWon       = "won"
	BetStatusLost      = "lost"
	BetStatusRefunded  = "refunded"
)

// Bet is a spectator wager on one side of a match.
type Bet struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	PoolID   string `gorm:"index;not null" json:"pool_id"`
	BettorID string `gorm:"index;not null" json:"bettor_id"`
	Side     int    `gorm:"not null" json:"side"`

	GrossAmount int64 `gorm:"not null" json:"gross_amount"`
	FeeAmount   int64 `gorm:"not null" json:"fee_amount"`
	NetAmount   int64 `gorm:"not null" json:"net_amount"`

	// TransferRef ties the bet to exactly one on-ledger deposit. The
	// unique index rejects a resubmitted transfer before it can be
	// counted twice.
	TransferRef string `gorm:"uniqueIndex;not null" json:"transfer_ref"`

	Status       string `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	PayoutAmount int64  `gorm:"default:0" json:"payout_amount"`

	Timestamps
}

// Disbursement statuses.
const (
	DisbursementStatusPending   = "pending"
	DisbursementStatusSent      = "sent"
	DisbursementStatusConfirmed = "confirmed"
	DisbursementStatusFailed    = "failed"
)

// Disbursement kinds.
const (
	DisbursementKindPayout      = "payout"
	DisbursementKindRefund      = "refund"
	DisbursementKindStakePayout = "stake_payout"
	DisbursementKindStakeRefund = "stake_refund"
)

// Disbursement is one instruction to the external transfer service.
// Rows are written durably in the same transaction as the settlement
// bookkeeping; only the outbound transfer itself retries afterwards, so
// a transfer timeout never re-derives an amount. SettlementRef is the
// dedupe key the transfer service uses to reject duplicates.
type Disbursement struct {
	ID      string  `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID string  `gorm:"index;not null" json:"match_id"`
	BetID   *string `gorm:"index" json:"bet_id,omitempty"` // nil for player stakes

	Recipient     string `gorm:"not null" json:"recipient"`
	Amount        int64  `gorm:"not null" json:"amount"`
	SettlementRef string `gorm:"uniqueIndex;not null" json:"settlement_ref"`
	Kind          string `gorm:"type:varchar(16);not null" json:"kind"`

	Status    string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Attempts  int        `gorm:"default:0" json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`

	Timestamps
}
