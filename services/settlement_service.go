package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"combat-settlement-system/models"
	"combat-settlement-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxDisbursementAttempts caps transfer retries before an operator has
// to look at the row.
const maxDisbursementAttempts = 10

var (
	ErrMatchNotSettleable = errors.New("match is not in a settleable state")
	ErrNoWinner           = errors.New("completed match has no winner recorded")
)

// SettlementOutcome summarizes what one settlement (or refund) pass did,
// or — when AlreadySettled — what the earlier pass did.
type SettlementOutcome struct {
	MatchID          string `json:"match_id"`
	WinningSide      int    `json:"winning_side,omitempty"`
	TotalPool        int64  `json:"total_pool"`
	WinningSideStake int64  `json:"winning_side_stake"`
	PayoutCount      int    `json:"payout_count"`
	PaidSompi        int64  `json:"paid_sompi"`
	RefundCount      int    `json:"refund_count"`
	RefundedSompi    int64  `json:"refunded_sompi"`
	AlreadySettled   bool   `json:"already_settled"`
}

// SettlementService turns a finalized match outcome into exact,
// idempotent, fee-aware payouts. Settle-once is enforced by conditional
// status transitions on the pool row (open|locked → resolved) and on
// matches.settled_at for player stakes — never by in-process locks, so
// redundant callers across server instances are benign.
type SettlementService struct {
	DB        *gorm.DB
	Transfers *TransferClient
}

func NewSettlementService(db *gorm.DB, transfers *TransferClient) *SettlementService {
	return &SettlementService{DB: db, Transfers: transfers}
}

// SettleMatch is the single settlement entry point for a completed
// match, shared by the client-driven path and the liveness sweep.
// Calling it on an already-settled match returns the prior outcome with
// no second mutation.
func (s *SettlementService) SettleMatch(matchID string) (*SettlementOutcome, error) {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("match %s: %w", matchID, gorm.ErrRecordNotFound)
		}
		return nil, err
	}
	if match.Status == models.MatchStatusCancelled {
		return s.RefundMatch(matchID)
	}
	if match.Status != models.MatchStatusCompleted {
		return nil, ErrMatchNotSettleable
	}
	winningSide := match.WinningSide
	if winningSide == 0 && match.WinnerID != nil {
		winningSide = 1
		if match.Player2ID != nil && *match.WinnerID == *match.Player2ID {
			winningSide = 2
		}
	}
	if winningSide == 0 {
		return nil, ErrNoWinner
	}

	outcome := &SettlementOutcome{MatchID: matchID, WinningSide: winningSide}

	if err := s.settleStakes(&match); err != nil {
		return nil, err
	}

	var pool models.WagerPool
	if err := s.DB.First(&pool, "match_id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No spectator pool ever opened. Stakes are already handled.
			s.finishSettlement(matchID)
			return outcome, nil
		}
		return nil, err
	}

	// The settle-once gate rides inside the bookkeeping transaction:
	// a failed pass rolls the gate back with everything else, so the
	// pool stays settleable and a retry runs the full pass again.
	// Losing the conditional update means a racing caller already
	// resolved the pool; report its outcome instead of mutating again.
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WagerPool{}).
			Where("id = ? AND status IN ?", pool.ID, []string{models.PoolStatusOpen, models.PoolStatusLocked}).
			Updates(map[string]interface{}{
				"status":       models.PoolStatusResolved,
				"winning_side": winningSide,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyResolved
		}
		return s.settlePoolBets(tx, &match, &pool, winningSide, outcome)
	})
	if errors.Is(err, errAlreadyResolved) {
		return s.priorOutcome(&pool, outcome)
	}
	if err != nil {
		return nil, err
	}

	s.finishSettlement(matchID)
	return outcome, nil
}

var errAlreadyResolved = errors.New("pool already resolved")

// settlePoolBets does the bookkeeping for a freshly-resolved pool,
// inside the caller's transaction: refund unverified bets, mark losers,
// compute pari-mutuel payouts for confirmed winners, and write the
// disbursement rows. All of it commits before any transfer is attempted.
func (s *SettlementService) settlePoolBets(tx *gorm.DB, match *models.Match, pool *models.WagerPool, winningSide int, outcome *SettlementOutcome) error {
	var bets []models.Bet
	if err := tx.Where("pool_id = ?", pool.ID).Order("created_at asc").Find(&bets).Error; err != nil {
		return err
	}

	// Bets whose deposit was never verified refund at gross and leave
	// the pool math entirely.
	var refundedNet, refundedFees int64
	var side1, side2 int64
	var winners []models.Bet
	for i := range bets {
		b := &bets[i]
		switch b.Status {
		case models.BetStatusPending:
			if err := refundBet(tx, b, match.ID, outcome); err != nil {
				return err
			}
			refundedNet += b.NetAmount
			refundedFees += b.FeeAmount
		case models.BetStatusConfirmed:
			if b.Side == 1 {
				side1 += b.NetAmount
			} else {
				side2 += b.NetAmount
			}
			if b.Side == winningSide {
				winners = append(winners, *b)
			} else {
				res := tx.Model(&models.Bet{}).
					Where("id = ? AND status = ?", b.ID, models.BetStatusConfirmed).
					Update("status", models.BetStatusLost)
				if res.Error != nil {
					return res.Error
				}
			}
		}
	}

	if refundedNet > 0 || refundedFees > 0 {
		if err := tx.Model(&models.WagerPool{}).Where("id = ?", pool.ID).
			Updates(map[string]interface{}{
				"side1_total": side1,
				"side2_total": side2,
				"total_pool":  side1 + side2,
				"total_fees":  gorm.Expr("total_fees - ?", refundedFees),
			}).Error; err != nil {
			return err
		}
	}

	totalPool := side1 + side2
	winningTotal := side1
	if winningSide == 2 {
		winningTotal = side2
	}
	outcome.TotalPool = totalPool
	outcome.WinningSideStake = winningTotal

	// Zero winning-side stake: the pool resolves with no payouts.
	if winningTotal == 0 {
		return nil
	}

	for i := range winners {
		b := &winners[i]
		payout := utils.ProRata(b.NetAmount, totalPool, winningTotal)
		res := tx.Model(&models.Bet{}).
			Where("id = ? AND status = ?", b.ID, models.BetStatusConfirmed).
			Updates(map[string]interface{}{
				"status":        models.BetStatusWon,
				"payout_amount": payout,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		if payout > 0 {
			betID := b.ID
			if err := tx.Create(&models.Disbursement{
				ID:            uuid.NewString(),
				MatchID:       match.ID,
				BetID:         &betID,
				Recipient:     b.BettorID,
				Amount:        payout,
				SettlementRef: "settle:" + b.ID,
				Kind:          models.DisbursementKindPayout,
				Status:        models.DisbursementStatusPending,
			}).Error; err != nil {
				return err
			}
		}
		outcome.PayoutCount++
		outcome.PaidSompi += payout
	}
	return nil
}

// RefundMatch is the cancellation path: every non-terminal bet and every
// recorded player stake refunds at its original gross amount. The fee is
// not retained on a match that never legitimately concluded. Idempotent
// per bet and per pool exactly like SettleMatch.
func (s *SettlementService) RefundMatch(matchID string) (*SettlementOutcome, error) {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return nil, err
	}
	if match.Status != models.MatchStatusCancelled {
		return nil, ErrMatchNotSettleable
	}

	outcome := &SettlementOutcome{MatchID: matchID}

	if err := s.refundStakes(&match); err != nil {
		return nil, err
	}

	var pool models.WagerPool
	if err := s.DB.First(&pool, "match_id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.finishSettlement(matchID)
			return outcome, nil
		}
		return nil, err
	}

	// Gate and refunds commit together: a failed pass rolls the gate
	// back and the next sweep runs the whole refund again.
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WagerPool{}).
			Where("id = ? AND status IN ?", pool.ID, []string{models.PoolStatusOpen, models.PoolStatusLocked}).
			Update("status", models.PoolStatusResolved)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyResolved
		}

		var bets []models.Bet
		if err := tx.Where("pool_id = ? AND status IN ?", pool.ID,
			[]string{models.BetStatusPending, models.BetStatusConfirmed}).Find(&bets).Error; err != nil {
			return err
		}
		for i := range bets {
			if err := refundBet(tx, &bets[i], matchID, outcome); err != nil {
				return err
			}
		}
		// Every bet is now refunded; the aggregate invariant says the
		// totals must read zero.
		return tx.Model(&models.WagerPool{}).Where("id = ?", pool.ID).
			Updates(map[string]interface{}{
				"side1_total": 0,
				"side2_total": 0,
				"total_pool":  0,
				"total_fees":  0,
			}).Error
	})
	if errors.Is(err, errAlreadyResolved) {
		return s.priorOutcome(&pool, outcome)
	}
	if err != nil {
		return nil, err
	}

	s.finishSettlement(matchID)
	return outcome, nil
}

// refundBet flips one bet to refunded and records a gross-amount refund
// disbursement. The conditional update makes repeated sweeps observe the
// terminal status and skip.
func refundBet(tx *gorm.DB, b *models.Bet, matchID string, outcome *SettlementOutcome) error {
	res := tx.Model(&models.Bet{}).
		Where("id = ? AND status IN ?", b.ID, []string{models.BetStatusPending, models.BetStatusConfirmed}).
		Update("status", models.BetStatusRefunded)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	betID := b.ID
	if err := tx.Create(&models.Disbursement{
		ID:            uuid.NewString(),
		MatchID:       matchID,
		BetID:         &betID,
		Recipient:     b.BettorID,
		Amount:        b.GrossAmount,
		SettlementRef: "refund:" + b.ID,
		Kind:          models.DisbursementKindRefund,
		Status:        models.DisbursementStatusPending,
	}).Error; err != nil {
		return err
	}
	outcome.RefundCount++
	outcome.RefundedSompi += b.GrossAmount
	return nil
}

// settleStakes pays the winner both player stakes minus the fee. The
// conditional update on settled_at is the only gate; losing it means an
// earlier pass already handled the stakes, and it commits with the
// disbursement row so a failed pass leaves the stakes settleable.
func (s *SettlementService) settleStakes(match *models.Match) error {
	if match.StakeAmount <= 0 {
		return nil
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND settled_at IS NULL", match.ID).
			Update("settled_at", time.Now().UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		bothStaked := match.Player1StakeRef != nil && match.Player2StakeRef != nil
		if bothStaked && match.WinnerID != nil {
			gross := 2 * match.StakeAmount
			amount := gross - utils.Fee(gross)
			return tx.Create(&models.Disbursement{
				ID:            uuid.NewString(),
				MatchID:       match.ID,
				Recipient:     *match.WinnerID,
				Amount:        amount,
				SettlementRef: "stake:" + match.ID,
				Kind:          models.DisbursementKindStakePayout,
				Status:        models.DisbursementStatusPending,
			}).Error
		}

		// Either only one deposit ever landed, or the winning side has
		// no payable player (a bot took the match): recorded deposits
		// hand back gross.
		return refundRecordedStakes(tx, match)
	})
}

// refundStakes refunds recorded player stakes gross on cancellation,
// under the same settled_at gate.
func (s *SettlementService) refundStakes(match *models.Match) error {
	if match.StakeAmount <= 0 {
		return nil
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND settled_at IS NULL", match.ID).
			Update("settled_at", time.Now().UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return refundRecordedStakes(tx, match)
	})
}

func refundRecordedStakes(tx *gorm.DB, match *models.Match) error {
	if match.Player1StakeRef != nil {
		if err := tx.Create(&models.Disbursement{
			ID:            uuid.NewString(),
			MatchID:       match.ID,
			Recipient:     match.Player1ID,
			Amount:        match.StakeAmount,
			SettlementRef: "stake-refund:" + match.ID + ":1",
			Kind:          models.DisbursementKindStakeRefund,
			Status:        models.DisbursementStatusPending,
		}).Error; err != nil {
			return err
		}
	}
	if match.Player2StakeRef != nil && match.Player2ID != nil {
		if err := tx.Create(&models.Disbursement{
			ID:            uuid.NewString(),
			MatchID:       match.ID,
			Recipient:     *match.Player2ID,
			Amount:        match.StakeAmount,
			SettlementRef: "stake-refund:" + match.ID + ":2",
			Kind:          models.DisbursementKindStakeRefund,
			Status:        models.DisbursementStatusPending,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// priorOutcome reconstructs the summary of an earlier settlement pass
// from the persisted rows, so a second caller gets the same answer
// without a second mutation.
func (s *SettlementService) priorOutcome(pool *models.WagerPool, outcome *SettlementOutcome) (*SettlementOutcome, error) {
	var fresh models.WagerPool
	if err := s.DB.First(&fresh, "id = ?", pool.ID).Error; err != nil {
		return nil, err
	}
	outcome.AlreadySettled = true
	outcome.TotalPool = fresh.TotalPool
	if fresh.WinningSide != nil {
		outcome.WinningSide = *fresh.WinningSide
		if *fresh.WinningSide == 1 {
			outcome.WinningSideStake = fresh.Side1Total
		} else {
			outcome.WinningSideStake = fresh.Side2Total
		}
	}

	var bets []models.Bet
	if err := s.DB.Where("pool_id = ?", pool.ID).Find(&bets).Error; err != nil {
		return nil, err
	}
	outcome.PayoutCount = 0
	outcome.PaidSompi = 0
	outcome.RefundCount = 0
	outcome.RefundedSompi = 0
	for _, b := range bets {
		switch b.Status {
		case models.BetStatusWon:
			outcome.PayoutCount++
			outcome.PaidSompi += b.PayoutAmount
		case models.BetStatusRefunded:
			outcome.RefundCount++
			outcome.RefundedSompi += b.GrossAmount
		}
	}
	return outcome, nil
}

// finishSettlement archives the audit record and pushes pending
// disbursements once. Both best-effort: bookkeeping is already durable
// and the disbursement worker retries independently.
func (s *SettlementService) finishSettlement(matchID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := s.ArchiveMatch(ctx, matchID); err != nil {
		log.Printf("⚠️  Failed to archive settlement record for match %s: %v", matchID, err)
	}
	if _, err := s.DispatchPending(ctx, matchID); err != nil {
		log.Printf("⚠️  Disbursement dispatch after settling match %s: %v", matchID, err)
	}
}

// DispatchPending sends pending and retryable failed disbursements for
// one match (or all matches when matchID is empty). Double-sending is
// harmless — the transfer service dedupes on settlement_ref — so rows
// are only marked sent after a successful call.
func (s *SettlementService) DispatchPending(ctx context.Context, matchID string) (int, error) {
	if s.Transfers == nil {
		return 0, nil
	}

	q := s.DB.Where("status IN ? AND attempts < ?",
		[]string{models.DisbursementStatusPending, models.DisbursementStatusFailed}, maxDisbursementAttempts)
	if matchID != "" {
		q = q.Where("match_id = ?", matchID)
	}
	var rows []models.Disbursement
	if err := q.Order("created_at asc").Find(&rows).Error; err != nil {
		return 0, err
	}

	sent := 0
	for i := range rows {
		d := &rows[i]
		err := s.Transfers.Disburse(ctx, d.Recipient, d.Amount, d.SettlementRef)
		if err != nil {
			log.Printf("⚠️  Disbursement %s (%s, %s) failed: %v", d.ID, d.Kind, utils.FormatKAS(d.Amount), err)
			s.DB.Model(&models.Disbursement{}).Where("id = ?", d.ID).
				Updates(map[string]interface{}{
					"status":     models.DisbursementStatusFailed,
					"attempts":   gorm.Expr("attempts + 1"),
					"last_error": err.Error(),
				})
			continue
		}
		now := time.Now().UTC()
		s.DB.Model(&models.Disbursement{}).Where("id = ?", d.ID).
			Updates(map[string]interface{}{
				"status":   models.DisbursementStatusSent,
				"attempts": gorm.Expr("attempts + 1"),
				"sent_at":  now,
			})
		sent++
	}
	return sent, nil
}

// ArchiveMatch exports the full audit record of a settled match — match,
// round ledger, pool, bets, disbursements — to object storage.
func (s *SettlementService) ArchiveMatch(ctx context.Context, matchID string) error {
	if !utils.ArchiveEnabled() {
		return nil
	}

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		return err
	}
	var rounds []models.Round
	if err := s.DB.Where("match_id = ?", matchID).Order("round_number asc").Find(&rounds).Error; err != nil {
		return err
	}
	var pool models.WagerPool
	var bets []models.Bet
	if err := s.DB.First(&pool, "match_id = ?", matchID).Error; err == nil {
		if err := s.DB.Where("pool_id = ?", pool.ID).Find(&bets).Error; err != nil {
			return err
		}
	}
	var disbursements []models.Disbursement
	if err := s.DB.Where("match_id = ?", matchID).Find(&disbursements).Error; err != nil {
		return err
	}

	record := map[string]interface{}{
		"match":         match,
		"rounds":        rounds,
		"pool":          pool,
		"bets":          bets,
		"disbursements": disbursements,
		"archived_at":   time.Now().UTC(),
	}
	return utils.ArchiveJSON(ctx, "settlements/"+matchID+".json", record)
}
