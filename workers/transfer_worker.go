package workers

import (
	"context"
	"log"
	"time"

	"combat-settlement-system/models"
	"combat-settlement-system/services"

	"gorm.io/gorm"
)

// TransferWorker drives the two slow conversations with the external
// transfer service: confirming inbound bet deposits that were still
// pending at placement, and retrying outbound disbursements that failed
// or were never sent. Both loops only issue idempotent operations, so a
// second instance running the same tick is harmless.
type TransferWorker struct {
	DB         *gorm.DB
	Transfers  *services.TransferClient
	Settlement *services.SettlementService
}

func NewTransferWorker(db *gorm.DB, transfers *services.TransferClient, settlement *services.SettlementService) *TransferWorker {
	return &TransferWorker{DB: db, Transfers: transfers, Settlement: settlement}
}

// Start polls until ctx is done.
func (w *TransferWorker) Start(ctx context.Context, pollInterval time.Duration) {
	log.Println("Starting transfer worker...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Transfer worker stopped.")
			return
		case <-ticker.C:
			w.confirmPendingBets(ctx)
			w.retryDisbursements(ctx)
		}
	}
}

// confirmPendingBets asks the transfer service about every still-pending
// bet deposit and flips verified ones to confirmed. The conditional
// update keeps a racing synchronous confirmation benign.
func (w *TransferWorker) confirmPendingBets(ctx context.Context) {
	var bets []models.Bet
	if err := w.DB.Where("status = ?", models.BetStatusPending).
		Order("created_at asc").Limit(200).Find(&bets).Error; err != nil {
		log.Printf("❌ Transfer worker: failed to load pending bets: %v", err)
		return
	}

	confirmed := 0
	for i := range bets {
		b := &bets[i]
		verified, err := w.Transfers.VerifyTransfer(ctx, b.TransferRef)
		if err != nil {
			log.Printf("⚠️  Transfer worker: verify %s: %v", b.TransferRef, err)
			continue
		}
		if !verified {
			continue
		}
		res := w.DB.Model(&models.Bet{}).
			Where("id = ? AND status = ?", b.ID, models.BetStatusPending).
			Update("status", models.BetStatusConfirmed)
		if res.Error != nil {
			log.Printf("❌ Transfer worker: confirm bet %s: %v", b.ID, res.Error)
			continue
		}
		if res.RowsAffected > 0 {
			confirmed++
		}
	}
	if confirmed > 0 {
		log.Printf("✅ Transfer worker: confirmed %d bet deposit(s)", confirmed)
	}
}

// retryDisbursements re-sends anything still owed. Amounts were
// computed and recorded at settlement time; only the transfer itself is
// being retried here.
func (w *TransferWorker) retryDisbursements(ctx context.Context) {
	sent, err := w.Settlement.DispatchPending(ctx, "")
	if err != nil {
		log.Printf("❌ Transfer worker: dispatch error: %v", err)
		return
	}
	if sent > 0 {
		log.Printf("✅ Transfer worker: sent %d disbursement(s)", sent)
	}
}
