package services

import (
	"context"
	"errors"
	"log"
	"time"

	"combat-settlement-system/models"
	"combat-settlement-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BettingWindow is how long after match creation the pool accepts bets.
const BettingWindow = 2 * time.Minute

// WagerService owns the wager pool ledger: pool creation, bet placement
// and the pool-locking sweep. Settlement lives in SettlementService.
type WagerService struct {
	DB        *gorm.DB
	Transfers *TransferClient
}

func NewWagerService(db *gorm.DB, transfers *TransferClient) *WagerService {
	return &WagerService{DB: db, Transfers: transfers}
}

// PlaceBet handles POST /matches/:id/bets.
func (s *WagerService) PlaceBet(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var req struct {
		BettorID    string `json:"bettor_id"`
		Side        int    `json:"side"`
		GrossAmount int64  `json:"gross_amount"`
		TransferRef string `json:"transfer_ref"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if req.BettorID == "" || req.TransferRef == "" {
		return c.Status(400).JSON(fiber.Map{"error": "bettor_id and transfer_ref are required"})
	}
	if req.Side != 1 && req.Side != 2 {
		return c.Status(400).JSON(fiber.Map{"error": "side must be 1 or 2"})
	}
	if req.GrossAmount < utils.MinBetSompi {
		return c.Status(400).JSON(fiber.Map{"error": "bet below minimum of " + utils.FormatKAS(utils.MinBetSompi)})
	}

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "match not found"})
		}
		log.Printf("DB Error fetching match %s: %v", matchID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if match.Status == models.MatchStatusCompleted || match.Status == models.MatchStatusCancelled {
		return c.Status(409).JSON(fiber.Map{"error": "match already over"})
	}

	pool, err := s.getOrCreatePool(&match)
	if err != nil {
		log.Printf("❌ Failed to get/create pool for match %s: %v", matchID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	now := time.Now().UTC()
	if pool.Status != models.PoolStatusOpen || !now.Before(pool.ClosesAt) {
		return c.Status(409).JSON(fiber.Map{"error": "betting window closed"})
	}

	fee := utils.Fee(req.GrossAmount)
	bet := models.Bet{
		ID:          uuid.NewString(),
		PoolID:      pool.ID,
		BettorID:    req.BettorID,
		Side:        req.Side,
		GrossAmount: req.GrossAmount,
		FeeAmount:   fee,
		NetAmount:   req.GrossAmount - fee,
		TransferRef: req.TransferRef,
		Status:      models.BetStatusPending,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&bet).Error; err != nil {
			return err
		}

		sideColumn := "side1_total"
		if req.Side == 2 {
			sideColumn = "side2_total"
		}
		// Aggregates move in the same transaction as the bet row, and
		// only while the pool is still open — a pool locked by a racing
		// sweep rolls the whole placement back.
		res := tx.Model(&models.WagerPool{}).
			Where("id = ? AND status = ?", pool.ID, models.PoolStatusOpen).
			Updates(map[string]interface{}{
				sideColumn:   gorm.Expr(sideColumn+" + ?", bet.NetAmount),
				"total_pool": gorm.Expr("total_pool + ?", bet.NetAmount),
				"total_fees": gorm.Expr("total_fees + ?", bet.FeeAmount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errPoolClosed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errPoolClosed) {
			return c.Status(409).JSON(fiber.Map{"error": "betting window closed"})
		}
		// A unique-index hit on transfer_ref means this deposit was
		// already counted once.
		var existing models.Bet
		if lookupErr := s.DB.First(&existing, "transfer_ref = ?", req.TransferRef).Error; lookupErr == nil {
			return c.Status(409).JSON(fiber.Map{"error": "duplicate transfer reference"})
		}
		log.Printf("❌ Failed to place bet on match %s: %v", matchID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	// Best-effort synchronous confirmation; the transfer worker retries
	// anything left pending.
	s.tryConfirmBet(c.Context(), &bet)

	return c.Status(201).JSON(bet)
}

var errPoolClosed = errors.New("pool closed")

// GetPool handles GET /matches/:id/pool.
func (s *WagerService) GetPool(c *fiber.Ctx) error {
	var pool models.WagerPool
	if err := s.DB.First(&pool, "match_id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no pool for match"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	var bets []models.Bet
	if err := s.DB.Where("pool_id = ?", pool.ID).Order("created_at asc").Find(&bets).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	return c.JSON(fiber.Map{"pool": pool, "bets": bets})
}

// getOrCreatePool is create-if-absent with retry-on-conflict read-back.
// Two racing first bets both attempt the insert; the unique index on
// match_id lets exactly one through and the loser reads the winner back.
func (s *WagerService) getOrCreatePool(match *models.Match) (*models.WagerPool, error) {
	pool := models.WagerPool{
		ID:       uuid.NewString(),
		MatchID:  match.ID,
		Status:   models.PoolStatusOpen,
		ClosesAt: match.CreatedAt.Add(BettingWindow),
	}
	if err := s.DB.Create(&pool).Error; err != nil {
		var existing models.WagerPool
		if readErr := s.DB.First(&existing, "match_id = ?", match.ID).Error; readErr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &pool, nil
}

// tryConfirmBet flips a pending bet to confirmed once the transfer
// service has verified the deposit. Conditional on pending so a racing
// worker confirmation is a no-op.
func (s *WagerService) tryConfirmBet(ctx context.Context, bet *models.Bet) {
	if s.Transfers == nil {
		return
	}
	verified, err := s.Transfers.VerifyTransfer(ctx, bet.TransferRef)
	if err != nil {
		log.Printf("⚠️  Could not verify transfer %s yet: %v", bet.TransferRef, err)
		return
	}
	if !verified {
		return
	}
	res := s.DB.Model(&models.Bet{}).
		Where("id = ? AND status = ?", bet.ID, models.BetStatusPending).
		Update("status", models.BetStatusConfirmed)
	if res.Error != nil {
		log.Printf("❌ Failed to confirm bet %s: %v", bet.ID, res.Error)
		return
	}
	if res.RowsAffected > 0 {
		bet.Status = models.BetStatusConfirmed
	}
}

// LockExpiredPools flips open pools past their close point to locked.
// Sweep-driven and safe to run redundantly.
func (s *WagerService) LockExpiredPools() (int64, error) {
	res := s.DB.Model(&models.WagerPool{}).
		Where("status = ? AND closes_at <= ?", models.PoolStatusOpen, time.Now().UTC()).
		Update("status", models.PoolStatusLocked)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
