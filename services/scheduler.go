// services/scheduler.go
package services

import (
	"log"
	"time"

	"combat-settlement-system/combat"
	"combat-settlement-system/models"

	"github.com/go-co-op/gocron/v2"
)

// matchTimeBudget is the deterministic upper bound on a match's
// lifetime: betting window plus every exchange the format can possibly
// take at full deadline, plus a defeat-sequence delay per scoring round.
func matchTimeBudget(format int) time.Duration {
	perTurn := (RevealSeconds + ThinkSeconds) * time.Second
	return BettingWindow +
		time.Duration(format)*combat.TurnLimit*perTurn +
		time.Duration(format)*KnockoutDelay
}

// StartLivenessSweeps runs the periodic fallback scans. Every mutation
// they trigger is guarded by a status-based conditional update, so the
// sweeps are safe to run more often or on several instances at once.
func (s *MatchService) StartLivenessSweeps(wagers *WagerService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: lock pools whose betting window elapsed.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			n, err := wagers.LockExpiredPools()
			if err != nil {
				log.Printf("[Sweep] Pool lock error: %v", err)
				return
			}
			if n > 0 {
				log.Printf("🔒 Locked %d pool(s) past their betting window", n)
			}
		}),
	)

	// Every minute: cancel matches both players abandoned.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			cutoff := time.Now().UTC().Add(-DisconnectGrace)
			var matches []models.Match
			err := s.DB.Where(
				"status = ? AND player1_disconnected_at IS NOT NULL AND player2_disconnected_at IS NOT NULL AND player1_disconnected_at <= ? AND player2_disconnected_at <= ?",
				models.MatchStatusInProgress, cutoff, cutoff,
			).Find(&matches).Error
			if err != nil {
				log.Printf("[Sweep] DB error: %v", err)
				return
			}
			for i := range matches {
				if err := s.CancelAbandoned(&matches[i]); err != nil {
					log.Printf("[Sweep] Failed to cancel abandoned match %s: %v", matches[i].ID, err)
				} else {
					log.Printf("↩️  Cancelled abandoned match %s", matches[i].ID)
				}
			}
		}),
	)

	// Every minute: finalize and settle matches that outlived their
	// deterministic end time — the guarantee that settlement happens
	// even with no client left to drive it.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			now := time.Now().UTC()
			var matches []models.Match
			err := s.DB.Where("status = ?", models.MatchStatusInProgress).Find(&matches).Error
			if err != nil {
				log.Printf("[Sweep] DB error: %v", err)
				return
			}
			for i := range matches {
				m := &matches[i]
				if now.Before(m.CreatedAt.Add(matchTimeBudget(m.Format))) {
					continue
				}
				if err := s.ForceComplete(m); err != nil {
					log.Printf("[Sweep] Failed to force-complete match %s: %v", m.ID, err)
				} else {
					log.Printf("⏱️  Force-completed expired match %s", m.ID)
				}
			}
		}),
	)
}
