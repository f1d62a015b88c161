package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"combat-settlement-system/combat"
	"combat-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Turn timing. The move deadline on every exchange is reveal + think;
// a knockout adds a fixed delay for the defeat sequence before the next
// round opens.
const (
	RevealSeconds   = 5
	ThinkSeconds    = 15
	KnockoutDelay   = 8 * time.Second
	DisconnectGrace = 30 * time.Second
)

// MatchService owns the move ledger and the match progression state
// machine. It holds no per-match state between requests: every decision
// replays the persisted round ledger through the combat engine.
type MatchService struct {
	DB         *gorm.DB
	Notifier   Notifier
	Settlement *SettlementService
}

func NewMatchService(db *gorm.DB, notifier Notifier, settlement *SettlementService) *MatchService {
	return &MatchService{DB: db, Notifier: notifier, Settlement: settlement}
}

// CreateMatch handles POST /matches — the hand-off from the external
// matchmaking service, which arrives already populated.
func (s *MatchService) CreateMatch(c *fiber.Ctx) error {
	var req struct {
		ID               string  `json:"id"`
		Player1ID        string  `json:"player1_id"`
		Player2ID        *string `json:"player2_id"`
		Player1Character string  `json:"player1_character"`
		Player2Character string  `json:"player2_character"`
		Format           int     `json:"format"`
		StakeAmount      int64   `json:"stake_amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	if req.Player1ID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "player1_id is required"})
	}
	if req.Format == 0 {
		req.Format = 3
	}
	if !combat.ValidFormat(req.Format) {
		return c.Status(400).JSON(fiber.Map{"error": "format must be an odd best-of-N (1..9)"})
	}
	c1, ok := models.CharacterBySlug(req.Player1Character)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "unknown player1_character"})
	}
	c2, ok := models.CharacterBySlug(req.Player2Character)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": "unknown player2_character"})
	}
	if req.StakeAmount < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "stake_amount must not be negative"})
	}

	match := models.Match{
		ID:               req.ID,
		Player1ID:        req.Player1ID,
		Player2ID:        req.Player2ID,
		Player1Character: c1.Slug,
		Player2Character: c2.Slug,
		Format:           req.Format,
		Status:           models.MatchStatusWaiting,
		StakeAmount:      req.StakeAmount,
	}
	if match.ID == "" {
		match.ID = uuid.NewString()
	}

	if err := s.DB.Create(&match).Error; err != nil {
		log.Printf("❌ Failed to create match: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.Status(201).JSON(match)
}

// GetMatch handles GET /matches/:id.
func (s *MatchService) GetMatch(c *fiber.Ctx) error {
	match, err := s.loadMatch(c.Params("id"))
	if err != nil {
		return matchLookupError(c, err)
	}
	return c.JSON(match)
}

// GetMatchState handles GET /matches/:id/state — the derived combat
// state, rebuilt from the ledger on every call.
func (s *MatchService) GetMatchState(c *fiber.Ctx) error {
	match, err := s.loadMatch(c.Params("id"))
	if err != nil {
		return matchLookupError(c, err)
	}
	state, _, err := s.replay(match)
	if err != nil {
		log.Printf("❌ Replay failed for match %s: %v", match.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "ledger replay failed"})
	}
	return c.JSON(fiber.Map{
		"match_id":      match.ID,
		"status":        match.Status,
		"current_round": state.CurrentRound,
		"current_turn":  state.CurrentTurn,
		"player1":       snapshot(state.P1),
		"player2":       snapshot(state.P2),
		"is_match_over": state.IsMatchOver,
	})
}

// SubmitMove handles POST /matches/:id/moves. A move is validated
// against the derived state, appended to the open exchange, and — once
// both moves are present — the exchange resolves through the engine.
func (s *MatchService) SubmitMove(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var req struct {
		RoundNumber int    `json:"round_number"`
		PlayerSide  int    `json:"player_side"`
		MoveType    string `json:"move_type"`
		TransferRef string `json:"transfer_ref"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.PlayerSide != 1 && req.PlayerSide != 2 {
		return c.Status(400).JSON(fiber.Map{"error": "player_side must be 1 or 2"})
	}
	move := combat.MoveType(req.MoveType)
	if !combat.ValidMove(move) {
		return c.Status(400).JSON(fiber.Map{"error": "invalid move_type"})
	}

	match, err := s.loadMatch(matchID)
	if err != nil {
		return matchLookupError(c, err)
	}
	if match.Status == models.MatchStatusCompleted || match.Status == models.MatchStatusCancelled {
		return c.Status(409).JSON(fiber.Map{"error": "match already over"})
	}

	state, resolvedCount, err := s.replay(match)
	if err != nil {
		log.Printf("❌ Replay failed for match %s: %v", match.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "ledger replay failed"})
	}

	// A move may only target the currently-open exchange.
	expected := resolvedCount + 1
	if req.RoundNumber != expected {
		return c.Status(409).JSON(fiber.Map{
			"error":      "round is not open for moves",
			"open_round": expected,
		})
	}

	if err := combat.ValidateMove(state, combat.Side(req.PlayerSide), move, false); err != nil {
		return c.Status(statusForMoveError(err)).JSON(fiber.Map{"error": err.Error()})
	}

	// First valid move flips the match live. Losing the conditional
	// update just means the other side got there first.
	if match.Status == models.MatchStatusWaiting {
		s.DB.Model(&models.Match{}).
			Where("id = ? AND status = ?", match.ID, models.MatchStatusWaiting).
			Update("status", models.MatchStatusInProgress)
		match.Status = models.MatchStatusInProgress
	}

	round, err := s.getOrCreateRound(match, state, expected, false)
	if err != nil {
		log.Printf("❌ Failed to open round %d for match %s: %v", expected, match.ID, err)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	moveColumn := "player1_move"
	if req.PlayerSide == 2 {
		moveColumn = "player2_move"
	}
	res := s.DB.Model(&models.Round{}).
		Where("id = ? AND status = ? AND "+moveColumn+" IS NULL", round.ID, models.RoundStatusOpen).
		Update(moveColumn, string(move))
	if res.Error != nil {
		log.Printf("❌ Failed to record move for match %s: %v", match.ID, res.Error)
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if res.RowsAffected == 0 {
		return c.Status(409).JSON(fiber.Map{"error": "move already recorded for this side"})
	}

	s.recordStakeRef(match, req.PlayerSide, req.TransferRef)

	// Reload; if the opponent's move is already in, this submission
	// triggers resolution.
	if err := s.DB.First(round, "id = ?", round.ID).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if round.Player1Move != nil && round.Player2Move != nil {
		if err := s.resolveExchange(match, round); err != nil {
			log.Printf("❌ Failed to resolve round %d of match %s: %v", round.RoundNumber, match.ID, err)
			return c.Status(500).JSON(fiber.Map{"error": "resolution failed"})
		}
	}

	return c.Status(202).JSON(fiber.Map{
		"match_id":     match.ID,
		"round_number": round.RoundNumber,
		"accepted":     true,
	})
}

// Presence handles POST /matches/:id/presence — disconnect/reconnect
// signals. Cancellation itself is sweep-driven so the grace period is
// measured against persisted timestamps, not in-process timers.
func (s *MatchService) Presence(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var req struct {
		PlayerSide int    `json:"player_side"`
		Action     string `json:"action"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.PlayerSide != 1 && req.PlayerSide != 2 {
		return c.Status(400).JSON(fiber.Map{"error": "player_side must be 1 or 2"})
	}
	if req.Action != "disconnect" && req.Action != "reconnect" {
		return c.Status(400).JSON(fiber.Map{"error": "action must be disconnect or reconnect"})
	}

	match, err := s.loadMatch(matchID)
	if err != nil {
		return matchLookupError(c, err)
	}
	if match.Status == models.MatchStatusCompleted || match.Status == models.MatchStatusCancelled {
		return c.Status(409).JSON(fiber.Map{"error": "match already over"})
	}

	column := "player1_disconnected_at"
	if req.PlayerSide == 2 {
		column = "player2_disconnected_at"
	}
	var value interface{}
	if req.Action == "disconnect" {
		value = time.Now().UTC()
	}
	if err := s.DB.Model(&models.Match{}).Where("id = ?", match.ID).
		Update(column, value).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{"match_id": match.ID, "recorded": req.Action})
}

// CancelAbandoned cancels one match under the dual-disconnect rule and
// runs the refund path. Safe to call repeatedly — the conditional status
// transition admits exactly one cancellation.
func (s *MatchService) CancelAbandoned(match *models.Match) error {
	res := s.DB.Model(&models.Match{}).
		Where("id = ? AND status = ?", match.ID, models.MatchStatusInProgress).
		Updates(map[string]interface{}{
			"status":     models.MatchStatusCancelled,
			"end_reason": models.EndReasonBothDisconnected,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	outcome, err := s.Settlement.RefundMatch(match.ID)
	if err != nil {
		return fmt.Errorf("refund after cancel: %w", err)
	}
	s.Notifier.MatchCancelled(MatchCancelledEvent{
		MatchID:       match.ID,
		Reason:        models.EndReasonBothDisconnected,
		RefundedBets:  outcome.RefundCount,
		RefundedSompi: outcome.RefundedSompi,
	})
	return nil
}

// ForceComplete finalizes an in_progress match whose deterministic end
// time has passed: the current round-win leader takes it; a dead-even
// score cancels and refunds instead. Used by the liveness sweep.
func (s *MatchService) ForceComplete(match *models.Match) error {
	state, _, err := s.replay(match)
	if err != nil {
		return err
	}

	winner := state.MatchWinner
	if !state.IsMatchOver {
		if state.P1.RoundsWon > state.P2.RoundsWon {
			winner = combat.Side1
		} else if state.P2.RoundsWon > state.P1.RoundsWon {
			winner = combat.Side2
		}
	}

	if winner == combat.SideNone {
		res := s.DB.Model(&models.Match{}).
			Where("id = ? AND status = ?", match.ID, models.MatchStatusInProgress).
			Updates(map[string]interface{}{
				"status":     models.MatchStatusCancelled,
				"end_reason": models.EndReasonExpired,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		outcome, err := s.Settlement.RefundMatch(match.ID)
		if err != nil {
			return err
		}
		s.Notifier.MatchCancelled(MatchCancelledEvent{
			MatchID:       match.ID,
			Reason:        models.EndReasonExpired,
			RefundedBets:  outcome.RefundCount,
			RefundedSompi: outcome.RefundedSompi,
		})
		return nil
	}

	return s.completeMatch(match, state, winner, models.EndReasonRoundsWon)
}

// --- internals ---

func (s *MatchService) loadMatch(id string) (*models.Match, error) {
	var match models.Match
	if err := s.DB.First(&match, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

func matchLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "match not found"})
	}
	log.Printf("DB Error fetching match: %v", err)
	return c.Status(500).JSON(fiber.Map{"error": "database error"})
}

func statusForMoveError(err error) int {
	switch {
	case errors.Is(err, combat.ErrMatchOver), errors.Is(err, combat.ErrStunnedMove):
		return 409
	default:
		return 400
	}
}

// replay folds the resolved ledger into derived state and also reports
// how many exchanges are resolved (the open exchange number minus one).
func (s *MatchService) replay(match *models.Match) (*combat.State, int, error) {
	c1, c2, err := s.characters(match)
	if err != nil {
		return nil, 0, err
	}

	var rounds []models.Round
	if err := s.DB.Where("match_id = ? AND status = ?", match.ID, models.RoundStatusResolved).
		Order("round_number asc").Find(&rounds).Error; err != nil {
		return nil, 0, err
	}

	turns := make([]combat.Turn, 0, len(rounds))
	for _, r := range rounds {
		if r.Player1Move == nil || r.Player2Move == nil {
			return nil, 0, fmt.Errorf("resolved round %d is missing a move", r.RoundNumber)
		}
		turns = append(turns, combat.Turn{
			P1Move:   combat.MoveType(*r.Player1Move),
			P2Move:   combat.MoveType(*r.Player2Move),
			P1Forced: r.Player1Forced,
			P2Forced: r.Player2Forced,
		})
	}

	state, _, err := combat.Resolve(c1, c2, match.Format, turns)
	if err != nil {
		return nil, 0, err
	}
	return state, len(turns), nil
}

func (s *MatchService) characters(match *models.Match) (combat.Character, combat.Character, error) {
	m1, ok := models.CharacterBySlug(match.Player1Character)
	if !ok {
		return combat.Character{}, combat.Character{}, fmt.Errorf("unknown character %q", match.Player1Character)
	}
	m2, ok := models.CharacterBySlug(match.Player2Character)
	if !ok {
		return combat.Character{}, combat.Character{}, fmt.Errorf("unknown character %q", match.Player2Character)
	}
	toEngine := func(m models.Character) combat.Character {
		return combat.Character{MaxHP: m.MaxHP, MaxEnergy: m.MaxEnergy, AttackPower: m.AttackPower}
	}
	return toEngine(m1), toEngine(m2), nil
}

// getOrCreateRound opens the exchange row for number, create-if-absent
// with read-back on the unique match+number index. A stunned side gets
// its forced block pre-filled at creation so the ledger, not the replay,
// carries the stun outcome.
func (s *MatchService) getOrCreateRound(match *models.Match, state *combat.State, number int, afterKnockout bool) (*models.Round, error) {
	var round models.Round
	err := s.DB.First(&round, "match_id = ? AND round_number = ?", match.ID, number).Error
	if err == nil {
		return &round, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	deadline := time.Now().UTC().Add((RevealSeconds + ThinkSeconds) * time.Second)
	if afterKnockout {
		deadline = deadline.Add(KnockoutDelay)
	}
	round = models.Round{
		ID:           uuid.NewString(),
		MatchID:      match.ID,
		RoundNumber:  number,
		Status:       models.RoundStatusOpen,
		MoveDeadline: deadline,
	}
	forcedBlock := string(combat.MoveBlock)
	if state.P1.Stunned {
		round.Player1Move = &forcedBlock
		round.Player1Forced = true
	}
	if state.P2.Stunned {
		round.Player2Move = &forcedBlock
		round.Player2Forced = true
	}

	if err := s.DB.Create(&round).Error; err != nil {
		// Lost the create race; the winner's row is authoritative.
		var existing models.Round
		if readErr := s.DB.First(&existing, "match_id = ? AND round_number = ?", match.ID, number).Error; readErr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &round, nil
}

// resolveExchange runs a full resolution for an exchange with both moves
// present. The open→resolving conditional update is the serialization
// point: near-simultaneous submissions race for it and exactly one
// caller resolves.
func (s *MatchService) resolveExchange(match *models.Match, round *models.Round) error {
	res := s.DB.Model(&models.Round{}).
		Where("id = ? AND status = ?", round.ID, models.RoundStatusOpen).
		Update("status", models.RoundStatusResolving)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// A concurrent caller owns this resolution.
		return nil
	}

	c1, c2, err := s.characters(match)
	if err != nil {
		return err
	}

	var prior []models.Round
	if err := s.DB.Where("match_id = ? AND status = ? AND round_number < ?",
		match.ID, models.RoundStatusResolved, round.RoundNumber).
		Order("round_number asc").Find(&prior).Error; err != nil {
		return err
	}

	turns := make([]combat.Turn, 0, len(prior)+1)
	for _, r := range prior {
		turns = append(turns, combat.Turn{
			P1Move:   combat.MoveType(*r.Player1Move),
			P2Move:   combat.MoveType(*r.Player2Move),
			P1Forced: r.Player1Forced,
			P2Forced: r.Player2Forced,
		})
	}
	turns = append(turns, combat.Turn{
		P1Move:   combat.MoveType(*round.Player1Move),
		P2Move:   combat.MoveType(*round.Player2Move),
		P1Forced: round.Player1Forced,
		P2Forced: round.Player2Forced,
	})

	state, result, err := combat.Resolve(c1, c2, match.Format, turns)
	if err != nil {
		// The ledger rejected the pair: reopen the exchange rather than
		// leave it wedged in resolving.
		s.DB.Model(&models.Round{}).Where("id = ?", round.ID).
			Update("status", models.RoundStatusOpen)
		return err
	}

	roundWinnerID := s.playerIDForSide(match, result.RoundWinner)
	seal := map[string]interface{}{
		"status":           models.RoundStatusResolved,
		"player1_damage":   result.P1Damage,
		"player2_damage":   result.P2Damage,
		"player1_hp_after": result.P1HPAfter,
		"player2_hp_after": result.P2HPAfter,
		"winner_id":        roundWinnerID,
	}
	sealRes := s.DB.Model(&models.Round{}).
		Where("id = ? AND status = ?", round.ID, models.RoundStatusResolving).
		Updates(seal)
	if sealRes.Error != nil {
		return sealRes.Error
	}
	if sealRes.RowsAffected == 0 {
		return nil
	}

	// Round-win counters follow the fold; they can only grow.
	if err := s.DB.Model(&models.Match{}).
		Where("id = ? AND status = ?", match.ID, models.MatchStatusInProgress).
		Updates(map[string]interface{}{
			"player1_rounds_won": state.P1.RoundsWon,
			"player2_rounds_won": state.P2.RoundsWon,
		}).Error; err != nil {
		return err
	}

	matchWinnerID := s.playerIDForSide(match, result.MatchWinner)
	s.Notifier.RoundResolved(RoundResolvedEvent{
		MatchID:       match.ID,
		RoundNumber:   round.RoundNumber,
		Player1Move:   *round.Player1Move,
		Player2Move:   *round.Player2Move,
		Player1Damage: result.P1Damage,
		Player2Damage: result.P2Damage,
		Player1:       snapshot(state.P1),
		Player2:       snapshot(state.P2),
		RoundWinnerID: roundWinnerID,
		MatchWinnerID: matchWinnerID,
		Narrative:     buildNarrative(round, result),
	})

	if result.MatchOver {
		reason := models.EndReasonRoundsWon
		switch result.RoundEndReason {
		case combat.RoundEndKnockout:
			reason = models.EndReasonKnockout
		case combat.RoundEndForfeit:
			reason = models.EndReasonOpponentRejected
		}
		return s.completeMatch(match, state, result.MatchWinner, reason)
	}

	next, err := s.getOrCreateRound(match, state, round.RoundNumber+1, result.RoundEndReason == combat.RoundEndKnockout)
	if err != nil {
		return err
	}
	s.Notifier.RoundStarting(RoundStartingEvent{
		MatchID:          match.ID,
		RoundNumber:      next.RoundNumber,
		Player1:          snapshot(state.P1),
		Player2:          snapshot(state.P2),
		MoveDeadline:     next.MoveDeadline,
		CountdownSeconds: RevealSeconds + ThinkSeconds,
	})
	return nil
}

// completeMatch finalizes a decided match and hands off to settlement.
// The outcome is keyed on the winning side; winner_id stays null when
// that side has no player behind it (a bot on side 2). The conditional
// in_progress→completed update keeps a racing completion (or a sweep
// firing at the same moment) from double-running the hand-off.
func (s *MatchService) completeMatch(match *models.Match, state *combat.State, winner combat.Side, reason string) error {
	if winner == combat.SideNone {
		return ErrNoWinner
	}
	winnerID := s.playerIDForSide(match, winner)

	updates := map[string]interface{}{
		"status":             models.MatchStatusCompleted,
		"winning_side":       int(winner),
		"end_reason":         reason,
		"player1_rounds_won": state.P1.RoundsWon,
		"player2_rounds_won": state.P2.RoundsWon,
	}
	if winnerID != nil {
		updates["winner_id"] = *winnerID
	}
	res := s.DB.Model(&models.Match{}).
		Where("id = ? AND status IN ?", match.ID, []string{models.MatchStatusWaiting, models.MatchStatusInProgress}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	match.WinnerID = winnerID
	match.WinningSide = int(winner)
	match.Status = models.MatchStatusCompleted

	var deltas map[string]int
	if winnerID != nil {
		deltas = s.applyRatings(match, *winnerID)
	}

	ev := MatchEndedEvent{
		MatchID:          match.ID,
		WinningSide:      int(winner),
		Reason:           reason,
		Player1RoundsWon: state.P1.RoundsWon,
		Player2RoundsWon: state.P2.RoundsWon,
		RatingDeltas:     deltas,
	}
	if winnerID != nil {
		ev.WinnerID = *winnerID
	}
	s.Notifier.MatchEnded(ev)

	if _, err := s.Settlement.SettleMatch(match.ID); err != nil {
		// Settlement is idempotent; the liveness sweep retries it.
		log.Printf("⚠️  Settlement for match %s will be retried by sweep: %v", match.ID, err)
	}
	return nil
}

func (s *MatchService) recordStakeRef(match *models.Match, side int, transferRef string) {
	if match.StakeAmount <= 0 || transferRef == "" {
		return
	}
	column := "player1_stake_ref"
	if side == 2 {
		column = "player2_stake_ref"
	}
	if err := s.DB.Model(&models.Match{}).
		Where("id = ? AND "+column+" IS NULL", match.ID).
		Update(column, transferRef).Error; err != nil {
		log.Printf("⚠️  Failed to record stake ref for match %s: %v", match.ID, err)
	}
}

func (s *MatchService) playerIDForSide(match *models.Match, side combat.Side) *string {
	switch side {
	case combat.Side1:
		id := match.Player1ID
		return &id
	case combat.Side2:
		return match.Player2ID
	}
	return nil
}

// applyRatings updates Elo for both players and returns the deltas. Bot
// matches (nil player 2) are unrated.
func (s *MatchService) applyRatings(match *models.Match, winnerID string) map[string]int {
	if match.Player2ID == nil {
		return nil
	}
	loserID := match.Player1ID
	if winnerID == match.Player1ID {
		loserID = *match.Player2ID
	}

	winner, err := s.loadOrCreateRating(winnerID)
	if err != nil {
		log.Printf("⚠️  Rating load failed for %s: %v", winnerID, err)
		return nil
	}
	loser, err := s.loadOrCreateRating(loserID)
	if err != nil {
		log.Printf("⚠️  Rating load failed for %s: %v", loserID, err)
		return nil
	}

	delta := eloDelta(winner.Rating, loser.Rating)
	s.DB.Model(&models.PlayerRating{}).Where("player_id = ?", winnerID).
		Updates(map[string]interface{}{
			"rating": gorm.Expr("rating + ?", delta),
			"wins":   gorm.Expr("wins + 1"),
		})
	s.DB.Model(&models.PlayerRating{}).Where("player_id = ?", loserID).
		Updates(map[string]interface{}{
			"rating": gorm.Expr("rating - ?", delta),
			"losses": gorm.Expr("losses + 1"),
		})

	return map[string]int{winnerID: delta, loserID: -delta}
}

func (s *MatchService) loadOrCreateRating(playerID string) (*models.PlayerRating, error) {
	rating := models.PlayerRating{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		Rating:   1000,
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoNothing: true,
	}).Create(&rating).Error; err != nil {
		return nil, err
	}
	if err := s.DB.First(&rating, "player_id = ?", playerID).Error; err != nil {
		return nil, err
	}
	return &rating, nil
}

const eloK = 32

func eloDelta(winnerRating, loserRating int) int {
	expected := 1.0 / (1.0 + math.Pow(10, float64(loserRating-winnerRating)/400))
	delta := int(math.Round(eloK * (1 - expected)))
	if delta < 1 {
		delta = 1
	}
	return delta
}

func snapshot(ss combat.SideState) SideSnapshot {
	return SideSnapshot{
		HP:        ss.HP,
		Energy:    ss.Energy,
		Guard:     ss.Guard,
		Stunned:   ss.Stunned,
		RoundsWon: ss.RoundsWon,
	}
}
