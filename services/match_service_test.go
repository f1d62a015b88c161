package services

import (
	"testing"
	"time"

	"combat-settlement-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullBestOfThreeByKnockout(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	// Side 1 kicks into side 2's punches: side 2 is knocked out on the
	// fourth exchange of each scoring round, twice.
	for exchange := 1; exchange <= 8; exchange++ {
		f.playExchange(t, match.ID, exchange, "kick", "punch")
	}

	got := f.reloadMatch(t, match.ID)
	assert.Equal(t, models.MatchStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "player-1", *got.WinnerID)
	assert.Equal(t, 1, got.WinningSide)
	assert.Equal(t, models.EndReasonKnockout, got.EndReason)
	assert.Equal(t, 2, got.Player1RoundsWon)
	assert.Equal(t, 0, got.Player2RoundsWon)

	var rounds []models.Round
	require.NoError(t, f.db.Where("match_id = ?", match.ID).Order("round_number asc").Find(&rounds).Error)
	require.Len(t, rounds, 8)
	for _, r := range rounds {
		assert.Equal(t, models.RoundStatusResolved, r.Status)
	}
	// The knockout exchanges carry the scoring-round winner.
	require.NotNil(t, rounds[3].WinnerID)
	assert.Equal(t, "player-1", *rounds[3].WinnerID)
	assert.Equal(t, 0, rounds[3].Player2HPAfter)

	assert.Len(t, f.notifier.resolved, 8)
	assert.Len(t, f.notifier.ended, 1)
	assert.Equal(t, models.EndReasonKnockout, f.notifier.ended[0].Reason)

	// Ratings moved for both players.
	var winner models.PlayerRating
	require.NoError(t, f.db.First(&winner, "player_id = ?", "player-1").Error)
	assert.Greater(t, winner.Rating, 1000)
	assert.Equal(t, 1, winner.Wins)
}

func TestWrongRoundNumberRejectedWithoutLedgerMutation(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	assert.Equal(t, 409, f.submitMove(t, match.ID, 4, 1, "punch"))

	var count int64
	require.NoError(t, f.db.Model(&models.Round{}).Where("match_id = ?", match.ID).Count(&count).Error)
	assert.Zero(t, count, "a rejected move must not touch the ledger")
}

func TestInvalidMovesNeverPersist(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	assert.Equal(t, 400, f.submitMove(t, match.ID, 1, 1, "uppercut"))
	assert.Equal(t, 400, f.submitMove(t, match.ID, 1, 1, "special"), "no banked energy on the first exchange")

	var count int64
	require.NoError(t, f.db.Model(&models.Round{}).Where("match_id = ?", match.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDuplicateMoveRejected(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	require.Equal(t, 202, f.submitMove(t, match.ID, 1, 1, "punch"))
	assert.Equal(t, 409, f.submitMove(t, match.ID, 1, 1, "kick"))
}

func TestMoveOnTerminalMatchIsRejected(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 1, 0)

	for exchange := 1; exchange <= 4; exchange++ {
		f.playExchange(t, match.ID, exchange, "kick", "punch")
	}
	require.Equal(t, models.MatchStatusCompleted, f.reloadMatch(t, match.ID).Status)

	assert.Equal(t, 409, f.submitMove(t, match.ID, 5, 1, "punch"))
}

func TestRejectForfeitsAndEndsMatch(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 1, 0)

	require.Equal(t, 202, f.submitMove(t, match.ID, 1, 2, "punch"))
	require.Equal(t, 202, f.submitMove(t, match.ID, 1, 1, "reject"))

	got := f.reloadMatch(t, match.ID)
	assert.Equal(t, models.MatchStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "player-2", *got.WinnerID)
	assert.Equal(t, models.EndReasonOpponentRejected, got.EndReason)

	// No combat was resolved for the forfeited exchange.
	var round models.Round
	require.NoError(t, f.db.First(&round, "match_id = ? AND round_number = ?", match.ID, 1).Error)
	assert.Zero(t, round.Player1Damage)
	assert.Zero(t, round.Player2Damage)
}

func TestGuardBreakPrefillsForcedBlock(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	for exchange := 1; exchange <= 3; exchange++ {
		f.playExchange(t, match.ID, exchange, "punch", "block")
	}

	// The guard broke on the third block: exchange 4 opens with side 2's
	// move already written as a forced block.
	var round models.Round
	require.NoError(t, f.db.First(&round, "match_id = ? AND round_number = ?", match.ID, 4).Error)
	require.NotNil(t, round.Player2Move)
	assert.Equal(t, "block", *round.Player2Move)
	assert.True(t, round.Player2Forced)

	// The stunned side cannot overwrite the system-filled move.
	assert.Equal(t, 409, f.submitMove(t, match.ID, 4, 2, "kick"))

	// The free side's submission resolves the exchange on its own.
	require.Equal(t, 202, f.submitMove(t, match.ID, 4, 1, "punch"))
	require.NoError(t, f.db.First(&round, "id = ?", round.ID).Error)
	assert.Equal(t, models.RoundStatusResolved, round.Status)
}

func TestReplayedStateMatchesLedger(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	f.playExchange(t, match.ID, 1, "kick", "punch")
	f.playExchange(t, match.ID, 2, "punch", "block")

	state1, n1, err := f.matches.replay(f.reloadMatch(t, match.ID))
	require.NoError(t, err)
	state2, n2, err := f.matches.replay(f.reloadMatch(t, match.ID))
	require.NoError(t, err)

	assert.Equal(t, state1, state2, "two replays of the same ledger must agree exactly")
	assert.Equal(t, n1, n2)
	assert.Equal(t, 2, n1)
	assert.Equal(t, 85, state1.P1.HP)
	assert.Equal(t, 75, state1.P2.HP)
}

func TestRoundCounterBoundsWhileInProgress(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	for exchange := 1; exchange <= 4; exchange++ {
		f.playExchange(t, match.ID, exchange, "kick", "punch")
	}

	got := f.reloadMatch(t, match.ID)
	require.Equal(t, models.MatchStatusInProgress, got.Status)
	maxTotal := 2*2 - 1 // 2×ceil(3/2)−1
	assert.LessOrEqual(t, got.Player1RoundsWon+got.Player2RoundsWon, maxTotal)
}

func TestDualDisconnectCancelsAndRefundsOnce(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)
	require.NoError(t, f.db.Model(match).Update("status", models.MatchStatusInProgress).Error)

	stale := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.db.Model(match).Updates(map[string]interface{}{
		"player1_disconnected_at": stale,
		"player2_disconnected_at": stale,
	}).Error)

	pool := models.WagerPool{
		ID: "pool-1", MatchID: match.ID, Status: models.PoolStatusOpen,
		Side1Total: 990_000_000, TotalPool: 990_000_000, TotalFees: 10_000_000,
		ClosesAt: time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(&pool).Error)
	bet := models.Bet{
		ID: "bet-1", PoolID: pool.ID, BettorID: "spectator", Side: 1,
		GrossAmount: 1_000_000_000, FeeAmount: 10_000_000, NetAmount: 990_000_000,
		TransferRef: "tx-1", Status: models.BetStatusConfirmed,
	}
	require.NoError(t, f.db.Create(&bet).Error)

	require.NoError(t, f.matches.CancelAbandoned(match))

	got := f.reloadMatch(t, match.ID)
	assert.Equal(t, models.MatchStatusCancelled, got.Status)
	assert.Equal(t, models.EndReasonBothDisconnected, got.EndReason)

	var refunded models.Bet
	require.NoError(t, f.db.First(&refunded, "id = ?", bet.ID).Error)
	assert.Equal(t, models.BetStatusRefunded, refunded.Status)

	var disbursements []models.Disbursement
	require.NoError(t, f.db.Where("match_id = ?", match.ID).Find(&disbursements).Error)
	require.Len(t, disbursements, 1)
	assert.Equal(t, bet.GrossAmount, disbursements[0].Amount, "refunds return the gross amount, fee included")

	// The sweep re-observing the same condition must not refund again.
	require.NoError(t, f.matches.CancelAbandoned(got))
	require.NoError(t, f.db.Where("match_id = ?", match.ID).Find(&disbursements).Error)
	assert.Len(t, disbursements, 1)
	assert.Len(t, f.notifier.cancelled, 1)
}

func TestPresenceRecordsAndClearsTimestamps(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)
	require.NoError(t, f.db.Model(match).Update("status", models.MatchStatusInProgress).Error)

	resp := f.postJSON(t, "/matches/"+match.ID+"/presence", map[string]interface{}{
		"player_side": 1, "action": "disconnect",
	})
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	assert.NotNil(t, f.reloadMatch(t, match.ID).Player1DisconnectedAt)

	resp = f.postJSON(t, "/matches/"+match.ID+"/presence", map[string]interface{}{
		"player_side": 1, "action": "reconnect",
	})
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	assert.Nil(t, f.reloadMatch(t, match.ID).Player1DisconnectedAt)
}

func TestForceCompleteSettlesLeader(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	// One scoring round for side 1, then silence.
	for exchange := 1; exchange <= 4; exchange++ {
		f.playExchange(t, match.ID, exchange, "kick", "punch")
	}
	got := f.reloadMatch(t, match.ID)
	require.Equal(t, models.MatchStatusInProgress, got.Status)

	require.NoError(t, f.matches.ForceComplete(got))

	got = f.reloadMatch(t, match.ID)
	assert.Equal(t, models.MatchStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "player-1", *got.WinnerID)
	assert.Equal(t, models.EndReasonRoundsWon, got.EndReason)
}

func TestForceCompleteTieCancels(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)
	require.NoError(t, f.db.Model(match).Update("status", models.MatchStatusInProgress).Error)

	require.NoError(t, f.matches.ForceComplete(f.reloadMatch(t, match.ID)))

	got := f.reloadMatch(t, match.ID)
	assert.Equal(t, models.MatchStatusCancelled, got.Status)
	assert.Equal(t, models.EndReasonExpired, got.EndReason)
	require.Len(t, f.notifier.cancelled, 1)
	assert.Equal(t, models.EndReasonExpired, f.notifier.cancelled[0].Reason)
}

func TestBotMatchWonBySideTwoCompletesAndSettles(t *testing.T) {
	f := newMatchFixture(t)
	match := &models.Match{
		ID:               uuid.NewString(),
		Player1ID:        "player-1",
		Player1Character: "brawler",
		Player2Character: "brawler",
		Format:           1,
		Status:           models.MatchStatusWaiting,
	}
	require.NoError(t, f.db.Create(match).Error)

	pool := models.WagerPool{
		ID: uuid.NewString(), MatchID: match.ID, Status: models.PoolStatusOpen,
		Side2Total: 990_000_000, TotalPool: 990_000_000, TotalFees: 10_000_000,
		ClosesAt: time.Now().UTC().Add(time.Minute),
	}
	require.NoError(t, f.db.Create(&pool).Error)
	bet := models.Bet{
		ID: uuid.NewString(), PoolID: pool.ID, BettorID: "spectator", Side: 2,
		GrossAmount: 1_000_000_000, FeeAmount: 10_000_000, NetAmount: 990_000_000,
		TransferRef: "tx-bot-1", Status: models.BetStatusConfirmed,
	}
	require.NoError(t, f.db.Create(&bet).Error)

	// The bot on side 2 kicks side 1 out in four exchanges.
	for exchange := 1; exchange <= 4; exchange++ {
		f.playExchange(t, match.ID, exchange, "punch", "kick")
	}

	got := f.reloadMatch(t, match.ID)
	assert.Equal(t, models.MatchStatusCompleted, got.Status)
	assert.Equal(t, 2, got.WinningSide)
	assert.Nil(t, got.WinnerID, "no player id behind the winning side")
	assert.Equal(t, models.EndReasonKnockout, got.EndReason)

	// Settlement keyed on the side, not a player id: the side-2 bettor
	// is paid the full net pool.
	var won models.Bet
	require.NoError(t, f.db.First(&won, "id = ?", bet.ID).Error)
	assert.Equal(t, models.BetStatusWon, won.Status)
	assert.Equal(t, int64(990_000_000), won.PayoutAmount)

	assert.Len(t, f.notifier.ended, 1)
	assert.Equal(t, 2, f.notifier.ended[0].WinningSide)

	// Bot matches are unrated.
	var ratings int64
	require.NoError(t, f.db.Model(&models.PlayerRating{}).Count(&ratings).Error)
	assert.Zero(t, ratings)
}

func TestStakeRefRecordedFromFirstMove(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 1_000_000_000)

	resp := f.postJSON(t, "/matches/"+match.ID+"/moves", map[string]interface{}{
		"round_number": 1, "player_side": 1, "move_type": "punch", "transfer_ref": "stake-tx-1",
	})
	resp.Body.Close()
	require.Equal(t, 202, resp.StatusCode)

	got := f.reloadMatch(t, match.ID)
	require.NotNil(t, got.Player1StakeRef)
	assert.Equal(t, "stake-tx-1", *got.Player1StakeRef)
}
