package services

import (
	"encoding/json"
	"testing"
	"time"

	"combat-settlement-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeBet(f *matchFixture, t *testing.T, matchID, bettor string, side int, gross int64, ref string) int {
	t.Helper()
	resp := f.postJSON(t, "/matches/"+matchID+"/bets", map[string]interface{}{
		"bettor_id":    bettor,
		"side":         side,
		"gross_amount": gross,
		"transfer_ref": ref,
	})
	resp.Body.Close()
	return resp.StatusCode
}

func TestPlaceBetCreatesPendingBetAndPool(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	require.Equal(t, 201, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))

	var pool models.WagerPool
	require.NoError(t, f.db.First(&pool, "match_id = ?", match.ID).Error)
	assert.Equal(t, models.PoolStatusOpen, pool.Status)
	assert.Equal(t, int64(990_000_000), pool.Side1Total)
	assert.Equal(t, int64(990_000_000), pool.TotalPool)
	assert.Equal(t, int64(10_000_000), pool.TotalFees)

	var bet models.Bet
	require.NoError(t, f.db.First(&bet, "transfer_ref = ?", "tx-1").Error)
	assert.Equal(t, models.BetStatusPending, bet.Status, "no transfer client wired, so the bet stays pending")
	assert.Equal(t, int64(10_000_000), bet.FeeAmount)
	assert.Equal(t, int64(990_000_000), bet.NetAmount)
}

func TestAggregatesTrackEveryPlacedBet(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	require.Equal(t, 201, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))
	require.Equal(t, 201, placeBet(f, t, match.ID, "bob", 2, 2_000_000_000, "tx-2"))
	require.Equal(t, 201, placeBet(f, t, match.ID, "carol", 1, 500_000_000, "tx-3"))

	var pool models.WagerPool
	require.NoError(t, f.db.First(&pool, "match_id = ?", match.ID).Error)

	var bets []models.Bet
	require.NoError(t, f.db.Where("pool_id = ?", pool.ID).Find(&bets).Error)
	var side1, side2, fees int64
	for _, b := range bets {
		if b.Side == 1 {
			side1 += b.NetAmount
		} else {
			side2 += b.NetAmount
		}
		fees += b.FeeAmount
	}
	assert.Equal(t, side1, pool.Side1Total)
	assert.Equal(t, side2, pool.Side2Total)
	assert.Equal(t, side1+side2, pool.TotalPool)
	assert.Equal(t, fees, pool.TotalFees)
}

func TestDuplicateTransferRefRejected(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	require.Equal(t, 201, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))
	assert.Equal(t, 409, placeBet(f, t, match.ID, "bob", 2, 1_000_000_000, "tx-1"))

	// The rejected placement must not have moved the aggregates.
	var pool models.WagerPool
	require.NoError(t, f.db.First(&pool, "match_id = ?", match.ID).Error)
	assert.Equal(t, int64(990_000_000), pool.TotalPool)
	assert.Zero(t, pool.Side2Total)
}

func TestBetValidation(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	assert.Equal(t, 400, placeBet(f, t, match.ID, "alice", 3, 1_000_000_000, "tx-1"))
	assert.Equal(t, 400, placeBet(f, t, match.ID, "alice", 1, 1_000, "tx-2"), "below minimum bet")
	assert.Equal(t, 400, placeBet(f, t, match.ID, "", 1, 1_000_000_000, "tx-3"))
	assert.Equal(t, 404, placeBet(f, t, "no-such-match", "alice", 1, 1_000_000_000, "tx-4"))
}

func TestBettingWindowCloses(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	// Backdate the match so the first bet finds a window already past.
	require.NoError(t, f.db.Model(match).
		Update("created_at", time.Now().UTC().Add(-BettingWindow-time.Minute)).Error)

	assert.Equal(t, 409, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))
}

func TestBetsRejectedOnFinishedMatch(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)
	require.NoError(t, f.db.Model(match).Update("status", models.MatchStatusCompleted).Error)

	assert.Equal(t, 409, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))
}

func TestBetsRejectedOnLockedPool(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)
	require.Equal(t, 201, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))

	require.NoError(t, f.db.Model(&models.WagerPool{}).
		Where("match_id = ?", match.ID).
		Update("status", models.PoolStatusLocked).Error)

	assert.Equal(t, 409, placeBet(f, t, match.ID, "bob", 2, 1_000_000_000, "tx-2"))
}

func TestLockExpiredPools(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)
	require.Equal(t, 201, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))

	locked, err := f.wagers.LockExpiredPools()
	require.NoError(t, err)
	assert.Zero(t, locked, "window still open")

	require.NoError(t, f.db.Model(&models.WagerPool{}).
		Where("match_id = ?", match.ID).
		Update("closes_at", time.Now().UTC().Add(-time.Second)).Error)

	locked, err = f.wagers.LockExpiredPools()
	require.NoError(t, err)
	assert.Equal(t, int64(1), locked)

	// Rerunning the sweep finds nothing left to lock.
	locked, err = f.wagers.LockExpiredPools()
	require.NoError(t, err)
	assert.Zero(t, locked)
}

func TestGetPoolReturnsPoolAndBets(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)
	require.Equal(t, 201, placeBet(f, t, match.ID, "alice", 1, 1_000_000_000, "tx-1"))
	require.Equal(t, 201, placeBet(f, t, match.ID, "bob", 2, 2_000_000_000, "tx-2"))

	req := newGetRequest(t, "/matches/"+match.ID+"/pool")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var body struct {
		Pool models.WagerPool `json:"pool"`
		Bets []models.Bet     `json:"bets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, match.ID, body.Pool.MatchID)
	assert.Len(t, body.Bets, 2)
}

func TestGetPoolMissing(t *testing.T) {
	f := newMatchFixture(t)
	match := f.createMatch(t, 3, 0)

	req := newGetRequest(t, "/matches/"+match.ID+"/pool")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}
