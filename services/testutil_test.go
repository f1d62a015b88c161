package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"combat-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Match{},
		&models.Round{},
		&models.WagerPool{},
		&models.Bet{},
		&models.Disbursement{},
		&models.PlayerRating{},
	))
	return db
}

// recorderNotifier captures events for assertions.
type recorderNotifier struct {
	mu        sync.Mutex
	started   []RoundStartingEvent
	resolved  []RoundResolvedEvent
	ended     []MatchEndedEvent
	cancelled []MatchCancelledEvent
}

func (r *recorderNotifier) RoundStarting(ev RoundStartingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, ev)
}

func (r *recorderNotifier) RoundResolved(ev RoundResolvedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, ev)
}

func (r *recorderNotifier) MatchEnded(ev MatchEndedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, ev)
}

func (r *recorderNotifier) MatchCancelled(ev MatchCancelledEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, ev)
}

type matchFixture struct {
	db         *gorm.DB
	app        *fiber.App
	matches    *MatchService
	wagers     *WagerService
	settlement *SettlementService
	notifier   *recorderNotifier
}

func newMatchFixture(t *testing.T) *matchFixture {
	t.Helper()
	db := testDB(t)
	notifier := &recorderNotifier{}
	settlement := NewSettlementService(db, nil)
	matches := NewMatchService(db, notifier, settlement)
	wagers := NewWagerService(db, nil)

	app := fiber.New()
	app.Post("/matches", matches.CreateMatch)
	app.Get("/matches/:id", matches.GetMatch)
	app.Get("/matches/:id/state", matches.GetMatchState)
	app.Post("/matches/:id/moves", matches.SubmitMove)
	app.Post("/matches/:id/presence", matches.Presence)
	app.Post("/matches/:id/bets", wagers.PlaceBet)
	app.Get("/matches/:id/pool", wagers.GetPool)

	return &matchFixture{
		db:         db,
		app:        app,
		matches:    matches,
		wagers:     wagers,
		settlement: settlement,
		notifier:   notifier,
	}
}

func (f *matchFixture) createMatch(t *testing.T, format int, stake int64) *models.Match {
	t.Helper()
	p2 := "player-2"
	match := &models.Match{
		ID:               uuid.NewString(),
		Player1ID:        "player-1",
		Player2ID:        &p2,
		Player1Character: "brawler",
		Player2Character: "brawler",
		Format:           format,
		Status:           models.MatchStatusWaiting,
		StakeAmount:      stake,
	}
	require.NoError(t, f.db.Create(match).Error)
	return match
}

func (f *matchFixture) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func newGetRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("GET", path, nil)
	require.NoError(t, err)
	return req
}

func (f *matchFixture) submitMove(t *testing.T, matchID string, round, side int, move string) int {
	t.Helper()
	resp := f.postJSON(t, "/matches/"+matchID+"/moves", map[string]interface{}{
		"round_number": round,
		"player_side":  side,
		"move_type":    move,
	})
	resp.Body.Close()
	return resp.StatusCode
}

// playExchange submits both moves for the open exchange.
func (f *matchFixture) playExchange(t *testing.T, matchID string, round int, p1Move, p2Move string) {
	t.Helper()
	require.Equal(t, 202, f.submitMove(t, matchID, round, 1, p1Move))
	require.Equal(t, 202, f.submitMove(t, matchID, round, 2, p2Move))
}

func (f *matchFixture) reloadMatch(t *testing.T, id string) *models.Match {
	t.Helper()
	var match models.Match
	require.NoError(t, f.db.First(&match, "id = ?", id).Error)
	return &match
}
