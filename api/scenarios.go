/*
scenarios.go - Demo session loaders for testing and demonstrations

PURPOSE:
  Provides pre-built sessions that exercise the ledger math, settlement
  and stage rules end to end. Every scenario is built through
  session.Service, so the stage engine validates each step exactly as it
  would for a real table.

AVAILABLE SCENARIOS:
  heads-up:        A vs B, one transfer B -> A (finalized)
  break-even:      Winner, break-even, loser; one transfer (finalized)
  four-handed:     Two winners, two losers, two transfers (finalized)
  missing-buyin:   A player without a buy-in blocks chip entry (active_game)
  rake:            Cash-outs short of buy-ins by the rake (ready_to_finalize)

HOW SCENARIOS WORK:
 1. Reset the store (clear all data) and flush any summary cache
 2. Create a session and its players
 3. Record buy-ins
 4. Start chip entry and record cash-outs
 5. Finalize, unless the scenario stops at an earlier stage

USAGE VIA API:

	POST /api/scenarios/four-handed

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: routes and error mapping
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/session"
	"github.com/warp/cashgame-ledger/stage"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "heads-up",
		Name:        "Heads-Up",
		Description: "Two players, 100 each; A cashes 150, B cashes 50. B pays A 50.",
		Stage:       string(stage.Finalized),
	},
	{
		ID:          "break-even",
		Name:        "Break-Even Player",
		Description: "Three players, 100 each; cash-outs 150/100/50. Only C pays A.",
		Stage:       string(stage.Finalized),
	},
	{
		ID:          "four-handed",
		Name:        "Four-Handed",
		Description: "Two winners (+30, +20) and two losers (-30, -20). Two transfers, 50 total.",
		Stage:       string(stage.Finalized),
	},
	{
		ID:          "missing-buyin",
		Name:        "Missing Buy-In",
		Description: "One player has no buy-in, so chip entry cannot start.",
		Stage:       string(stage.ActiveGame),
	},
	{
		ID:          "rake",
		Name:        "Raked Game",
		Description: "Buy-ins 100, cash-outs 90. The 10 rake shows as an imbalance.",
		Stage:       string(stage.ReadyToFinalize),
	},
}

// seat is one scenario player: buy-ins recorded during the game and
// cash-outs recorded during chip entry, in whole currency units.
type seat struct {
	name     string
	buyins   []int64
	cashouts []int64
}

var scenarioSeats = map[string][]seat{
	"heads-up": {
		{name: "A", buyins: []int64{100}, cashouts: []int64{150}},
		{name: "B", buyins: []int64{100}, cashouts: []int64{50}},
	},
	"break-even": {
		{name: "A", buyins: []int64{100}, cashouts: []int64{150}},
		{name: "B", buyins: []int64{100}, cashouts: []int64{100}},
		{name: "C", buyins: []int64{100}, cashouts: []int64{50}},
	},
	"four-handed": {
		{name: "Ana", buyins: []int64{50, 50}, cashouts: []int64{130}},
		{name: "Ben", buyins: []int64{100}, cashouts: []int64{120}},
		{name: "Cleo", buyins: []int64{100}, cashouts: []int64{70}},
		{name: "Dev", buyins: []int64{60, 40}, cashouts: []int64{80}},
	},
	"missing-buyin": {
		{name: "A", buyins: []int64{100}},
		{name: "B", buyins: []int64{100}},
		{name: "Late", buyins: nil},
	},
	"rake": {
		{name: "A", buyins: []int64{50}, cashouts: []int64{60}},
		{name: "B", buyins: []int64{50}, cashouts: []int64{30}},
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario resets the store and builds one demo session.
// POST /api/scenarios/{scenarioID}
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scenarioID")
	def, ok := findScenario(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", id))
		return
	}

	ctx := r.Context()
	if err := h.Resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Flush(ctx); err != nil {
			// Stale entries only shadow sessions that no longer exist.
			h.logger.Warn("failed to flush summary cache", slog.String("error", err.Error()))
		}
	}

	view, err := loadScenario(ctx, h.Sessions, scenarioSeats[def.ID], stage.Stage(def.Stage))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.logger.Info("scenario loaded",
		slog.String("scenario", def.ID),
		slog.String("session_id", string(view.Snapshot.Session.ID)),
	)
	writeJSON(w, http.StatusOK, LoadScenarioResponse{Scenario: def.ID, Session: toSessionDTO(view)})
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

// =============================================================================
// LOADER
// =============================================================================

// loadScenario plays seats through the service and stops at target.
func loadScenario(ctx context.Context, svc *session.Service, seats []seat, target stage.Stage) (*session.View, error) {
	view, err := svc.CreateSession(ctx, session.DefaultCurrency)
	if err != nil {
		return nil, err
	}
	sid := view.Snapshot.Session.ID

	ids := make([]ledger.PlayerID, len(seats))
	for i, s := range seats {
		p, err := svc.AddPlayer(ctx, sid, s.name, nil)
		if err != nil {
			return nil, fmt.Errorf("adding %s: %w", s.name, err)
		}
		ids[i] = p.ID
		for _, amount := range s.buyins {
			if _, err := svc.AddBuyin(ctx, sid, p.ID, decimal.NewFromInt(amount)); err != nil {
				return nil, fmt.Errorf("buy-in for %s: %w", s.name, err)
			}
		}
	}
	if target == stage.ActiveGame {
		return svc.View(ctx, sid)
	}

	if _, err := svc.StartChipEntry(ctx, sid); err != nil {
		return nil, err
	}
	for i, s := range seats {
		for _, amount := range s.cashouts {
			if _, err := svc.AddCashout(ctx, sid, ids[i], decimal.NewFromInt(amount)); err != nil {
				return nil, fmt.Errorf("cash-out for %s: %w", s.name, err)
			}
		}
	}
	if target != stage.Finalized {
		return svc.View(ctx, sid)
	}

	if _, err := svc.Finalize(ctx, sid); err != nil {
		return nil, err
	}
	return svc.View(ctx, sid)
}
