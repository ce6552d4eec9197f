package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashgame-ledger/ledger/store"
	"github.com/warp/cashgame-ledger/session"
)

func TestListScenarios(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeAs[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	for _, s := range list {
		assert.Contains(t, scenarioSeats, s.ID, "scenario %s has no seats", s.ID)
	}
}

func TestLoadScenario(t *testing.T) {
	tests := []struct {
		id        string
		stage     string
		balanced  bool
		transfers []TransferDTO
		pl        string
	}{
		{
			id: "heads-up", stage: "finalized", balanced: true, pl: "0.00",
			transfers: []TransferDTO{{FromName: "B", ToName: "A", Amount: "50.00"}},
		},
		{
			id: "break-even", stage: "finalized", balanced: true, pl: "0.00",
			transfers: []TransferDTO{{FromName: "C", ToName: "A", Amount: "50.00"}},
		},
		{
			id: "four-handed", stage: "finalized", balanced: true, pl: "0.00",
			transfers: []TransferDTO{
				{FromName: "Cleo", ToName: "Ana", Amount: "30.00"},
				{FromName: "Dev", ToName: "Ben", Amount: "20.00"},
			},
		},
		{id: "missing-buyin", stage: "active_game", balanced: false, pl: "-200.00"},
		{
			id: "rake", stage: "ready_to_finalize", balanced: false, pl: "-10.00",
			transfers: []TransferDTO{{FromName: "B", ToName: "A", Amount: "10.00"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			srv := newTestServer(t)

			rec := srv.do(t, http.MethodPost, "/api/scenarios/"+tt.id, nil)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decodeAs[LoadScenarioResponse](t, rec)
			assert.Equal(t, tt.id, resp.Scenario)
			assert.Equal(t, tt.stage, resp.Session.Stage)
			assert.Equal(t, tt.balanced, resp.Session.Balanced)
			assert.Equal(t, tt.pl, resp.Session.Totals.TotalProfitLoss)

			got := make([]TransferDTO, len(resp.Session.Transfers))
			for i, tr := range resp.Session.Transfers {
				got[i] = TransferDTO{FromName: tr.FromName, ToName: tr.ToName, Amount: tr.Amount}
			}
			if tt.transfers == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.transfers, got)
			}
		})
	}
}

func TestLoadScenario_MissingBuyinBlocksChipEntry(t *testing.T) {
	// GIVEN: The missing-buyin scenario
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/scenarios/missing-buyin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeAs[LoadScenarioResponse](t, rec).Session
	require.Len(t, view.MissingBuyinsPlayerIDs, 1)

	// WHEN: Chip entry is attempted
	rec = srv.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/chip-entry", nil)

	// THEN: It is blocked on exactly the late player
	require.Equal(t, http.StatusConflict, rec.Code)
	blocked := decodeAs[BlockedResponse](t, rec)
	assert.Equal(t, view.MissingBuyinsPlayerIDs, blocked.PlayerIDs)
	assert.Equal(t, view.Players[2].ID, blocked.PlayerIDs[0])
}

func TestLoadScenario_ResetsStore(t *testing.T) {
	srv := newTestServer(t)

	first := decodeAs[LoadScenarioResponse](t, srv.do(t, http.MethodPost, "/api/scenarios/heads-up", nil))
	second := decodeAs[LoadScenarioResponse](t, srv.do(t, http.MethodPost, "/api/scenarios/rake", nil))

	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/sessions/"+first.Session.ID, nil).Code)
	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/api/sessions/"+second.Session.ID, nil).Code)
}

type countingFlusher struct {
	calls int
	err   error
}

func (f *countingFlusher) Flush(context.Context) error {
	f.calls++
	return f.err
}

func TestLoadScenario_FlushesSummaryCache(t *testing.T) {
	tests := []struct {
		name     string
		flushErr error
	}{
		{"flush succeeds", nil},
		{"flush failure is not fatal", errors.New("redis down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A handler with a summary cache
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			mem := store.NewMemory()
			h := NewHandler(session.NewService(mem, session.WithLogger(logger)), mem, logger)
			flusher := &countingFlusher{err: tt.flushErr}
			h.Cache = flusher
			srv := &testServer{router: NewRouter(h, nil), store: mem}

			// WHEN: Two scenarios are loaded
			require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/scenarios/heads-up", nil).Code)
			rec := srv.do(t, http.MethodPost, "/api/scenarios/rake", nil)

			// THEN: The cache is flushed on every reset
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, 2, flusher.calls)
		})
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/scenarios/tournament", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarioRoutes_DisabledWithoutResetter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(session.NewService(store.NewMemory(), session.WithLogger(logger)), nil, logger)
	router := NewRouter(h, nil)
	srv := &testServer{router: router}

	rec := srv.do(t, http.MethodGet, "/api/scenarios", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
