/*
handlers.go - HTTP API handlers for cash-game sessions

PURPOSE:
  Exposes the session service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to session.Service.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                               Create session
    GET    /api/sessions/{sessionID}                   Session view

  Players:
    POST   /api/sessions/{sessionID}/players           Add player
    PUT    /api/sessions/{sessionID}/players/{playerID}       Rename
    POST   /api/sessions/{sessionID}/players/{playerID}/link  Link identity
    DELETE /api/sessions/{sessionID}/players/{playerID}       Remove

  Transactions:
    POST   /api/sessions/{sessionID}/transactions      Add buy-in/cash-out
    PUT    /api/sessions/{sessionID}/transactions/{txID}   Edit amount
    DELETE /api/sessions/{sessionID}/transactions/{txID}   Delete

  Stage transitions:
    POST   /api/sessions/{sessionID}/chip-entry        Start chip entry
    DELETE /api/sessions/{sessionID}/chip-entry        Go back
    POST   /api/sessions/{sessionID}/finalize          Finalize

  Summary:
    GET    /api/sessions/{sessionID}/summary           JSON summary
    GET    /api/sessions/{sessionID}/summary.txt       Shareable text

  History:
    GET    /api/history?session=a&session=b            Multi-session read

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Session, player, transaction or summary not found
  - 409: Stage blocked (with reason and player_ids), identity conflicts,
         already finalized
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Anyone holding a session id can edit it.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/report"
	"github.com/warp/cashgame-ledger/session"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes all stored data. Stores used for demos implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// CacheFlusher drops every cached summary.
type CacheFlusher interface {
	Flush(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Sessions *session.Service
	// Resetter is optional; scenario routes are only mounted when set.
	Resetter Resetter
	// Cache is optional; it is flushed whenever a scenario wipes the store.
	Cache  CacheFlusher
	logger *slog.Logger
}

// NewHandler creates a new handler. reset may be nil.
func NewHandler(svc *session.Service, reset Resetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Sessions: svc, Resetter: reset, logger: logger}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CreateSession opens a new session. The body is optional.
// POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	view, err := h.Sessions.CreateSession(r.Context(), req.Currency)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(view))
}

// GetSession returns the session view with stage and results.
// GET /api/sessions/{sessionID}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.Sessions.View(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(view))
}

// =============================================================================
// PLAYER HANDLERS
// =============================================================================

// AddPlayer adds a player to a session.
// POST /api/sessions/{sessionID}/players
func (h *Handler) AddPlayer(w http.ResponseWriter, r *http.Request) {
	var req AddPlayerRequest
	if !decode(w, r, &req) {
		return
	}

	var identity *ledger.IdentityID
	if req.IdentityID != nil {
		id := ledger.IdentityID(strings.TrimSpace(*req.IdentityID))
		identity = &id
	}

	player, err := h.Sessions.AddPlayer(r.Context(), sessionID(r), req.Name, identity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlayerDTO(*player))
}

// RenamePlayer changes a player's display name.
// PUT /api/sessions/{sessionID}/players/{playerID}
func (h *Handler) RenamePlayer(w http.ResponseWriter, r *http.Request) {
	var req RenamePlayerRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.Sessions.RenamePlayer(r.Context(), sessionID(r), playerID(r), req.Name)
	h.respondView(w, r, view, err)
}

// LinkIdentity attaches an external identity to a player.
// POST /api/sessions/{sessionID}/players/{playerID}/link
func (h *Handler) LinkIdentity(w http.ResponseWriter, r *http.Request) {
	var req LinkIdentityRequest
	if !decode(w, r, &req) {
		return
	}
	identity := ledger.IdentityID(strings.TrimSpace(req.IdentityID))
	view, err := h.Sessions.LinkIdentity(r.Context(), sessionID(r), playerID(r), identity)
	h.respondView(w, r, view, err)
}

// RemovePlayer deletes a player with all of their transactions.
// DELETE /api/sessions/{sessionID}/players/{playerID}
func (h *Handler) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	view, err := h.Sessions.RemovePlayer(r.Context(), sessionID(r), playerID(r))
	h.respondView(w, r, view, err)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// AddTransaction records a buy-in or a cash-out.
// POST /api/sessions/{sessionID}/transactions
func (h *Handler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	var req AddTransactionRequest
	if !decode(w, r, &req) {
		return
	}

	tx, err := h.Sessions.AddTransaction(r.Context(), sessionID(r),
		ledger.PlayerID(req.PlayerID), ledger.TxKind(req.Kind), req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// UpdateTransaction changes a transaction amount.
// PUT /api/sessions/{sessionID}/transactions/{txID}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.Sessions.UpdateTransaction(r.Context(), sessionID(r), transactionID(r), req.Amount)
	h.respondView(w, r, view, err)
}

// DeleteTransaction removes a transaction.
// DELETE /api/sessions/{sessionID}/transactions/{txID}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.Sessions.DeleteTransaction(r.Context(), sessionID(r), transactionID(r))
	h.respondView(w, r, view, err)
}

// =============================================================================
// STAGE TRANSITIONS
// =============================================================================

// POST /api/sessions/{sessionID}/chip-entry
func (h *Handler) StartChipEntry(w http.ResponseWriter, r *http.Request) {
	view, err := h.Sessions.StartChipEntry(r.Context(), sessionID(r))
	h.respondView(w, r, view, err)
}

// DELETE /api/sessions/{sessionID}/chip-entry
func (h *Handler) GoBack(w http.ResponseWriter, r *http.Request) {
	view, err := h.Sessions.GoBack(r.Context(), sessionID(r))
	h.respondView(w, r, view, err)
}

// Finalize locks the session and returns its settlement.
// POST /api/sessions/{sessionID}/finalize
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Sessions.Finalize(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// =============================================================================
// SUMMARY & HISTORY
// =============================================================================

// GET /api/sessions/{sessionID}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Sessions.Summary(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// GetSummaryText renders the shareable plain-text summary.
// GET /api/sessions/{sessionID}/summary.txt
func (h *Handler) GetSummaryText(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Sessions.Summary(r.Context(), sessionID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, report.Text(*summary))
}

// History aggregates several sessions. Session ids may be repeated
// (?session=a&session=b) or comma separated (?session=a,b).
// GET /api/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	var ids []ledger.SessionID
	for _, v := range r.URL.Query()["session"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, ledger.SessionID(id))
			}
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "At least one session query parameter is required", nil)
		return
	}

	history, err := h.Sessions.History(r.Context(), ids...)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTO(history))
}

// =============================================================================
// HELPERS
// =============================================================================

func sessionID(r *http.Request) ledger.SessionID {
	return ledger.SessionID(chi.URLParam(r, "sessionID"))
}

func playerID(r *http.Request) ledger.PlayerID {
	return ledger.PlayerID(chi.URLParam(r, "playerID"))
}

func transactionID(r *http.Request) ledger.TransactionID {
	return ledger.TransactionID(chi.URLParam(r, "txID"))
}

func (h *Handler) respondView(w http.ResponseWriter, r *http.Request, view *session.View, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(view))
}

// decode reads a required JSON body; it writes a 400 and returns false on
// failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional is decode but accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeServiceError maps service errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var blocked *ledger.BlockedError
	switch {
	case errors.As(err, &blocked):
		ids := make([]string, len(blocked.PlayerIDs))
		for i, id := range blocked.PlayerIDs {
			ids[i] = string(id)
		}
		writeJSON(w, http.StatusConflict, BlockedResponse{
			Error:     blocked.Error(),
			Code:      "stage_blocked",
			Operation: blocked.Operation,
			Stage:     blocked.Stage,
			Reason:    blocked.Reason,
			PlayerIDs: ids,
		})
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case ledger.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
	case ledger.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	default:
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
