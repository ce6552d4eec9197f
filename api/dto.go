/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are rendered as decimal strings with two places ("12.50") and
  accepted as either JSON numbers or strings. Floats never touch the ledger.

VALIDATION:
  Validation is done by the session service, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - session/service.go: View, History
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/session"
	"github.com/warp/cashgame-ledger/stage"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateSessionRequest struct {
	Currency string `json:"currency"`
}

type AddPlayerRequest struct {
	Name       string  `json:"name"`
	IdentityID *string `json:"identity_id,omitempty"`
}

type RenamePlayerRequest struct {
	Name string `json:"name"`
}

type LinkIdentityRequest struct {
	IdentityID string `json:"identity_id"`
}

type AddTransactionRequest struct {
	PlayerID string          `json:"player_id"`
	Kind     string          `json:"kind"` // "buyin" or "cashout"
	Amount   decimal.Decimal `json:"amount"`
}

type UpdateTransactionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SessionDTO is the full read model of a session.
type SessionDTO struct {
	ID                     string            `json:"id"`
	Currency               string            `json:"currency"`
	CreatedAt              time.Time         `json:"created_at"`
	ChipEntryStartedAt     *time.Time        `json:"chip_entry_started_at,omitempty"`
	FinalizedAt            *time.Time        `json:"finalized_at,omitempty"`
	Stage                  string            `json:"stage"`
	Players                []PlayerDTO       `json:"players"`
	Transactions           []TransactionDTO  `json:"transactions"`
	Results                []PlayerResultDTO `json:"results"`
	Totals                 TotalsDTO         `json:"totals"`
	Balanced               bool              `json:"balanced"`
	MissingBuyinsPlayerIDs []string          `json:"missing_buyins_player_ids"`
	Transfers              []TransferDTO     `json:"transfers,omitempty"`
	Permitted              []string          `json:"permitted_operations"`
}

type PlayerDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IdentityID *string   `json:"identity_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type TransactionDTO struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	Kind      string    `json:"kind"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type PlayerResultDTO struct {
	PlayerID      string `json:"player_id"`
	Name          string `json:"name"`
	TotalBuyins   string `json:"total_buyins"`
	TotalCashouts string `json:"total_cashouts"`
	PL            string `json:"pl"`
	Outcome       string `json:"outcome"` // winner, loser, even
}

type TotalsDTO struct {
	TotalBuyins     string `json:"total_buyins"`
	TotalCashouts   string `json:"total_cashouts"`
	TotalProfitLoss string `json:"total_profit_loss"`
}

type TransferDTO struct {
	From     string `json:"from"`
	FromName string `json:"from_name"`
	To       string `json:"to"`
	ToName   string `json:"to_name"`
	Amount   string `json:"amount"`
}

// SummaryDTO is the read-only settlement record of a finalized session.
type SummaryDTO struct {
	SessionID   string            `json:"session_id"`
	Currency    string            `json:"currency"`
	FinalizedAt time.Time         `json:"finalized_at"`
	Results     []PlayerResultDTO `json:"results"`
	Totals      TotalsDTO         `json:"totals"`
	Balanced    bool              `json:"balanced"`
	Transfers   []TransferDTO     `json:"transfers"`
}

type HistoryDTO struct {
	Sessions   []SessionRecordDTO  `json:"sessions"`
	Identities []IdentityRecordDTO `json:"identities"`
}

type SessionRecordDTO struct {
	SessionID   string     `json:"session_id"`
	Currency    string     `json:"currency"`
	Stage       string     `json:"stage"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	Players     int        `json:"players"`
	Totals      TotalsDTO  `json:"totals"`
	Balanced    bool       `json:"balanced"`
}

type IdentityRecordDTO struct {
	IdentityID    string `json:"identity_id"`
	Currency      string `json:"currency"`
	Sessions      int    `json:"sessions"`
	TotalBuyins   string `json:"total_buyins"`
	TotalCashouts string `json:"total_cashouts"`
	PL            string `json:"pl"`
}

// ScenarioDTO describes a demo session loader.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Stage       string `json:"stage"`
}

type LoadScenarioResponse struct {
	Scenario string     `json:"scenario"`
	Session  SessionDTO `json:"session"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// BlockedResponse is returned with 409 when the session stage does not
// permit an operation.
type BlockedResponse struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Operation string   `json:"operation"`
	Stage     string   `json:"stage"`
	Reason    string   `json:"reason"`
	PlayerIDs []string `json:"player_ids"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toSessionDTO(v *session.View) SessionDTO {
	s := v.Snapshot
	dto := SessionDTO{
		ID:                     string(s.Session.ID),
		Currency:               s.Session.Currency,
		CreatedAt:              s.Session.CreatedAt,
		ChipEntryStartedAt:     s.Session.ChipEntryStartedAt,
		FinalizedAt:            s.Session.FinalizedAt,
		Stage:                  string(v.Stage),
		Players:                make([]PlayerDTO, len(s.Players)),
		Transactions:           make([]TransactionDTO, len(s.Transactions)),
		Results:                toResultDTOs(v.Results),
		Totals:                 toTotalsDTO(v.Totals),
		Balanced:               v.Balanced,
		MissingBuyinsPlayerIDs: playerIDs(v.MissingBuyins),
		Permitted:              operations(v.Permitted),
	}
	for i, p := range s.Players {
		dto.Players[i] = toPlayerDTO(p)
	}
	for i, tx := range s.Transactions {
		dto.Transactions[i] = toTransactionDTO(tx)
	}
	if v.Transfers != nil {
		dto.Transfers = toTransferDTOs(v.Transfers)
	}
	return dto
}

func toPlayerDTO(p ledger.Player) PlayerDTO {
	dto := PlayerDTO{ID: string(p.ID), Name: p.Name, CreatedAt: p.CreatedAt}
	if p.IdentityID != nil {
		id := string(*p.IdentityID)
		dto.IdentityID = &id
	}
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:        string(tx.ID),
		PlayerID:  string(tx.PlayerID),
		Kind:      string(tx.Kind),
		Amount:    money(tx.Amount),
		CreatedAt: tx.CreatedAt,
	}
}

func toResultDTOs(results []ledger.PlayerResult) []PlayerResultDTO {
	out := make([]PlayerResultDTO, len(results))
	for i, r := range results {
		outcome := "even"
		switch {
		case r.IsWinner():
			outcome = "winner"
		case r.IsLoser():
			outcome = "loser"
		}
		out[i] = PlayerResultDTO{
			PlayerID:      string(r.Player.ID),
			Name:          r.Player.Name,
			TotalBuyins:   money(r.TotalBuyins),
			TotalCashouts: money(r.TotalCashouts),
			PL:            money(r.PL),
			Outcome:       outcome,
		}
	}
	return out
}

func toTotalsDTO(t ledger.Totals) TotalsDTO {
	return TotalsDTO{
		TotalBuyins:     money(t.TotalBuyins),
		TotalCashouts:   money(t.TotalCashouts),
		TotalProfitLoss: money(t.TotalProfitLoss),
	}
}

func toTransferDTOs(transfers []ledger.Transfer) []TransferDTO {
	out := make([]TransferDTO, len(transfers))
	for i, t := range transfers {
		out[i] = TransferDTO{
			From:     string(t.DebtorID),
			FromName: t.DebtorName,
			To:       string(t.CreditorID),
			ToName:   t.CreditorName,
			Amount:   money(t.Amount),
		}
	}
	return out
}

func toSummaryDTO(s *ledger.Summary) SummaryDTO {
	return SummaryDTO{
		SessionID:   string(s.SessionID),
		Currency:    s.Currency,
		FinalizedAt: s.FinalizedAt,
		Results:     toResultDTOs(s.Results),
		Totals:      toTotalsDTO(s.Totals),
		Balanced:    s.Balanced,
		Transfers:   toTransferDTOs(s.Transfers),
	}
}

func toHistoryDTO(h *session.History) HistoryDTO {
	dto := HistoryDTO{
		Sessions:   make([]SessionRecordDTO, len(h.Sessions)),
		Identities: make([]IdentityRecordDTO, len(h.Identities)),
	}
	for i, s := range h.Sessions {
		dto.Sessions[i] = SessionRecordDTO{
			SessionID:   string(s.SessionID),
			Currency:    s.Currency,
			Stage:       string(s.Stage),
			CreatedAt:   s.CreatedAt,
			FinalizedAt: s.FinalizedAt,
			Players:     s.Players,
			Totals:      toTotalsDTO(s.Totals),
			Balanced:    s.Balanced,
		}
	}
	for i, r := range h.Identities {
		dto.Identities[i] = IdentityRecordDTO{
			IdentityID:    string(r.IdentityID),
			Currency:      r.Currency,
			Sessions:      r.Sessions,
			TotalBuyins:   money(r.TotalBuyins),
			TotalCashouts: money(r.TotalCashouts),
			PL:            money(r.PL),
		}
	}
	return dto
}

func playerIDs(ids []ledger.PlayerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func operations(ops []stage.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}
