// Package store provides Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/cashgame-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every row in slices so reads come back in creation order.
type Memory struct {
	mu           sync.RWMutex
	sessions     map[ledger.SessionID]ledger.Session
	players      []ledger.Player
	transactions []ledger.Transaction
	summaries    map[ledger.SessionID]ledger.Summary
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[ledger.SessionID]ledger.Session),
		summaries: make(map[ledger.SessionID]ledger.Summary),
	}
}

var (
	_ ledger.Store           = (*Memory)(nil)
	_ ledger.SummaryStore    = (*Memory)(nil)
	_ ledger.FinalizingStore = (*Memory)(nil)
)

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Memory) CreateSession(_ context.Context, s ledger.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id ledger.SessionID) (*ledger.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ledger.ErrSessionNotFound
	}
	out := cloneSession(s)
	return &out, nil
}

func (m *Memory) SetChipEntryStartedAt(_ context.Context, id ledger.SessionID, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ledger.ErrSessionNotFound
	}
	s.ChipEntryStartedAt = cloneTime(at)
	m.sessions[id] = s
	return nil
}

func (m *Memory) SetFinalizedAt(_ context.Context, id ledger.SessionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setFinalizedLocked(id, at)
}

func (m *Memory) setFinalizedLocked(id ledger.SessionID, at time.Time) error {
	s, ok := m.sessions[id]
	if !ok {
		return ledger.ErrSessionNotFound
	}
	if s.FinalizedAt != nil {
		return ledger.ErrAlreadyFinalized
	}
	s.FinalizedAt = &at
	m.sessions[id] = s
	return nil
}

// =============================================================================
// PLAYERS
// =============================================================================

func (m *Memory) CreatePlayer(_ context.Context, p ledger.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; !ok {
		return ledger.ErrSessionNotFound
	}
	m.players = append(m.players, clonePlayer(p))
	return nil
}

func (m *Memory) UpdatePlayer(_ context.Context, p ledger.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.players {
		if m.players[i].ID == p.ID && m.players[i].SessionID == p.SessionID {
			m.players[i].Name = p.Name
			m.players[i].IdentityID = cloneIdentity(p.IdentityID)
			return nil
		}
	}
	return ledger.ErrPlayerNotFound
}

// DeletePlayer removes the player and, in the same critical section, its
// transactions.
func (m *Memory) DeletePlayer(_ context.Context, sessionID ledger.SessionID, id ledger.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, p := range m.players {
		if p.ID == id && p.SessionID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ledger.ErrPlayerNotFound
	}
	m.players = append(m.players[:idx], m.players[idx+1:]...)

	kept := m.transactions[:0]
	for _, tx := range m.transactions {
		if tx.SessionID == sessionID && tx.PlayerID == id {
			continue
		}
		kept = append(kept, tx)
	}
	m.transactions = kept
	return nil
}

func (m *Memory) ListPlayers(_ context.Context, sessionID ledger.SessionID) ([]ledger.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []ledger.Player{}
	for _, p := range m.players {
		if p.SessionID == sessionID {
			result = append(result, clonePlayer(p))
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) CreateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasPlayerLocked(tx.SessionID, tx.PlayerID) {
		return ledger.ErrPlayerNotFound
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) UpdateTransactionAmount(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.transactions {
		if m.transactions[i].ID == tx.ID && m.transactions[i].SessionID == tx.SessionID {
			m.transactions[i].Amount = tx.Amount
			return nil
		}
	}
	return ledger.ErrTransactionNotFound
}

func (m *Memory) DeleteTransaction(_ context.Context, sessionID ledger.SessionID, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tx := range m.transactions {
		if tx.ID == id && tx.SessionID == sessionID {
			m.transactions = append(m.transactions[:i], m.transactions[i+1:]...)
			return nil
		}
	}
	return ledger.ErrTransactionNotFound
}

func (m *Memory) ListTransactions(_ context.Context, sessionIDs ...ledger.SessionID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[ledger.SessionID]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = true
	}
	result := []ledger.Transaction{}
	for _, tx := range m.transactions {
		if wanted[tx.SessionID] {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) hasPlayerLocked(sessionID ledger.SessionID, id ledger.PlayerID) bool {
	for _, p := range m.players {
		if p.ID == id && p.SessionID == sessionID {
			return true
		}
	}
	return false
}

// =============================================================================
// SUMMARIES
// =============================================================================

func (m *Memory) SaveSummary(_ context.Context, s ledger.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[s.SessionID] = s
	return nil
}

func (m *Memory) GetSummary(_ context.Context, id ledger.SessionID) (*ledger.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[id]
	if !ok {
		return nil, ledger.ErrSummaryNotFound
	}
	return &s, nil
}

// FinalizeWithSummary stores the summary and sets finalizedAt atomically.
func (m *Memory) FinalizeWithSummary(_ context.Context, s ledger.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setFinalizedLocked(s.SessionID, s.FinalizedAt); err != nil {
		return err
	}
	m.summaries[s.SessionID] = s
	return nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[ledger.SessionID]ledger.Session)
	m.players = nil
	m.transactions = nil
	m.summaries = make(map[ledger.SessionID]ledger.Summary)
	return nil
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneIdentity(id *ledger.IdentityID) *ledger.IdentityID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func cloneSession(s ledger.Session) ledger.Session {
	s.ChipEntryStartedAt = cloneTime(s.ChipEntryStartedAt)
	s.FinalizedAt = cloneTime(s.FinalizedAt)
	return s
}

func clonePlayer(p ledger.Player) ledger.Player {
	p.IdentityID = cloneIdentity(p.IdentityID)
	return p
}
