/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements ledger.Store, ledger.SummaryStore and ledger.FinalizingStore on
  SQLite. This is the default single-node deployment; store/postgres carries
  the same schema for shared deployments.

KEY TABLES:
  sessions:     aggregation root with the two lifecycle timestamps
  players:      one row per participant, cascade-deleted with the session
  transactions: buy-ins and cash-outs, cascade-deleted with the player
  settlements:  the read-only summary written when a session is finalized

CONSTRAINTS ENFORCED BY THE SCHEMA:
  - A transaction's (session_id, player_id) must name a player of that session
  - An identity is linked to at most one player per session
  - Amounts are stored as decimal TEXT, never REAL

ORDERING:
  Rows are returned in insertion order (rowid), which is creation order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; SQLite allows a single writer anyway.
  finalized_at is guarded in SQL (WHERE finalized_at IS NULL) so it stays
  set-once even across processes sharing the file.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := session.NewService(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/cashgame-ledger/ledger"
)

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.Store           = (*Store)(nil)
	_ ledger.SummaryStore    = (*Store)(nil)
	_ ledger.FinalizingStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at TEXT NOT NULL,
		chip_entry_started_at TEXT,
		finalized_at TEXT
	);

	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		identity_id TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (session_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_players_session
		ON players(session_id);

	-- First writer wins: one player per identity per session
	CREATE UNIQUE INDEX IF NOT EXISTS idx_players_session_identity
		ON players(session_id, identity_id) WHERE identity_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('buyin', 'cashout')),
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (session_id, player_id)
			REFERENCES players(session_id, id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_session
		ON transactions(session_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_player
		ON transactions(session_id, player_id);

	CREATE TABLE IF NOT EXISTS settlements (
		session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
		summary_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, session ledger.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, currency, created_at, chip_entry_started_at, finalized_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID,
		session.Currency,
		formatTime(session.CreatedAt),
		nullTime(session.ChipEntryStartedAt),
		nullTime(session.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id ledger.SessionID) (*ledger.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		session   ledger.Session
		createdAt string
		chipEntry sql.NullString
		finalized sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, currency, created_at, chip_entry_started_at, finalized_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Currency, &createdAt, &chipEntry, &finalized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session.CreatedAt = parseTime(createdAt)
	session.ChipEntryStartedAt = parseNullTime(chipEntry)
	session.FinalizedAt = parseNullTime(finalized)
	return &session, nil
}

func (s *Store) SetChipEntryStartedAt(ctx context.Context, id ledger.SessionID, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET chip_entry_started_at = ? WHERE id = ?`,
		nullTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res, ledger.ErrSessionNotFound)
}

func (s *Store) SetFinalizedAt(ctx context.Context, id ledger.SessionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return setFinalizedAt(ctx, s.db, id, at)
}

func setFinalizedAt(ctx context.Context, db execer, id ledger.SessionID, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET finalized_at = ? WHERE id = ? AND finalized_at IS NULL`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ledger.ErrSessionNotFound
	}
	return ledger.ErrAlreadyFinalized
}

// =============================================================================
// PLAYERS
// =============================================================================

func (s *Store) CreatePlayer(ctx context.Context, p ledger.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, session_id, name, identity_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Name, nullIdentity(p.IdentityID), formatTime(p.CreatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isForeignKeyError(err):
		return ledger.ErrSessionNotFound
	case isUniqueConstraintError(err) && strings.Contains(err.Error(), "identity_id"):
		return ledger.ErrIdentityAlreadyLinked
	default:
		return fmt.Errorf("failed to create player: %w", err)
	}
}

func (s *Store) UpdatePlayer(ctx context.Context, p ledger.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET name = ?, identity_id = ? WHERE id = ? AND session_id = ?`,
		p.Name, nullIdentity(p.IdentityID), p.ID, p.SessionID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrIdentityAlreadyLinked
		}
		return fmt.Errorf("failed to update player: %w", err)
	}
	return requireRow(res, ledger.ErrPlayerNotFound)
}

// DeletePlayer removes the player; the schema cascades to its transactions.
func (s *Store) DeletePlayer(ctx context.Context, sessionID ledger.SessionID, id ledger.PlayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM players WHERE id = ? AND session_id = ?`, id, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return requireRow(res, ledger.ErrPlayerNotFound)
}

func (s *Store) ListPlayers(ctx context.Context, sessionID ledger.SessionID) ([]ledger.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, name, identity_id, created_at
		FROM players WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	players := []ledger.Player{}
	for rows.Next() {
		var (
			p         ledger.Player
			identity  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &identity, &createdAt); err != nil {
			return nil, err
		}
		if identity.Valid {
			id := ledger.IdentityID(identity.String)
			p.IdentityID = &id
		}
		p.CreatedAt = parseTime(createdAt)
		players = append(players, p)
	}
	return players, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, session_id, player_id, kind, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.SessionID, tx.PlayerID, string(tx.Kind), tx.Amount.String(), formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.ErrPlayerNotFound
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransactionAmount(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET amount = ? WHERE id = ? AND session_id = ?`,
		tx.Amount.String(), tx.ID, tx.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func (s *Store) DeleteTransaction(ctx context.Context, sessionID ledger.SessionID, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND session_id = ?`, id, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

func (s *Store) ListTransactions(ctx context.Context, sessionIDs ...ledger.SessionID) ([]ledger.Transaction, error) {
	if len(sessionIDs) == 0 {
		return []ledger.Transaction{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sessionIDs)), ",")
	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, player_id, kind, amount, created_at
		FROM transactions WHERE session_id IN (`+placeholders+`) ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		kind      string
		amount    string
		createdAt string
	)
	if err := rows.Scan(&tx.ID, &tx.SessionID, &tx.PlayerID, &kind, &amount, &createdAt); err != nil {
		return ledger.Transaction{}, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, amount, err)
	}
	tx.Kind = ledger.TxKind(kind)
	tx.Amount = value
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (s *Store) SaveSummary(ctx context.Context, summary ledger.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return saveSummary(ctx, s.db, summary)
}

func saveSummary(ctx context.Context, db execer, summary ledger.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO settlements (session_id, summary_json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET summary_json = excluded.summary_json`,
		summary.SessionID, string(data), formatTime(time.Now()),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.ErrSessionNotFound
		}
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (s *Store) GetSummary(ctx context.Context, id ledger.SessionID) (*ledger.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_json FROM settlements WHERE session_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSummaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	var summary ledger.Summary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}

// FinalizeWithSummary sets finalized_at and stores the summary in one
// database transaction.
func (s *Store) FinalizeWithSummary(ctx context.Context, summary ledger.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := setFinalizedAt(ctx, sqlTx, summary.SessionID, summary.FinalizedAt); err != nil {
		return err
	}
	if err := saveSummary(ctx, sqlTx, summary); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"settlements", "transactions", "players", "sessions"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullIdentity(id *ledger.IdentityID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
