// Package postgres implements the ledger store on PostgreSQL via pgx.
//
// The schema mirrors store/sqlite. Amounts are NUMERIC, timestamps are
// TIMESTAMPTZ, and creation order is kept by a BIGSERIAL seq column.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/cashgame-ledger/config"
	"github.com/warp/cashgame-ledger/ledger"
)

const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
)

// Store provides PostgreSQL-based ledger persistence
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ ledger.Store           = (*Store)(nil)
	_ ledger.SummaryStore    = (*Store)(nil)
	_ ledger.FinalizingStore = (*Store)(nil)
)

// New creates a connection pool from the configuration and verifies it.
func New(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Close closes the database connection pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunMigrations executes database migrations
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			currency CHAR(3) NOT NULL DEFAULT 'USD',
			created_at TIMESTAMPTZ NOT NULL,
			chip_entry_started_at TIMESTAMPTZ,
			finalized_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			seq BIGSERIAL,
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			identity_id VARCHAR(128),
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(session_id, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_players_session_identity
			ON players(session_id, identity_id) WHERE identity_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS transactions (
			seq BIGSERIAL,
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			player_id VARCHAR(64) NOT NULL,
			kind VARCHAR(10) NOT NULL CHECK (kind IN ('buyin', 'cashout')),
			amount NUMERIC(14, 2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			FOREIGN KEY (session_id, player_id)
				REFERENCES players(session_id, id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_session ON transactions(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			session_id VARCHAR(64) PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
			summary JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, session ledger.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, currency, created_at, chip_entry_started_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(session.ID), session.Currency, session.CreatedAt,
		session.ChipEntryStartedAt, session.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id ledger.SessionID) (*ledger.Session, error) {
	var session ledger.Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, currency, created_at, chip_entry_started_at, finalized_at
		FROM sessions WHERE id = $1`, string(id),
	).Scan(&session.ID, &session.Currency, &session.CreatedAt, &session.ChipEntryStartedAt, &session.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &session, nil
}

func (s *Store) SetChipEntryStartedAt(ctx context.Context, id ledger.SessionID, at *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET chip_entry_started_at = $1 WHERE id = $2`, at, string(id))
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrSessionNotFound
	}
	return nil
}

func (s *Store) SetFinalizedAt(ctx context.Context, id ledger.SessionID, at time.Time) error {
	return setFinalizedAt(ctx, s.pool, id, at)
}

func setFinalizedAt(ctx context.Context, q querier, id ledger.SessionID, at time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE sessions SET finalized_at = $1 WHERE id = $2 AND finalized_at IS NULL`, at, string(id))
	if err != nil {
		return fmt.Errorf("finalizing session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if !exists {
		return ledger.ErrSessionNotFound
	}
	return ledger.ErrAlreadyFinalized
}

// =============================================================================
// PLAYERS
// =============================================================================

func (s *Store) CreatePlayer(ctx context.Context, p ledger.Player) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (id, session_id, name, identity_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(p.ID), string(p.SessionID), p.Name, identityArg(p.IdentityID), p.CreatedAt,
	)
	if err != nil {
		switch pgCode(err) {
		case codeForeignKeyViolation:
			return ledger.ErrSessionNotFound
		case codeUniqueViolation:
			return ledger.ErrIdentityAlreadyLinked
		}
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

func (s *Store) UpdatePlayer(ctx context.Context, p ledger.Player) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET name = $1, identity_id = $2 WHERE id = $3 AND session_id = $4`,
		p.Name, identityArg(p.IdentityID), string(p.ID), string(p.SessionID),
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return ledger.ErrIdentityAlreadyLinked
		}
		return fmt.Errorf("updating player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrPlayerNotFound
	}
	return nil
}

// DeletePlayer removes the player; transactions cascade.
func (s *Store) DeletePlayer(ctx context.Context, sessionID ledger.SessionID, id ledger.PlayerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM players WHERE id = $1 AND session_id = $2`, string(id), string(sessionID))
	if err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrPlayerNotFound
	}
	return nil
}

func (s *Store) ListPlayers(ctx context.Context, sessionID ledger.SessionID) ([]ledger.Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, name, identity_id, created_at
		FROM players WHERE session_id = $1 ORDER BY seq`, string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	players := []ledger.Player{}
	for rows.Next() {
		var (
			p        ledger.Player
			identity *string
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &identity, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		if identity != nil {
			id := ledger.IdentityID(*identity)
			p.IdentityID = &id
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, session_id, player_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		string(tx.ID), string(tx.SessionID), string(tx.PlayerID), string(tx.Kind), tx.Amount.String(), tx.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return ledger.ErrPlayerNotFound
		}
		return fmt.Errorf("creating transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransactionAmount(ctx context.Context, tx ledger.Transaction) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET amount = $1::numeric WHERE id = $2 AND session_id = $3`,
		tx.Amount.String(), string(tx.ID), string(tx.SessionID),
	)
	if err != nil {
		return fmt.Errorf("updating transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, sessionID ledger.SessionID, id ledger.TransactionID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transactions WHERE id = $1 AND session_id = $2`, string(id), string(sessionID))
	if err != nil {
		return fmt.Errorf("deleting transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, sessionIDs ...ledger.SessionID) ([]ledger.Transaction, error) {
	if len(sessionIDs) == 0 {
		return []ledger.Transaction{}, nil
	}
	ids := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		ids[i] = string(id)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, player_id, kind, amount::text, created_at
		FROM transactions WHERE session_id = ANY($1) ORDER BY seq`, ids)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		var (
			tx     ledger.Transaction
			kind   string
			amount string
		)
		if err := rows.Scan(&tx.ID, &tx.SessionID, &tx.PlayerID, &kind, &amount, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", tx.ID, amount, err)
		}
		tx.Kind = ledger.TxKind(kind)
		tx.Amount = value
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (s *Store) SaveSummary(ctx context.Context, summary ledger.Summary) error {
	return saveSummary(ctx, s.pool, summary)
}

func saveSummary(ctx context.Context, q querier, summary ledger.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO settlements (session_id, summary) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET summary = EXCLUDED.summary`,
		string(summary.SessionID), data,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return ledger.ErrSessionNotFound
		}
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}

func (s *Store) GetSummary(ctx context.Context, id ledger.SessionID) (*ledger.Summary, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM settlements WHERE session_id = $1`, string(id)).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrSummaryNotFound
		}
		return nil, fmt.Errorf("getting summary: %w", err)
	}

	var summary ledger.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}
	return &summary, nil
}

// FinalizeWithSummary sets finalized_at and stores the summary in one
// transaction.
func (s *Store) FinalizeWithSummary(ctx context.Context, summary ledger.Summary) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := setFinalizedAt(ctx, tx, summary.SessionID, summary.FinalizedAt); err != nil {
			return err
		}
		return saveSummary(ctx, tx, summary)
	})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE sessions, players, transactions, settlements`)
	return err
}

func identityArg(id *ledger.IdentityID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
