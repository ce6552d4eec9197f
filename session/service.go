/*
service.go - Write boundary for cash-game sessions

PURPOSE:
  Every mutation of a session goes through Service. The flow is always:
  1. Load a fresh snapshot from the store
  2. Ask the stage engine whether the operation is legal
  3. Validate the input
  4. Apply exactly one store mutation
  5. Re-load and return the new view

  The service never patches a snapshot in place and never stores the stage.

SIDE EFFECTS:
  Lifecycle events (events.Publisher) and the summary cache are best-effort.
  A failure is logged and the persisted mutation stands.

FINALIZE:
  The summary is computed from the snapshot that passed the stage check and
  stored together with finalizedAt. Stores implementing
  ledger.FinalizingStore do both in one write; others set finalizedAt first
  (set-once) so a losing concurrent finalize never overwrites a summary.

SEE ALSO:
  - stage/stage.go: permission matrix
  - ledger/settlement.go: BuildSummary
  - history.go: multi-session reads
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/cashgame-ledger/events"
	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/stage"
)

// DefaultCurrency is used when a session is created without one.
const DefaultCurrency = "USD"

// MaxPlayerNameLength bounds player names, in runes.
const MaxPlayerNameLength = 40

// Store is the persistence the service needs.
type Store interface {
	ledger.Store
	ledger.SummaryStore
}

// SummaryCache caches finalized summaries. GetSummary returns nil, nil on a
// miss.
type SummaryCache interface {
	GetSummary(ctx context.Context, id ledger.SessionID) (*ledger.Summary, error)
	SetSummary(ctx context.Context, s ledger.Summary) error
}

// View is the read model of one session.
type View struct {
	Snapshot      ledger.Snapshot
	Stage         stage.Stage
	Results       []ledger.PlayerResult
	Totals        ledger.Totals
	Balanced      bool
	MissingBuyins []ledger.PlayerID
	// Transfers is the settlement preview; nil before ready_to_finalize.
	Transfers []ledger.Transfer
	Permitted []stage.Operation
}

// NewView derives the read model from a snapshot.
func NewView(s ledger.Snapshot) *View {
	results := s.Results()
	totals := ledger.TotalsOf(results)
	v := &View{
		Snapshot:      s,
		Stage:         stage.Derive(s),
		Results:       results,
		Totals:        totals,
		Balanced:      totals.IsBalanced(),
		MissingBuyins: stage.MissingBuyinsPlayerIDs(s.Players, s.Transactions),
		Permitted:     stage.Permitted(s),
	}
	if v.Stage == stage.ReadyToFinalize || v.Stage == stage.Finalized {
		v.Transfers = ledger.TransfersFor(results)
	}
	return v
}

// Service orchestrates session mutations.
type Service struct {
	store     Store
	cache     SummaryCache
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithCache enables the finalized-summary cache.
func WithCache(c SummaryCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the UUID generator (for testing).
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession opens a new session in active_game.
func (s *Service) CreateSession(ctx context.Context, currency string) (*View, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	session := ledger.Session{
		ID:        ledger.SessionID(s.newID()),
		Currency:  code,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session created",
		slog.String("session_id", string(session.ID)),
		slog.String("currency", code),
	)
	return s.View(ctx, session.ID)
}

// NormalizeCurrency upper-cases a currency code and defaults it to USD.
func NormalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return DefaultCurrency, nil
	}
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidCurrency, currency)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ledger.ErrInvalidCurrency, currency)
		}
	}
	return code, nil
}

// View loads the current read model of a session.
func (s *Service) View(ctx context.Context, id ledger.SessionID) (*View, error) {
	snap, err := ledger.LoadSnapshot(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return NewView(snap), nil
}

// load reads a snapshot and checks op against it.
func (s *Service) load(ctx context.Context, id ledger.SessionID, op stage.Operation) (ledger.Snapshot, error) {
	snap, err := ledger.LoadSnapshot(ctx, s.store, id)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if err := stage.Check(snap, op).Err(); err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

// =============================================================================
// PLAYERS
// =============================================================================

// AddPlayer adds a player, optionally linked to an identity.
func (s *Service) AddPlayer(ctx context.Context, sessionID ledger.SessionID, name string, identity *ledger.IdentityID) (*ledger.Player, error) {
	snap, err := s.load(ctx, sessionID, stage.OpAddPlayer)
	if err != nil {
		return nil, err
	}
	name, err = normalizeName(name)
	if err != nil {
		return nil, err
	}
	if identity != nil {
		if *identity == "" {
			return nil, ledger.ErrInvalidIdentity
		}
		if owner, ok := identityOwner(snap, *identity); ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrIdentityAlreadyLinked, owner.Name)
		}
	}

	player := ledger.Player{
		ID:         ledger.PlayerID(s.newID()),
		SessionID:  sessionID,
		Name:       name,
		IdentityID: identity,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreatePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}
	return &player, nil
}

func (s *Service) RenamePlayer(ctx context.Context, sessionID ledger.SessionID, playerID ledger.PlayerID, name string) (*View, error) {
	snap, err := s.load(ctx, sessionID, stage.OpRenamePlayer)
	if err != nil {
		return nil, err
	}
	player, ok := snap.Player(playerID)
	if !ok {
		return nil, ledger.ErrPlayerNotFound
	}
	if player.Name, err = normalizeName(name); err != nil {
		return nil, err
	}
	if err := s.store.UpdatePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("renaming player: %w", err)
	}
	return s.View(ctx, sessionID)
}

// RemovePlayer deletes a player and all of the player's transactions.
func (s *Service) RemovePlayer(ctx context.Context, sessionID ledger.SessionID, playerID ledger.PlayerID) (*View, error) {
	snap, err := s.load(ctx, sessionID, stage.OpRemovePlayer)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Player(playerID); !ok {
		return nil, ledger.ErrPlayerNotFound
	}
	if err := s.store.DeletePlayer(ctx, sessionID, playerID); err != nil {
		return nil, fmt.Errorf("removing player: %w", err)
	}
	return s.View(ctx, sessionID)
}

// LinkIdentity attaches an external identity to a player. The first link
// wins; relinking the same identity is a no-op.
func (s *Service) LinkIdentity(ctx context.Context, sessionID ledger.SessionID, playerID ledger.PlayerID, identity ledger.IdentityID) (*View, error) {
	snap, err := s.load(ctx, sessionID, stage.OpLinkIdentity)
	if err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ledger.ErrInvalidIdentity
	}
	player, ok := snap.Player(playerID)
	if !ok {
		return nil, ledger.ErrPlayerNotFound
	}

	if player.IdentityID != nil {
		if *player.IdentityID == identity {
			return NewView(snap), nil
		}
		return nil, ledger.ErrPlayerAlreadyLinked
	}
	if owner, ok := identityOwner(snap, identity); ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrIdentityAlreadyLinked, owner.Name)
	}

	player.IdentityID = &identity
	if err := s.store.UpdatePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("linking identity: %w", err)
	}
	return s.View(ctx, sessionID)
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ledger.ErrInvalidPlayerName
	}
	if utf8.RuneCountInString(name) > MaxPlayerNameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ledger.ErrInvalidPlayerName, MaxPlayerNameLength)
	}
	return name, nil
}

func identityOwner(snap ledger.Snapshot, identity ledger.IdentityID) (ledger.Player, bool) {
	for _, p := range snap.Players {
		if p.IdentityID != nil && *p.IdentityID == identity {
			return p, true
		}
	}
	return ledger.Player{}, false
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Service) AddBuyin(ctx context.Context, sessionID ledger.SessionID, playerID ledger.PlayerID, amount decimal.Decimal) (*ledger.Transaction, error) {
	return s.addTransaction(ctx, sessionID, playerID, ledger.KindBuyin, amount)
}

func (s *Service) AddCashout(ctx context.Context, sessionID ledger.SessionID, playerID ledger.PlayerID, amount decimal.Decimal) (*ledger.Transaction, error) {
	return s.addTransaction(ctx, sessionID, playerID, ledger.KindCashout, amount)
}

// AddTransaction records a transaction of the given kind.
func (s *Service) AddTransaction(ctx context.Context, sessionID ledger.SessionID, playerID ledger.PlayerID, kind ledger.TxKind, amount decimal.Decimal) (*ledger.Transaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidKind, kind)
	}
	return s.addTransaction(ctx, sessionID, playerID, kind, amount)
}

func (s *Service) addTransaction(ctx context.Context, sessionID ledger.SessionID, playerID ledger.PlayerID, kind ledger.TxKind, amount decimal.Decimal) (*ledger.Transaction, error) {
	snap, err := s.load(ctx, sessionID, stage.TransactionOp(kind, "add"))
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Player(playerID); !ok {
		return nil, ledger.ErrPlayerNotFound
	}
	if err := ledger.ValidateAmount(kind, amount); err != nil {
		return nil, err
	}

	tx := ledger.Transaction{
		ID:        ledger.TransactionID(s.newID()),
		SessionID: sessionID,
		PlayerID:  playerID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("recording %s: %w", kind, err)
	}
	return &tx, nil
}

// UpdateTransaction changes the amount of an existing transaction. The kind
// and player are immutable.
func (s *Service) UpdateTransaction(ctx context.Context, sessionID ledger.SessionID, txID ledger.TransactionID, amount decimal.Decimal) (*View, error) {
	snap, err := ledger.LoadSnapshot(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	tx, ok := snap.Transaction(txID)
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	if err := stage.Check(snap, stage.TransactionOp(tx.Kind, "edit")).Err(); err != nil {
		return nil, err
	}
	if err := ledger.ValidateAmount(tx.Kind, amount); err != nil {
		return nil, err
	}

	tx.Amount = amount
	if err := s.store.UpdateTransactionAmount(ctx, tx); err != nil {
		return nil, fmt.Errorf("updating transaction: %w", err)
	}
	return s.View(ctx, sessionID)
}

func (s *Service) DeleteTransaction(ctx context.Context, sessionID ledger.SessionID, txID ledger.TransactionID) (*View, error) {
	snap, err := ledger.LoadSnapshot(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	tx, ok := snap.Transaction(txID)
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	if err := stage.Check(snap, stage.TransactionOp(tx.Kind, "delete")).Err(); err != nil {
		return nil, err
	}
	if err := s.store.DeleteTransaction(ctx, sessionID, txID); err != nil {
		return nil, fmt.Errorf("deleting transaction: %w", err)
	}
	return s.View(ctx, sessionID)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// StartChipEntry closes the buy-in phase.
func (s *Service) StartChipEntry(ctx context.Context, sessionID ledger.SessionID) (*View, error) {
	if _, err := s.load(ctx, sessionID, stage.OpStartChipEntry); err != nil {
		return nil, err
	}

	at := s.now()
	if err := s.store.SetChipEntryStartedAt(ctx, sessionID, &at); err != nil {
		return nil, fmt.Errorf("starting chip entry: %w", err)
	}

	s.logger.Info("chip entry started", slog.String("session_id", string(sessionID)))
	s.publish(ctx, events.Event{Type: events.ChipEntryStarted, SessionID: sessionID, OccurredAt: at})
	return s.View(ctx, sessionID)
}

// GoBack reopens the buy-in phase. Only legal while no cash-out exists.
func (s *Service) GoBack(ctx context.Context, sessionID ledger.SessionID) (*View, error) {
	if _, err := s.load(ctx, sessionID, stage.OpGoBack); err != nil {
		return nil, err
	}
	if err := s.store.SetChipEntryStartedAt(ctx, sessionID, nil); err != nil {
		return nil, fmt.Errorf("reverting chip entry: %w", err)
	}

	s.logger.Info("chip entry reverted", slog.String("session_id", string(sessionID)))
	s.publish(ctx, events.Event{Type: events.ChipEntryReverted, SessionID: sessionID, OccurredAt: s.now()})
	return s.View(ctx, sessionID)
}

// Finalize locks the session and persists its settlement summary.
func (s *Service) Finalize(ctx context.Context, sessionID ledger.SessionID) (*ledger.Summary, error) {
	snap, err := s.load(ctx, sessionID, stage.OpFinalize)
	if err != nil {
		return nil, err
	}

	summary := ledger.BuildSummary(snap, s.now())
	if fs, ok := s.store.(ledger.FinalizingStore); ok {
		err = fs.FinalizeWithSummary(ctx, summary)
	} else {
		err = s.store.SetFinalizedAt(ctx, sessionID, summary.FinalizedAt)
		if err == nil {
			err = s.store.SaveSummary(ctx, summary)
		}
	}
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyFinalized) {
			return nil, err
		}
		return nil, fmt.Errorf("finalizing session: %w", err)
	}

	s.logger.Info("session finalized",
		slog.String("session_id", string(sessionID)),
		slog.Bool("balanced", summary.Balanced),
		slog.Int("transfers", len(summary.Transfers)),
	)
	if !summary.Balanced {
		s.logger.Warn("finalized session does not balance",
			slog.String("session_id", string(sessionID)),
			slog.String("discrepancy", summary.Totals.TotalProfitLoss.String()),
		)
	}

	s.publish(ctx, events.FinalizedEvent(summary))
	s.cacheSummary(ctx, summary)
	return &summary, nil
}

// Summary returns the settlement record of a finalized session.
func (s *Service) Summary(ctx context.Context, sessionID ledger.SessionID) (*ledger.Summary, error) {
	if s.cache != nil {
		cached, err := s.cache.GetSummary(ctx, sessionID)
		if err != nil {
			s.logger.Warn("summary cache read failed",
				slog.String("session_id", string(sessionID)),
				slog.String("error", err.Error()),
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsFinalized() {
		return nil, ledger.ErrSessionNotFinalized
	}

	summary, err := s.store.GetSummary(ctx, sessionID)
	if errors.Is(err, ledger.ErrSummaryNotFound) {
		// Finalized without a stored record: rebuild from the locked ledger.
		snap, loadErr := ledger.LoadSnapshot(ctx, s.store, sessionID)
		if loadErr != nil {
			return nil, loadErr
		}
		rebuilt := ledger.BuildSummary(snap, *session.FinalizedAt)
		summary, err = &rebuilt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading summary: %w", err)
	}

	s.cacheSummary(ctx, *summary)
	return summary, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("type", string(e.Type)),
			slog.String("session_id", string(e.SessionID)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) cacheSummary(ctx context.Context, summary ledger.Summary) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetSummary(ctx, summary); err != nil {
		s.logger.Warn("summary cache write failed",
			slog.String("session_id", string(summary.SessionID)),
			slog.String("error", err.Error()),
		)
	}
}
