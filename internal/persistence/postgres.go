package persistence

import (
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements store.Store on PostgreSQL. Row locks are
// SELECT ... FOR UPDATE inside a pgx transaction; rows that may not exist
// yet (a user's active seed, the active round) are guarded by transaction
// scoped advisory locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect parses dsn, opens a pool and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error, sentinel error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// --- Transactions ---

func (s *PostgresStore) Atomically(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) advisoryLock(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

// --- Accounts & entries ---

const accountColumns = `id, user_id, currency, network, available, locked, version, created_at, updated_at`

func scanAccount(row scanner) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Network,
		&a.Available, &a.Locked, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) LockAccount(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (user_id, currency, network) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, currency, network) DO NOTHING`,
		key.UserID, string(key.Currency), string(key.Network))
	if err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", key, err)
	}

	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE user_id = $1 AND currency = $2 AND network = $3 FOR UPDATE`,
		key.UserID, string(key.Currency), string(key.Network)))
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", key, err)
	}
	return a, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *model.Account) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET available = $2, locked = $3, version = $4, updated_at = NOW()
		 WHERE id = $1`,
		a.ID, a.Available, a.Locked, a.Version)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update account %d: %w", a.ID, model.ErrNotFound)
	}
	return nil
}

const entryColumns = `id, account_id, amount, currency, type, bucket, ref_id, meta, created_at`

func scanEntry(row scanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Currency, &e.Type,
		&e.Bucket, &e.RefID, &e.Meta, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) FindEntry(ctx context.Context, accountID int64, typ model.EntryType, refID string) (*model.LedgerEntry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE account_id = $1 AND type = $2 AND ref_id = $3 LIMIT 1`,
		accountID, string(typ), refID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry %s/%s: %w", typ, refID, err)
	}
	return e, nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *model.LedgerEntry) error {
	meta := e.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (account_id, amount, currency, type, bucket, ref_id, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		e.AccountID, e.Amount, string(e.Currency), string(e.Type), string(e.Bucket), e.RefID, meta,
	).Scan(&e.ID, &e.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert entry %s/%s: duplicate reference: %w", e.Type, e.RefID, err)
	}
	if err != nil {
		return fmt.Errorf("insert entry %s/%s: %w", e.Type, e.RefID, err)
	}
	return nil
}

// --- Positions ---

const positionColumns = `id, user_id, symbol_id, network, side, qty, entry_price, collateral, leverage,
	status, realized_pnl, fees_paid, opened_at, closed_at, borrow_start_at, version`

func scanPosition(row scanner) (*model.Position, error) {
	var p model.Position
	err := row.Scan(&p.ID, &p.UserID, &p.SymbolID, &p.Network, &p.Side, &p.Qty, &p.EntryPrice,
		&p.Collateral, &p.Leverage, &p.Status, &p.RealizedPnl, &p.FeesPaid,
		&p.OpenedAt, &p.ClosedAt, &p.BorrowStartAt, &p.Version)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (`+positionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.UserID, p.SymbolID, string(p.Network), string(p.Side), p.Qty, p.EntryPrice,
		p.Collateral, p.Leverage, string(p.Status), p.RealizedPnl, p.FeesPaid,
		p.OpenedAt, p.ClosedAt, p.BorrowStartAt, p.Version)
	if err != nil {
		return fmt.Errorf("insert position %s: %w", p.ID, err)
	}
	return nil
}

func (t *pgTx) LockPosition(ctx context.Context, id uuid.UUID) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "position %s", id)
	}
	return p, nil
}

func (t *pgTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE positions SET qty = $2, collateral = $3, status = $4, realized_pnl = $5,
		        fees_paid = $6, closed_at = $7, borrow_start_at = $8, version = $9
		 WHERE id = $1`,
		p.ID, p.Qty, p.Collateral, string(p.Status), p.RealizedPnl,
		p.FeesPaid, p.ClosedAt, p.BorrowStartAt, p.Version)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update position %s: %w", p.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertFuturesTransaction(ctx context.Context, ft *model.FuturesTransaction) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO futures_transactions (position_id, user_id, type, amount, currency, ref_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		ft.PositionID, ft.UserID, string(ft.Type), ft.Amount, string(ft.Currency), ft.RefID,
	).Scan(&ft.ID, &ft.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert futures transaction %s/%s: %w", ft.Type, ft.RefID, err)
	}
	return nil
}

// --- Rounds ---

const roundColumns = `id, server_seed, server_seed_hash, starts_at, ends_at, interval_ms, is_active, revealed_at`

func scanRound(row scanner) (*model.Round, error) {
	var r model.Round
	err := row.Scan(&r.ID, &r.ServerSeed, &r.ServerSeedHash, &r.StartsAt, &r.EndsAt,
		&r.IntervalMs, &r.IsActive, &r.RevealedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) LockActiveRound(ctx context.Context) (*model.Round, error) {
	if err := t.advisoryLock(ctx, "round:active"); err != nil {
		return nil, err
	}
	r, err := scanRound(t.tx.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM trading_rounds WHERE is_active FOR UPDATE`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock active round: %w", err)
	}
	return r, nil
}

func (t *pgTx) LockRound(ctx context.Context, id uuid.UUID) (*model.Round, error) {
	r, err := scanRound(t.tx.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM trading_rounds WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "round %s", id)
	}
	return r, nil
}

func (t *pgTx) InsertRound(ctx context.Context, r *model.Round) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trading_rounds (`+roundColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ServerSeed, r.ServerSeedHash, r.StartsAt, r.EndsAt, r.IntervalMs, r.IsActive, r.RevealedAt)
	if err != nil {
		return fmt.Errorf("insert round %s: %w", r.ID, err)
	}
	return nil
}

func (t *pgTx) UpdateRound(ctx context.Context, r *model.Round) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE trading_rounds SET is_active = $2, revealed_at = $3 WHERE id = $1`,
		r.ID, r.IsActive, r.RevealedAt)
	if err != nil {
		return fmt.Errorf("update round %s: %w", r.ID, err)
	}
	return nil
}

// --- Seeds ---

const seedColumns = `id, user_id, server_seed, server_seed_hash, next_nonce, active, created_at, revealed_at`

func scanSeed(row scanner) (*model.FairnessSeed, error) {
	var s model.FairnessSeed
	err := row.Scan(&s.ID, &s.UserID, &s.ServerSeed, &s.ServerSeedHash, &s.NextNonce,
		&s.Active, &s.CreatedAt, &s.RevealedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) LockActiveSeed(ctx context.Context, userID uuid.UUID) (*model.FairnessSeed, error) {
	if err := t.advisoryLock(ctx, "seed:"+userID.String()); err != nil {
		return nil, err
	}
	s, err := scanSeed(t.tx.QueryRow(ctx,
		`SELECT `+seedColumns+` FROM fairness_seeds WHERE user_id = $1 AND active FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock active seed %s: %w", userID, err)
	}
	return s, nil
}

func (t *pgTx) LockSeedByHash(ctx context.Context, userID uuid.UUID, hash string) (*model.FairnessSeed, error) {
	if err := t.advisoryLock(ctx, "seed:"+userID.String()); err != nil {
		return nil, err
	}
	s, err := scanSeed(t.tx.QueryRow(ctx,
		`SELECT `+seedColumns+` FROM fairness_seeds
		 WHERE user_id = $1 AND server_seed_hash = $2 FOR UPDATE`, userID, hash))
	if err != nil {
		return nil, notFound(err, model.ErrSeedNotFound, "seed %s", hash)
	}
	return s, nil
}

func (t *pgTx) InsertSeed(ctx context.Context, s *model.FairnessSeed) error {
	if err := t.advisoryLock(ctx, "seed:"+s.UserID.String()); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO fairness_seeds (`+seedColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.ServerSeed, s.ServerSeedHash, s.NextNonce, s.Active, s.CreatedAt, s.RevealedAt)
	if err != nil {
		return fmt.Errorf("insert seed %s: %w", s.ID, err)
	}
	return nil
}

func (t *pgTx) UpdateSeed(ctx context.Context, s *model.FairnessSeed) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE fairness_seeds SET next_nonce = $2, active = $3, revealed_at = $4 WHERE id = $1`,
		s.ID, s.NextNonce, s.Active, s.RevealedAt)
	if err != nil {
		return fmt.Errorf("update seed %s: %w", s.ID, err)
	}
	return nil
}

// --- Bets ---

const betColumns = `id, user_id, game, params, currency, network, stake, potential_payout, payout,
	seed_id, server_seed_hash, client_seed, nonce, outcome, result_multiplier, rng_trace,
	status, created_at, resolved_at`

func scanBet(row scanner) (*model.Bet, error) {
	var b model.Bet
	var params, outcome []byte
	err := row.Scan(&b.ID, &b.UserID, &b.Game, &params, &b.Currency, &b.Network, &b.Stake,
		&b.PotentialPayout, &b.Payout, &b.SeedID, &b.ServerSeedHash, &b.ClientSeed, &b.Nonce,
		&outcome, &b.ResultMultiplier, &b.RNGTrace, &b.Status, &b.CreatedAt, &b.ResolvedAt)
	if err != nil {
		return nil, err
	}
	b.Params = json.RawMessage(params)
	if len(outcome) > 0 {
		b.Outcome = json.RawMessage(outcome)
	}
	return &b, nil
}

// jsonArg passes raw JSON through to a jsonb column; empty means NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (t *pgTx) InsertBet(ctx context.Context, b *model.Bet) error {
	params := jsonArg(b.Params)
	if params == nil {
		params = "{}"
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bets (`+betColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		b.ID, b.UserID, b.Game, params, string(b.Currency), string(b.Network), b.Stake,
		b.PotentialPayout, b.Payout, b.SeedID, b.ServerSeedHash, b.ClientSeed, b.Nonce,
		jsonArg(b.Outcome), b.ResultMultiplier, b.RNGTrace, string(b.Status), b.CreatedAt, b.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert bet %s: %w", b.ID, err)
	}
	return nil
}

func (t *pgTx) LockBet(ctx context.Context, id uuid.UUID) (*model.Bet, error) {
	b, err := scanBet(t.tx.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "bet %s", id)
	}
	return b, nil
}

func (t *pgTx) UpdateBet(ctx context.Context, b *model.Bet) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE bets SET payout = $2, outcome = $3, result_multiplier = $4, rng_trace = $5,
		        status = $6, resolved_at = $7
		 WHERE id = $1`,
		b.ID, b.Payout, jsonArg(b.Outcome), b.ResultMultiplier, b.RNGTrace, string(b.Status), b.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update bet %s: %w", b.ID, err)
	}
	return nil
}

// --- Reads ---

func (s *PostgresStore) GetAccount(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND currency = $2 AND network = $3`,
		key.UserID, string(key.Currency), string(key.Network)))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "account %s", key)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "account %d", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return collect(ctx, s.pool, scanAccount, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

func (s *PostgresStore) ListEntries(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	return collect(ctx, s.pool, scanEntry,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY id`, accountID)
}

func (s *PostgresStore) EntryExists(ctx context.Context, accountID int64, typ model.EntryType, refID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE account_id = $1 AND type = $2 AND ref_id = $3)`,
		accountID, string(typ), refID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id uuid.UUID) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "position %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, filter store.PositionFilter) ([]model.Position, error) {
	var userID *uuid.UUID
	if filter.UserID != uuid.Nil {
		userID = &filter.UserID
	}
	var status *string
	if filter.Status != "" {
		st := string(filter.Status)
		status = &st
	}
	return collect(ctx, s.pool, scanPosition,
		`SELECT `+positionColumns+` FROM positions
		 WHERE ($1::uuid IS NULL OR user_id = $1) AND ($2::text IS NULL OR status = $2)
		 ORDER BY opened_at, id`, userID, status)
}

func (s *PostgresStore) ListFuturesTransactions(ctx context.Context, positionID uuid.UUID) ([]model.FuturesTransaction, error) {
	return collect(ctx, s.pool, func(row scanner) (*model.FuturesTransaction, error) {
		var ft model.FuturesTransaction
		err := row.Scan(&ft.ID, &ft.PositionID, &ft.UserID, &ft.Type, &ft.Amount, &ft.Currency, &ft.RefID, &ft.CreatedAt)
		return &ft, err
	}, `SELECT id, position_id, user_id, type, amount, currency, ref_id, created_at
	    FROM futures_transactions WHERE position_id = $1 ORDER BY id`, positionID)
}

func (s *PostgresStore) GetRound(ctx context.Context, id uuid.UUID) (*model.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM trading_rounds WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "round %s", id)
	}
	return r, nil
}

func (s *PostgresStore) GetActiveRound(ctx context.Context) (*model.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM trading_rounds WHERE is_active`))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "active round")
	}
	return r, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	return collect(ctx, s.pool, scanRound, `SELECT `+roundColumns+` FROM trading_rounds ORDER BY starts_at`)
}

func (s *PostgresStore) GetSeed(ctx context.Context, id uuid.UUID) (*model.FairnessSeed, error) {
	seed, err := scanSeed(s.pool.QueryRow(ctx, `SELECT `+seedColumns+` FROM fairness_seeds WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, model.ErrSeedNotFound, "seed %s", id)
	}
	return seed, nil
}

func (s *PostgresStore) GetActiveSeed(ctx context.Context, userID uuid.UUID) (*model.FairnessSeed, error) {
	seed, err := scanSeed(s.pool.QueryRow(ctx,
		`SELECT `+seedColumns+` FROM fairness_seeds WHERE user_id = $1 AND active`, userID))
	if err != nil {
		return nil, notFound(err, model.ErrSeedNotFound, "active seed for %s", userID)
	}
	return seed, nil
}

func (s *PostgresStore) GetBet(ctx context.Context, id uuid.UUID) (*model.Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, model.ErrNotFound, "bet %s", id)
	}
	return b, nil
}

func collect[T any](ctx context.Context, q querier, scan func(scanner) (*T, error), sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
