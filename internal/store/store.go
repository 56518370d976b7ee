package store

import (
	"CasinoLedger/internal/model"
	"context"

	"github.com/google/uuid"
)

// Store is the persistence boundary. Mutations happen inside Atomically:
// every row obtained through a Tx Lock* method stays locked until the
// transaction ends, so all work on one account, position, bet, seed or
// round is strictly serialized while unrelated rows proceed in parallel.
//
// Lock order inside one transaction: bet, seed, position, account.
// Round rotation takes the active-round lock before any single round.
type Store interface {
	Reader

	// Atomically runs fn in a transaction. If fn returns an error nothing
	// it wrote is visible to anyone.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Reader exposes committed state. Every call observes a consistent
// snapshot of the rows it returns.
type Reader interface {
	GetAccount(ctx context.Context, key model.AccountKey) (*model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	ListEntries(ctx context.Context, accountID int64) ([]model.LedgerEntry, error)
	EntryExists(ctx context.Context, accountID int64, typ model.EntryType, refID string) (bool, error)

	GetPosition(ctx context.Context, id uuid.UUID) (*model.Position, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]model.Position, error)
	ListFuturesTransactions(ctx context.Context, positionID uuid.UUID) ([]model.FuturesTransaction, error)

	GetRound(ctx context.Context, id uuid.UUID) (*model.Round, error)
	GetActiveRound(ctx context.Context) (*model.Round, error)
	ListRounds(ctx context.Context) ([]model.Round, error)

	GetSeed(ctx context.Context, id uuid.UUID) (*model.FairnessSeed, error)
	GetActiveSeed(ctx context.Context, userID uuid.UUID) (*model.FairnessSeed, error)
	GetBet(ctx context.Context, id uuid.UUID) (*model.Bet, error)
}

// Tx is a unit of work. Lock* methods return copies; changes are written
// back with the matching Update* call.
type Tx interface {
	// LockAccount returns the account for key, creating it with zero
	// balances on first reference.
	LockAccount(ctx context.Context, key model.AccountKey) (*model.Account, error)
	UpdateAccount(ctx context.Context, a *model.Account) error
	// FindEntry returns nil, nil when no entry matches.
	FindEntry(ctx context.Context, accountID int64, typ model.EntryType, refID string) (*model.LedgerEntry, error)
	// InsertEntry assigns e.ID.
	InsertEntry(ctx context.Context, e *model.LedgerEntry) error

	InsertPosition(ctx context.Context, p *model.Position) error
	LockPosition(ctx context.Context, id uuid.UUID) (*model.Position, error)
	UpdatePosition(ctx context.Context, p *model.Position) error
	InsertFuturesTransaction(ctx context.Context, ft *model.FuturesTransaction) error

	// LockActiveRound serializes rotations. Returns nil, nil when no round
	// is active.
	LockActiveRound(ctx context.Context) (*model.Round, error)
	LockRound(ctx context.Context, id uuid.UUID) (*model.Round, error)
	InsertRound(ctx context.Context, r *model.Round) error
	UpdateRound(ctx context.Context, r *model.Round) error

	// LockActiveSeed returns nil, nil when the user has no active seed.
	// All seed locks of one user serialize on the same key.
	LockActiveSeed(ctx context.Context, userID uuid.UUID) (*model.FairnessSeed, error)
	LockSeedByHash(ctx context.Context, userID uuid.UUID, hash string) (*model.FairnessSeed, error)
	InsertSeed(ctx context.Context, s *model.FairnessSeed) error
	UpdateSeed(ctx context.Context, s *model.FairnessSeed) error

	InsertBet(ctx context.Context, b *model.Bet) error
	LockBet(ctx context.Context, id uuid.UUID) (*model.Bet, error)
	UpdateBet(ctx context.Context, b *model.Bet) error
}

// PositionFilter narrows ListPositions. Zero values match everything.
type PositionFilter struct {
	UserID uuid.UUID
	Status model.PositionStatus
}

func (f PositionFilter) Match(p *model.Position) bool {
	if f.UserID != uuid.Nil && p.UserID != f.UserID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}
