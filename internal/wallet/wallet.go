package wallet

import (
	"CasinoLedger/internal/ledger"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/store"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Balance is a consistent snapshot of one account.
type Balance struct {
	Available int64
	Locked    int64
	Total     int64
}

// Movement is one idempotent money movement. (Key, Type, RefID) identifies
// it: replaying a movement whose entry already exists is a no-op.
type Movement struct {
	Key    model.AccountKey
	Amount int64
	Type   model.EntryType
	RefID  string
	Meta   map[string]string
}

func (m Movement) cacheKey() string {
	return fmt.Sprintf("%s:%s:%s", m.Key, m.Type, m.RefID)
}

func (m Movement) validate() error {
	if m.Amount <= 0 {
		return fmt.Errorf("%s/%s: amount %d: %w", m.Type, m.RefID, m.Amount, model.ErrInvalidAmount)
	}
	if _, err := m.Key.Currency.Decimals(); err != nil {
		return err
	}
	if _, err := model.ParseNetwork(string(m.Key.Network)); err != nil {
		return fmt.Errorf("%s/%s: %w", m.Type, m.RefID, err)
	}
	return nil
}

// Manager is the per-account balance service. Each exported mutation runs
// in its own transaction; the ...Tx forms join a caller's transaction so
// several movements commit or fail together.
type Manager struct {
	store   store.Store
	ledger  *ledger.Ledger
	refs    *ledger.RefCache
	metrics *observability.Metrics
	log     zerolog.Logger

	faucetMax int64 // per call, in smallest units of the currency
}

type Config struct {
	RefCacheCapacity int
	FaucetMax        int64
}

func NewManager(s store.Store, l *ledger.Ledger, cfg Config, metrics *observability.Metrics, log zerolog.Logger) *Manager {
	if cfg.RefCacheCapacity <= 0 {
		cfg.RefCacheCapacity = 100_000
	}
	return &Manager{
		store:     s,
		ledger:    l,
		refs:      ledger.NewRefCache(cfg.RefCacheCapacity),
		metrics:   metrics,
		log:       log,
		faucetMax: cfg.FaucetMax,
	}
}

// GetBalance returns zeros for an account that was never referenced.
func (m *Manager) GetBalance(ctx context.Context, key model.AccountKey) (Balance, error) {
	if _, err := key.Currency.Decimals(); err != nil {
		return Balance{}, err
	}
	acct, err := m.store.GetAccount(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return Balance{}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return Balance{Available: acct.Available, Locked: acct.Locked, Total: acct.Total()}, nil
}

// AccountTx locks and returns the account row inside tx.
func (m *Manager) AccountTx(ctx context.Context, tx store.Tx, key model.AccountKey) (*model.Account, error) {
	if _, err := key.Currency.Decimals(); err != nil {
		return nil, err
	}
	return tx.LockAccount(ctx, key)
}

// --- Transactional forms ---
//
// Each returns applied=false when the movement was already recorded.

// LockTx moves amount from available to locked.
func (m *Manager) LockTx(ctx context.Context, tx store.Tx, mv Movement) (bool, error) {
	return m.apply(ctx, tx, mv,
		ledger.Posting{Amount: -mv.Amount, Bucket: model.BucketAvailable},
		ledger.Posting{Amount: mv.Amount, Bucket: model.BucketLocked},
	)
}

// ReleaseTx moves amount from locked back to available.
func (m *Manager) ReleaseTx(ctx context.Context, tx store.Tx, mv Movement) (bool, error) {
	return m.apply(ctx, tx, mv,
		ledger.Posting{Amount: -mv.Amount, Bucket: model.BucketLocked},
		ledger.Posting{Amount: mv.Amount, Bucket: model.BucketAvailable},
	)
}

// ConsumeTx removes locked funds, settling them to the house.
func (m *Manager) ConsumeTx(ctx context.Context, tx store.Tx, mv Movement) (bool, error) {
	return m.apply(ctx, tx, mv, ledger.Posting{Amount: -mv.Amount, Bucket: model.BucketLocked})
}

// CreditTx adds to available and leaves locked untouched.
func (m *Manager) CreditTx(ctx context.Context, tx store.Tx, mv Movement) (bool, error) {
	return m.apply(ctx, tx, mv, ledger.Posting{Amount: mv.Amount, Bucket: model.BucketAvailable})
}

// DebitTx charges available directly.
func (m *Manager) DebitTx(ctx context.Context, tx store.Tx, mv Movement) (bool, error) {
	return m.apply(ctx, tx, mv, ledger.Posting{Amount: -mv.Amount, Bucket: model.BucketAvailable})
}

func (m *Manager) apply(ctx context.Context, tx store.Tx, mv Movement, postings ...ledger.Posting) (bool, error) {
	if err := mv.validate(); err != nil {
		return false, err
	}

	acct, err := tx.LockAccount(ctx, mv.Key)
	if err != nil {
		return false, fmt.Errorf("lock account %s: %w", mv.Key, err)
	}

	existing, err := tx.FindEntry(ctx, acct.ID, mv.Type, mv.RefID)
	if err != nil {
		return false, fmt.Errorf("find entry %s/%s: %w", mv.Type, mv.RefID, err)
	}
	if existing != nil {
		m.duplicate("store")
		return false, nil
	}

	for _, p := range postings {
		p.Currency = mv.Key.Currency
		p.Type = mv.Type
		p.RefID = mv.RefID
		p.Meta = mv.Meta
		if _, err := m.ledger.Append(ctx, tx, acct, p); err != nil {
			return false, err
		}
	}
	return true, nil
}

// --- Standalone forms ---

// Lock validates available >= amount and locks it, idempotently per refId.
func (m *Manager) Lock(ctx context.Context, mv Movement) error {
	return m.run(ctx, mv, m.LockTx)
}

func (m *Manager) Release(ctx context.Context, mv Movement) error {
	return m.run(ctx, mv, m.ReleaseTx)
}

func (m *Manager) CreditWinnings(ctx context.Context, mv Movement) error {
	return m.run(ctx, mv, m.CreditTx)
}

func (m *Manager) Consume(ctx context.Context, mv Movement) error {
	return m.run(ctx, mv, m.ConsumeTx)
}

func (m *Manager) Debit(ctx context.Context, mv Movement) error {
	return m.run(ctx, mv, m.DebitTx)
}

// Deposit credits a confirmed external deposit; refID is the chain tx id.
func (m *Manager) Deposit(ctx context.Context, key model.AccountKey, amount int64, refID string) error {
	return m.CreditWinnings(ctx, Movement{Key: key, Amount: amount, Type: model.EntryDeposit, RefID: refID})
}

// Withdraw debits a withdrawal request; refID is the request id.
func (m *Manager) Withdraw(ctx context.Context, key model.AccountKey, amount int64, refID string) error {
	return m.Debit(ctx, Movement{Key: key, Amount: amount, Type: model.EntryWithdrawal, RefID: refID})
}

// Faucet credits play money on testnet, at most faucetMax per call.
func (m *Manager) Faucet(ctx context.Context, key model.AccountKey, amount int64) (string, error) {
	if key.Network != model.Testnet {
		return "", model.ErrFaucetMainnet
	}
	if m.faucetMax > 0 && amount > m.faucetMax {
		return "", fmt.Errorf("faucet amount %d above limit %d: %w", amount, m.faucetMax, model.ErrInvalidAmount)
	}
	refID := "faucet-" + uuid.NewString()
	err := m.CreditWinnings(ctx, Movement{Key: key, Amount: amount, Type: model.EntryFaucet, RefID: refID})
	if err != nil {
		return "", err
	}
	return refID, nil
}

type txFunc func(ctx context.Context, tx store.Tx, mv Movement) (bool, error)

func (m *Manager) run(ctx context.Context, mv Movement, fn txFunc) error {
	key := mv.cacheKey()
	if m.refs.Contains(key) {
		m.duplicate("cache")
		return nil
	}

	var applied bool
	err := m.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		applied, err = fn(ctx, tx, mv)
		return err
	})
	if err != nil {
		return err
	}

	m.refs.Add(key)
	if m.metrics != nil {
		m.metrics.RefCacheSize.Set(float64(m.refs.Size()))
	}
	if applied {
		m.log.Debug().
			Str("account", mv.Key.String()).
			Str("type", string(mv.Type)).
			Str("ref_id", mv.RefID).
			Int64("amount", mv.Amount).
			Msg("movement applied")
	}
	return nil
}

func (m *Manager) duplicate(tier string) {
	if m.metrics != nil {
		m.metrics.LedgerDuplicates.WithLabelValues(tier).Inc()
	}
}
