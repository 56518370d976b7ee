package ledger

import (
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/rs/zerolog"
)

// Ledger is the append-only entry log. Account counters are a materialized
// fold over the entries and are only ever changed together with an append.
type Ledger struct {
	store   store.Store
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(s store.Store, metrics *observability.Metrics, log zerolog.Logger) *Ledger {
	return &Ledger{store: s, metrics: metrics, log: log}
}

// Posting is one signed movement against one bucket of an account.
type Posting struct {
	Amount   int64
	Currency model.Currency // optional, must match the account when set
	Bucket   model.Bucket
	Type     model.EntryType
	RefID    string
	Meta     map[string]string
}

// Append writes p against acct, which must have been obtained from
// tx.LockAccount. A posting that would take its bucket below zero fails
// with ErrInsufficientFunds and writes nothing. acct is updated in place.
func (l *Ledger) Append(ctx context.Context, tx store.Tx, acct *model.Account, p Posting) (int64, error) {
	if p.Amount == 0 {
		return 0, fmt.Errorf("append %s/%s: zero amount: %w", p.Type, p.RefID, model.ErrInvalidAmount)
	}
	if p.Currency != "" && p.Currency != acct.Currency {
		return 0, fmt.Errorf("append %s/%s: currency %s on %s account: %w",
			p.Type, p.RefID, p.Currency, acct.Currency, model.ErrInvalidAmount)
	}
	if p.RefID == "" {
		return 0, fmt.Errorf("append %s: empty reference id", p.Type)
	}

	next := *acct
	switch p.Bucket {
	case model.BucketAvailable:
		next.Available += p.Amount
	case model.BucketLocked:
		next.Locked += p.Amount
	default:
		return 0, fmt.Errorf("append %s/%s: unknown bucket %q", p.Type, p.RefID, p.Bucket)
	}

	if next.Available < 0 || next.Locked < 0 {
		l.reject("insufficient_funds")
		return 0, fmt.Errorf("append %s/%s to account %d (%s %s): %w",
			p.Type, p.RefID, acct.ID, p.Bucket, acct.Currency, model.ErrInsufficientFunds)
	}

	entry := &model.LedgerEntry{
		AccountID: acct.ID,
		Amount:    p.Amount,
		Currency:  acct.Currency,
		Type:      p.Type,
		Bucket:    p.Bucket,
		RefID:     p.RefID,
		Meta:      maps.Clone(p.Meta),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	next.Version++
	if err := tx.UpdateAccount(ctx, &next); err != nil {
		return 0, fmt.Errorf("update account %d: %w", acct.ID, err)
	}
	*acct = next

	if l.metrics != nil {
		l.metrics.LedgerEntries.WithLabelValues(string(p.Type)).Inc()
	}
	return entry.ID, nil
}

// Balance folds every entry of the account: available + locked.
func (l *Ledger) Balance(ctx context.Context, accountID int64) (int64, error) {
	entries, err := l.store.ListEntries(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("list entries %d: %w", accountID, err)
	}
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total, nil
}

// BalanceByCurrency folds the account's entries in one currency.
func (l *Ledger) BalanceByCurrency(ctx context.Context, accountID int64, currency model.Currency) (int64, error) {
	entries, err := l.store.ListEntries(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("list entries %d: %w", accountID, err)
	}
	var total int64
	for _, e := range entries {
		if e.Currency == currency {
			total += e.Amount
		}
	}
	return total, nil
}

// Fold is the per-bucket sum of an account's entries.
type Fold struct {
	Available int64
	Locked    int64
}

func (l *Ledger) fold(ctx context.Context, accountID int64) (Fold, error) {
	entries, err := l.store.ListEntries(ctx, accountID)
	if err != nil {
		return Fold{}, fmt.Errorf("list entries %d: %w", accountID, err)
	}
	var f Fold
	for _, e := range entries {
		switch e.Bucket {
		case model.BucketLocked:
			f.Locked += e.Amount
		default:
			f.Available += e.Amount
		}
	}
	return f, nil
}

// Verify compares the stored counters of one account with the entry fold.
// The account row is locked while folding so no append can interleave.
func (l *Ledger) Verify(ctx context.Context, accountID int64) error {
	acct, err := l.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	return l.verify(ctx, acct.Key())
}

func (l *Ledger) verify(ctx context.Context, key model.AccountKey) error {
	return l.store.Atomically(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, key)
		if err != nil {
			return err
		}
		f, err := l.fold(ctx, acct.ID)
		if err != nil {
			return err
		}
		if acct.Available < 0 || acct.Locked < 0 ||
			f.Available != acct.Available || f.Locked != acct.Locked {
			return fmt.Errorf("account %d (%s): counters available=%d locked=%d, fold available=%d locked=%d: %w",
				acct.ID, key, acct.Available, acct.Locked, f.Available, f.Locked,
				model.ErrLedgerInvariantViolation)
		}
		return nil
	})
}

// Violation describes one account that failed verification.
type Violation struct {
	AccountID int64
	Key       model.AccountKey
	Err       error
}

// Audit verifies every account. Violations are never corrected; the caller
// decides whether to halt. Read errors on single accounts are logged and
// skipped so one bad row does not hide the rest.
func (l *Ledger) Audit(ctx context.Context) ([]Violation, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var violations []Violation
	for i := range accounts {
		acct := &accounts[i]
		if err := ctx.Err(); err != nil {
			return violations, err
		}
		err := l.verify(ctx, acct.Key())
		if err == nil {
			continue
		}
		if !errors.Is(err, model.ErrLedgerInvariantViolation) {
			l.log.Warn().Err(err).Int64("account_id", acct.ID).Msg("audit skipped account")
			continue
		}
		violations = append(violations, Violation{AccountID: acct.ID, Key: acct.Key(), Err: err})
		l.log.Error().Err(err).Int64("account_id", acct.ID).Msg("ledger invariant violation")
		if l.metrics != nil {
			l.metrics.LedgerInvariantViolations.Inc()
		}
	}
	return violations, nil
}

func (l *Ledger) reject(reason string) {
	if l.metrics != nil {
		l.metrics.LedgerRejections.WithLabelValues(reason).Inc()
	}
}
