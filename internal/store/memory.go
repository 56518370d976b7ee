package store

import (
	"CasinoLedger/internal/model"
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Row locks are keyed mutexes held for
// the lifetime of a transaction; writes are staged and applied on commit.
// Used by tests and by the service when CASINO_STORE=memory.
type MemoryStore struct {
	mu sync.RWMutex // guards everything below except locks

	accounts   map[model.AccountKey]*model.Account
	accountIDs map[int64]model.AccountKey
	entries    []model.LedgerEntry
	byAccount  map[int64][]int // account id -> indexes into entries
	refs       map[entryRef]int

	positions  map[uuid.UUID]*model.Position
	futuresTxs map[uuid.UUID][]model.FuturesTransaction
	rounds     map[uuid.UUID]*model.Round
	seeds      map[uuid.UUID]*model.FairnessSeed
	bets       map[uuid.UUID]*model.Bet

	nextAccountID   int64
	nextEntryID     int64
	nextFuturesTxID int64

	locks *rowLocks
	now   func() time.Time
}

type entryRef struct {
	accountID int64
	typ       model.EntryType
	refID     string
	bucket    model.Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[model.AccountKey]*model.Account),
		accountIDs: make(map[int64]model.AccountKey),
		byAccount:  make(map[int64][]int),
		refs:       make(map[entryRef]int),
		positions:  make(map[uuid.UUID]*model.Position),
		futuresTxs: make(map[uuid.UUID][]model.FuturesTransaction),
		rounds:     make(map[uuid.UUID]*model.Round),
		seeds:      make(map[uuid.UUID]*model.FairnessSeed),
		bets:       make(map[uuid.UUID]*model.Bet),
		locks:      &rowLocks{rows: make(map[string]*sync.Mutex)},
		now:        time.Now,
	}
}

// --- Transactions ---

func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newMemTx(s)
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s    *MemoryStore
	held []*sync.Mutex
	keys map[string]bool

	accounts   map[model.AccountKey]*model.Account
	entries    []model.LedgerEntry
	positions  map[uuid.UUID]*model.Position
	futuresTxs []model.FuturesTransaction
	rounds     map[uuid.UUID]*model.Round
	seeds      map[uuid.UUID]*model.FairnessSeed
	bets       map[uuid.UUID]*model.Bet
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:         s,
		keys:      make(map[string]bool),
		accounts:  make(map[model.AccountKey]*model.Account),
		positions: make(map[uuid.UUID]*model.Position),
		rounds:    make(map[uuid.UUID]*model.Round),
		seeds:     make(map[uuid.UUID]*model.FairnessSeed),
		bets:      make(map[uuid.UUID]*model.Bet),
	}
}

func (tx *memTx) lock(key string) {
	if tx.keys[key] {
		return
	}
	m := tx.s.locks.get(key)
	m.Lock()
	tx.keys[key] = true
	tx.held = append(tx.held, m)
}

func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	tx.held = nil
}

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, a := range tx.accounts {
		s.accounts[key] = a
		s.accountIDs[a.ID] = key
	}
	for _, e := range tx.entries {
		s.entries = append(s.entries, e)
		idx := len(s.entries) - 1
		s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], idx)
		s.refs[entryRef{e.AccountID, e.Type, e.RefID, e.Bucket}] = idx
	}
	for id, p := range tx.positions {
		s.positions[id] = p
	}
	for _, ft := range tx.futuresTxs {
		s.futuresTxs[ft.PositionID] = append(s.futuresTxs[ft.PositionID], ft)
	}
	for id, r := range tx.rounds {
		s.rounds[id] = r
	}
	for id, seed := range tx.seeds {
		s.seeds[id] = seed
	}
	for id, b := range tx.bets {
		s.bets[id] = b
	}
}

// --- Accounts & entries ---

func (tx *memTx) LockAccount(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	tx.lock("account:" + key.String())

	if a, ok := tx.accounts[key]; ok {
		return cloneAccount(a), nil
	}

	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[key]; ok {
		return cloneAccount(a), nil
	}

	s.nextAccountID++
	now := s.now()
	a := &model.Account{
		ID:        s.nextAccountID,
		UserID:    key.UserID,
		Currency:  key.Currency,
		Network:   key.Network,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx.accounts[key] = a
	return cloneAccount(a), nil
}

func (tx *memTx) UpdateAccount(ctx context.Context, a *model.Account) error {
	key := a.Key()
	if !tx.keys["account:"+key.String()] {
		return fmt.Errorf("update account %d: row not locked", a.ID)
	}
	tx.accounts[key] = cloneAccount(a)
	return nil
}

func (tx *memTx) FindEntry(ctx context.Context, accountID int64, typ model.EntryType, refID string) (*model.LedgerEntry, error) {
	for i := range tx.entries {
		e := tx.entries[i]
		if e.AccountID == accountID && e.Type == typ && e.RefID == refID {
			return &e, nil
		}
	}

	s := tx.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bucket := range []model.Bucket{model.BucketAvailable, model.BucketLocked} {
		if idx, ok := s.refs[entryRef{accountID, typ, refID, bucket}]; ok {
			e := s.entries[idx]
			return &e, nil
		}
	}
	return nil, nil
}

func (tx *memTx) InsertEntry(ctx context.Context, e *model.LedgerEntry) error {
	for _, staged := range tx.entries {
		if staged.AccountID == e.AccountID && staged.Type == e.Type &&
			staged.RefID == e.RefID && staged.Bucket == e.Bucket {
			return fmt.Errorf("insert entry %s/%s: duplicate reference", e.Type, e.RefID)
		}
	}

	s := tx.s
	s.mu.Lock()
	if _, dup := s.refs[entryRef{e.AccountID, e.Type, e.RefID, e.Bucket}]; dup {
		s.mu.Unlock()
		return fmt.Errorf("insert entry %s/%s: duplicate reference", e.Type, e.RefID)
	}
	s.nextEntryID++
	e.ID = s.nextEntryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.mu.Unlock()

	staged := *e
	staged.Meta = maps.Clone(e.Meta)
	tx.entries = append(tx.entries, staged)
	return nil
}

// --- Positions ---

func (tx *memTx) InsertPosition(ctx context.Context, p *model.Position) error {
	tx.lock("position:" + p.ID.String())

	s := tx.s
	s.mu.RLock()
	_, exists := s.positions[p.ID]
	s.mu.RUnlock()
	if _, staged := tx.positions[p.ID]; exists || staged {
		return fmt.Errorf("insert position %s: already exists", p.ID)
	}

	tx.positions[p.ID] = clonePosition(p)
	return nil
}

func (tx *memTx) LockPosition(ctx context.Context, id uuid.UUID) (*model.Position, error) {
	tx.lock("position:" + id.String())

	if p, ok := tx.positions[id]; ok {
		return clonePosition(p), nil
	}

	s := tx.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return clonePosition(p), nil
}

func (tx *memTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	if !tx.keys["position:"+p.ID.String()] {
		return fmt.Errorf("update position %s: row not locked", p.ID)
	}
	tx.positions[p.ID] = clonePosition(p)
	return nil
}

func (tx *memTx) InsertFuturesTransaction(ctx context.Context, ft *model.FuturesTransaction) error {
	s := tx.s
	s.mu.Lock()
	s.nextFuturesTxID++
	ft.ID = s.nextFuturesTxID
	if ft.CreatedAt.IsZero() {
		ft.CreatedAt = s.now()
	}
	s.mu.Unlock()

	tx.futuresTxs = append(tx.futuresTxs, *ft)
	return nil
}

// --- Rounds ---

func (tx *memTx) LockActiveRound(ctx context.Context) (*model.Round, error) {
	tx.lock("round:active")

	r := tx.activeRound()
	if r == nil {
		return nil, nil
	}
	// The row lock is taken after s.mu is released; holding "round:active"
	// keeps the active round from changing in between.
	tx.lock("round:" + r.ID.String())
	return r, nil
}

func (tx *memTx) activeRound() *model.Round {
	for _, r := range tx.rounds {
		if r.IsActive {
			return cloneRound(r)
		}
	}

	s := tx.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, r := range s.rounds {
		if _, staged := tx.rounds[id]; staged {
			continue
		}
		if r.IsActive {
			return cloneRound(r)
		}
	}
	return nil
}

func (tx *memTx) LockRound(ctx context.Context, id uuid.UUID) (*model.Round, error) {
	tx.lock("round:" + id.String())

	if r, ok := tx.rounds[id]; ok {
		return cloneRound(r), nil
	}

	s := tx.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", id, model.ErrNotFound)
	}
	return cloneRound(r), nil
}

func (tx *memTx) InsertRound(ctx context.Context, r *model.Round) error {
	tx.lock("round:" + r.ID.String())
	tx.rounds[r.ID] = cloneRound(r)
	return nil
}

func (tx *memTx) UpdateRound(ctx context.Context, r *model.Round) error {
	if !tx.keys["round:"+r.ID.String()] {
		return fmt.Errorf("update round %s: row not locked", r.ID)
	}
	tx.rounds[r.ID] = cloneRound(r)
	return nil
}

// --- Seeds ---

func (tx *memTx) LockActiveSeed(ctx context.Context, userID uuid.UUID) (*model.FairnessSeed, error) {
	tx.lock("seed:" + userID.String())

	seed := tx.findSeed(func(s *model.FairnessSeed) bool {
		return s.UserID == userID && s.Active
	})
	return seed, nil
}

func (tx *memTx) LockSeedByHash(ctx context.Context, userID uuid.UUID, hash string) (*model.FairnessSeed, error) {
	tx.lock("seed:" + userID.String())

	seed := tx.findSeed(func(s *model.FairnessSeed) bool {
		return s.UserID == userID && s.ServerSeedHash == hash
	})
	if seed == nil {
		return nil, fmt.Errorf("seed %s: %w", hash, model.ErrSeedNotFound)
	}
	return seed, nil
}

// findSeed searches staged seeds first; a staged copy shadows the committed row.
func (tx *memTx) findSeed(match func(*model.FairnessSeed) bool) *model.FairnessSeed {
	for _, seed := range tx.seeds {
		if match(seed) {
			return cloneSeed(seed)
		}
	}

	s := tx.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, seed := range s.seeds {
		if _, staged := tx.seeds[id]; staged {
			continue
		}
		if match(seed) {
			return cloneSeed(seed)
		}
	}
	return nil
}

func (tx *memTx) InsertSeed(ctx context.Context, seed *model.FairnessSeed) error {
	tx.lock("seed:" + seed.UserID.String())
	tx.seeds[seed.ID] = cloneSeed(seed)
	return nil
}

func (tx *memTx) UpdateSeed(ctx context.Context, seed *model.FairnessSeed) error {
	if !tx.keys["seed:"+seed.UserID.String()] {
		return fmt.Errorf("update seed %s: row not locked", seed.ID)
	}
	tx.seeds[seed.ID] = cloneSeed(seed)
	return nil
}

// --- Bets ---

func (tx *memTx) InsertBet(ctx context.Context, b *model.Bet) error {
	tx.lock("bet:" + b.ID.String())
	tx.bets[b.ID] = cloneBet(b)
	return nil
}

func (tx *memTx) LockBet(ctx context.Context, id uuid.UUID) (*model.Bet, error) {
	tx.lock("bet:" + id.String())

	if b, ok := tx.bets[id]; ok {
		return cloneBet(b), nil
	}

	s := tx.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[id]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", id, model.ErrNotFound)
	}
	return cloneBet(b), nil
}

func (tx *memTx) UpdateBet(ctx context.Context, b *model.Bet) error {
	if !tx.keys["bet:"+b.ID.String()] {
		return fmt.Errorf("update bet %s: row not locked", b.ID)
	}
	tx.bets[b.ID] = cloneBet(b)
	return nil
}

// --- Reads ---

func (s *MemoryStore) GetAccount(ctx context.Context, key model.AccountKey) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[key]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", key, model.ErrNotFound)
	}
	return cloneAccount(a), nil
}

func (s *MemoryStore) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.accountIDs[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, model.ErrNotFound)
	}
	return cloneAccount(s.accounts[key]), nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byAccount[accountID]
	out := make([]model.LedgerEntry, 0, len(idxs))
	for _, idx := range idxs {
		e := s.entries[idx]
		e.Meta = maps.Clone(e.Meta)
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) EntryExists(ctx context.Context, accountID int64, typ model.EntryType, refID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bucket := range []model.Bucket{model.BucketAvailable, model.BucketLocked} {
		if _, ok := s.refs[entryRef{accountID, typ, refID, bucket}]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetPosition(ctx context.Context, id uuid.UUID) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return clonePosition(p), nil
}

func (s *MemoryStore) ListPositions(ctx context.Context, filter PositionFilter) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Position
	for _, p := range s.positions {
		if filter.Match(p) {
			out = append(out, *clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListFuturesTransactions(ctx context.Context, positionID uuid.UUID) ([]model.FuturesTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.FuturesTransaction(nil), s.futuresTxs[positionID]...), nil
}

func (s *MemoryStore) GetRound(ctx context.Context, id uuid.UUID) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", id, model.ErrNotFound)
	}
	return cloneRound(r), nil
}

func (s *MemoryStore) GetActiveRound(ctx context.Context) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rounds {
		if r.IsActive {
			return cloneRound(r), nil
		}
	}
	return nil, fmt.Errorf("active round: %w", model.ErrNotFound)
}

func (s *MemoryStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		out = append(out, *cloneRound(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *MemoryStore) GetSeed(ctx context.Context, id uuid.UUID) (*model.FairnessSeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seed, ok := s.seeds[id]
	if !ok {
		return nil, fmt.Errorf("seed %s: %w", id, model.ErrSeedNotFound)
	}
	return cloneSeed(seed), nil
}

func (s *MemoryStore) GetActiveSeed(ctx context.Context, userID uuid.UUID) (*model.FairnessSeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seed := range s.seeds {
		if seed.UserID == userID && seed.Active {
			return cloneSeed(seed), nil
		}
	}
	return nil, fmt.Errorf("active seed for %s: %w", userID, model.ErrSeedNotFound)
}

func (s *MemoryStore) GetBet(ctx context.Context, id uuid.UUID) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[id]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", id, model.ErrNotFound)
	}
	return cloneBet(b), nil
}

// --- Row locks ---

type rowLocks struct {
	mu   sync.Mutex
	rows map[string]*sync.Mutex
}

// get returns the mutex for key. Rows are never deleted, so entries are
// never evicted.
func (l *rowLocks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.rows[key]
	if !ok {
		m = &sync.Mutex{}
		l.rows[key] = m
	}
	return m
}

// --- Copies ---

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

func clonePosition(p *model.Position) *model.Position {
	c := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	if p.BorrowStartAt != nil {
		t := *p.BorrowStartAt
		c.BorrowStartAt = &t
	}
	return &c
}

func cloneRound(r *model.Round) *model.Round {
	c := *r
	if r.RevealedAt != nil {
		t := *r.RevealedAt
		c.RevealedAt = &t
	}
	return &c
}

func cloneSeed(s *model.FairnessSeed) *model.FairnessSeed {
	c := *s
	if s.RevealedAt != nil {
		t := *s.RevealedAt
		c.RevealedAt = &t
	}
	return &c
}

func cloneBet(b *model.Bet) *model.Bet {
	c := *b
	c.Params = append([]byte(nil), b.Params...)
	c.Outcome = append([]byte(nil), b.Outcome...)
	if b.ResultMultiplier != nil {
		m := *b.ResultMultiplier
		c.ResultMultiplier = &m
	}
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
