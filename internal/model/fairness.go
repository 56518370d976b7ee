package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FairnessSeed is one commit-reveal server seed of a user.
type FairnessSeed struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ServerSeed     string // secret until revealed
	ServerSeedHash string // hex SHA-256 of ServerSeed
	NextNonce      int64
	Active         bool
	CreatedAt      time.Time
	RevealedAt     *time.Time
}

type BetStatus string

const (
	BetPending   BetStatus = "PENDING"
	BetWon       BetStatus = "WON"
	BetLost      BetStatus = "LOST"
	BetCashedOut BetStatus = "CASHED_OUT"
	BetRefunded  BetStatus = "REFUNDED"
)

func (s BetStatus) IsTerminal() bool {
	return s != BetPending
}

// Bet is a casino wager. The stake is locked while PENDING.
type Bet struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Game             string
	Params           json.RawMessage
	Currency         Currency
	Network          Network
	Stake            int64
	PotentialPayout  int64
	Payout           int64
	SeedID           uuid.UUID
	ServerSeedHash   string
	ClientSeed       string
	Nonce            int64
	Outcome          json.RawMessage // nil until resolved
	ResultMultiplier *int64          // MultiplierConfig scale
	RNGTrace         string          // hex HMAC digests used for the outcome
	Status           BetStatus
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}
