package model

import (
	"time"

	"github.com/google/uuid"
)

// Symbol is static reference data for a tradable pair.
type Symbol struct {
	ID          string // BASE-QUOTE
	Base        string
	Quote       Currency
	MaxLeverage int64
	IsMajor     bool
	IsEnabled   bool
}

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for long, -1 for short
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosed     PositionStatus = "CLOSED"
	PositionLiquidated PositionStatus = "LIQUIDATED"
)

// CanTransitionTo validates status transitions. CLOSED and LIQUIDATED are
// terminal; OPEN -> OPEN is a partial close or fee accrual.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	if s != PositionOpen {
		return false
	}
	switch next {
	case PositionOpen, PositionClosed, PositionLiquidated:
		return true
	default:
		return false
	}
}

// Position is a leveraged futures position.
type Position struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	SymbolID      string
	Network       Network
	Side          Side
	Qty           int64 // Fixed-point: quantity scale
	EntryPrice    int64 // Fixed-point: price scale
	Collateral    int64 // quote smallest units, still locked
	Leverage      int64
	Status        PositionStatus
	RealizedPnl   int64 // quote smallest units (cumulative)
	FeesPaid      int64 // quote smallest units; scaled down on partial close
	OpenedAt      time.Time
	ClosedAt      *time.Time
	BorrowStartAt *time.Time
	Version       int64 // bumped on every update
}

// FuturesTransaction is the position-scoped audit row mirroring a ledger entry.
type FuturesTransaction struct {
	ID         int64
	PositionID uuid.UUID
	UserID     uuid.UUID
	Type       EntryType
	Amount     int64 // signed, from the user's point of view
	Currency   Currency
	RefID      string
	CreatedAt  time.Time
}

type RoundStatus string

const (
	RoundScheduled RoundStatus = "SCHEDULED"
	RoundActive    RoundStatus = "ACTIVE"
	RoundEnded     RoundStatus = "ENDED"
	RoundRevealed  RoundStatus = "REVEALED"
)

// Round is a daily commit-reveal period for committed marks.
type Round struct {
	ID             uuid.UUID
	ServerSeed     string // hex, secret until revealed
	ServerSeedHash string
	StartsAt       time.Time
	EndsAt         time.Time
	IntervalMs     int64
	IsActive       bool
	RevealedAt     *time.Time
}

// StatusAt derives the lifecycle state at t.
func (r *Round) StatusAt(t time.Time) RoundStatus {
	switch {
	case r.RevealedAt != nil:
		return RoundRevealed
	case t.Before(r.StartsAt):
		return RoundScheduled
	case r.IsActive && t.Before(r.EndsAt):
		return RoundActive
	default:
		return RoundEnded
	}
}

// Contains reports whether t falls in [StartsAt, EndsAt).
func (r *Round) Contains(t time.Time) bool {
	return !t.Before(r.StartsAt) && t.Before(r.EndsAt)
}
