package fairness

import (
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"encoding/json"
	"fmt"
	"slices"
)

// Multipliers use fpmath.MultiplierConfig (1e4 = 1.00x). Every game except
// roulette pays 99% of the fair odds.
const (
	houseEdgePPM   int64 = 10_000
	returnToPlayer       = fpmath.PPM - houseEdgePPM

	multiplierScale = 10_000
)

// Game names accepted by ParseGame.
const (
	GameDice     = "dice"
	GameLimbo    = "limbo"
	GameCoinFlip = "coinflip"
	GameRoulette = "roulette"
	GameMines    = "mines"
)

// Game is the closed set of supported games. Each variant carries its own
// parameters and produces its own result payload; play is unexported so no
// type outside this package can join the set.
type Game interface {
	Name() string
	Validate() error
	// MaxMultiplier is the largest multiplier play can return. Bet
	// placement uses it as the potential payout.
	MaxMultiplier() int64
	play(s *Stream) (win bool, multiplier int64, result any)
}

// Outcome is the deterministic result of one bet.
type Outcome struct {
	Game       string          `json:"game"`
	Win        bool            `json:"win"`
	Multiplier int64           `json:"multiplier"` // 1e4 scale, 0 on loss
	Result     json.RawMessage `json:"result"`
	Trace      string          `json:"trace"`
}

// Evaluate runs g against the draw stream of (serverSeed, clientSeed,
// nonce). Identical inputs always produce identical outcomes.
func Evaluate(g Game, serverSeed, clientSeed string, nonce int64) (Outcome, error) {
	if err := g.Validate(); err != nil {
		return Outcome{}, err
	}
	s := NewStream(serverSeed, clientSeed, nonce)
	win, mult, result := g.play(s)
	raw, err := json.Marshal(result)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode %s result: %w", g.Name(), err)
	}
	if !win {
		mult = 0
	}
	return Outcome{Game: g.Name(), Win: win, Multiplier: mult, Result: raw, Trace: s.Trace()}, nil
}

// ParseGame decodes the parameters of a named game.
func ParseGame(name string, params json.RawMessage) (Game, error) {
	var g Game
	switch name {
	case GameDice:
		g = &Dice{}
	case GameLimbo:
		g = &Limbo{}
	case GameCoinFlip:
		g = &CoinFlip{}
	case GameRoulette:
		g = &Roulette{}
	case GameMines:
		g = &Mines{}
	default:
		return nil, fmt.Errorf("game %q: %w", name, model.ErrInvalidGame)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, g); err != nil {
			return nil, fmt.Errorf("%s params: %v: %w", name, err, model.ErrInvalidGame)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func invalid(game, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", game, fmt.Sprintf(format, args...), model.ErrInvalidGame)
}

// ============================================================================
// Dice
// ============================================================================

// Dice rolls 0.00-99.99. Target is the win chance in hundredths of a
// percent: roll under Target, or with Over set, roll at or above
// 100.00 - Target.
type Dice struct {
	Target int64 `json:"target"`
	Over   bool  `json:"over"`
}

type DiceResult struct {
	Roll int64 `json:"roll"` // hundredths
}

func (d *Dice) Name() string { return GameDice }

func (d *Dice) Validate() error {
	if d.Target < 1 || d.Target > 9_800 {
		return invalid(GameDice, "target %d outside 1..9800", d.Target)
	}
	return nil
}

func (d *Dice) MaxMultiplier() int64 {
	// 0.99 / (target / 10000)
	return fpmath.MulDiv(returnToPlayer, multiplierScale*10_000, fpmath.PPM*d.Target, fpmath.RoundDown)
}

func (d *Dice) play(s *Stream) (bool, int64, any) {
	roll := s.Intn(10_000)
	win := roll < d.Target
	if d.Over {
		win = roll >= 10_000-d.Target
	}
	return win, d.MaxMultiplier(), DiceResult{Roll: roll}
}

// ============================================================================
// Limbo
// ============================================================================

// Limbo draws a crash multiplier 0.99 / (1 - rng) and wins when it reaches
// Target (1e4 scale).
type Limbo struct {
	Target int64 `json:"target"`
}

type LimboResult struct {
	Multiplier int64 `json:"multiplier"`
}

const limboMaxTarget int64 = 1_000_000 * multiplierScale

func (l *Limbo) Name() string { return GameLimbo }

func (l *Limbo) Validate() error {
	if l.Target < 10_100 || l.Target > limboMaxTarget {
		return invalid(GameLimbo, "target %d outside 1.01x..1000000x", l.Target)
	}
	return nil
}

func (l *Limbo) MaxMultiplier() int64 { return l.Target }

func (l *Limbo) play(s *Stream) (bool, int64, any) {
	u := uint64(s.Next())
	// 0.99 * 1e4 * 2^32 / (2^32 - u), floored at 1.00x
	crash := int64((uint64(returnToPlayer/100) * twoPow32) / (twoPow32 - u))
	if crash < multiplierScale {
		crash = multiplierScale
	}
	if crash > limboMaxTarget {
		crash = limboMaxTarget
	}
	return crash >= l.Target, l.Target, LimboResult{Multiplier: crash}
}

// ============================================================================
// CoinFlip
// ============================================================================

type CoinFlip struct {
	Side string `json:"side"` // heads | tails
}

type CoinFlipResult struct {
	Side string `json:"side"`
}

func (c *CoinFlip) Name() string { return GameCoinFlip }

func (c *CoinFlip) Validate() error {
	if c.Side != "heads" && c.Side != "tails" {
		return invalid(GameCoinFlip, "side %q", c.Side)
	}
	return nil
}

func (c *CoinFlip) MaxMultiplier() int64 {
	return fpmath.MulDiv(returnToPlayer, 2*multiplierScale, fpmath.PPM, fpmath.RoundDown)
}

func (c *CoinFlip) play(s *Stream) (bool, int64, any) {
	side := "tails"
	if s.Next() < 1<<31 {
		side = "heads"
	}
	return side == c.Side, c.MaxMultiplier(), CoinFlipResult{Side: side}
}

// ============================================================================
// Roulette
// ============================================================================

// Roulette is a single-zero wheel with the standard payout table, so its
// edge is the wheel's own 1/37.
type Roulette struct {
	Bet    string `json:"bet"`    // straight | red | black | even | odd | low | high
	Number int64  `json:"number"` // straight only
}

type RouletteResult struct {
	Pocket int64  `json:"pocket"`
	Color  string `json:"color"`
}

var redPockets = []int64{1, 3, 5, 7, 9, 12, 14, 16, 18, 19, 21, 23, 25, 27, 30, 32, 34, 36}

func pocketColor(n int64) string {
	switch {
	case n == 0:
		return "green"
	case slices.Contains(redPockets, n):
		return "red"
	default:
		return "black"
	}
}

func (r *Roulette) Name() string { return GameRoulette }

func (r *Roulette) Validate() error {
	switch r.Bet {
	case "straight":
		if r.Number < 0 || r.Number > 36 {
			return invalid(GameRoulette, "number %d outside 0..36", r.Number)
		}
	case "red", "black", "even", "odd", "low", "high":
	default:
		return invalid(GameRoulette, "bet %q", r.Bet)
	}
	return nil
}

func (r *Roulette) MaxMultiplier() int64 {
	if r.Bet == "straight" {
		return 36 * multiplierScale
	}
	return 2 * multiplierScale
}

func (r *Roulette) play(s *Stream) (bool, int64, any) {
	pocket := s.Intn(37)
	color := pocketColor(pocket)

	var win bool
	switch r.Bet {
	case "straight":
		win = pocket == r.Number
	case "red", "black":
		win = color == r.Bet
	case "even":
		win = pocket != 0 && pocket%2 == 0
	case "odd":
		win = pocket%2 == 1
	case "low":
		win = pocket >= 1 && pocket <= 18
	case "high":
		win = pocket >= 19
	}
	return win, r.MaxMultiplier(), RouletteResult{Pocket: pocket, Color: color}
}

// ============================================================================
// Mines
// ============================================================================

const minesTiles = 25

// Mines hides Mines bombs on a 5x5 board and reveals every pick at once.
// The layout is shuffled from the draw stream, never supplied by the client.
type Mines struct {
	Mines int64   `json:"mines"`
	Picks []int64 `json:"picks"`
}

type MinesResult struct {
	MinePositions []int64 `json:"minePositions"`
	Hit           []int64 `json:"hit,omitempty"`
}

func (m *Mines) Name() string { return GameMines }

func (m *Mines) Validate() error {
	if m.Mines < 1 || m.Mines >= minesTiles {
		return invalid(GameMines, "mines %d outside 1..24", m.Mines)
	}
	if len(m.Picks) == 0 || int64(len(m.Picks)) > minesTiles-m.Mines {
		return invalid(GameMines, "%d picks with %d mines", len(m.Picks), m.Mines)
	}
	seen := make(map[int64]bool, len(m.Picks))
	for _, p := range m.Picks {
		if p < 0 || p >= minesTiles || seen[p] {
			return invalid(GameMines, "pick %d", p)
		}
		seen[p] = true
	}
	return nil
}

// MaxMultiplier is 0.99 * C(25, picks) / C(25 - mines, picks).
func (m *Mines) MaxMultiplier() int64 {
	k := int64(len(m.Picks))
	return fpmath.MulDiv(returnToPlayer/100*binomial(minesTiles, k), 1, binomial(minesTiles-m.Mines, k), fpmath.RoundDown)
}

func (m *Mines) play(s *Stream) (bool, int64, any) {
	board := make([]int64, minesTiles)
	for i := range board {
		board[i] = int64(i)
	}
	for i := int64(minesTiles - 1); i > 0; i-- {
		j := s.Intn(i + 1)
		board[i], board[j] = board[j], board[i]
	}
	mines := slices.Clone(board[:m.Mines])
	slices.Sort(mines)

	var hit []int64
	for _, p := range m.Picks {
		if _, found := slices.BinarySearch(mines, p); found {
			hit = append(hit, p)
		}
	}
	return len(hit) == 0, m.MaxMultiplier(), MinesResult{MinePositions: mines, Hit: hit}
}

func binomial(n, k int64) int64 {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := int64(1)
	for i := int64(1); i <= k; i++ {
		result = result * (n - k + i) / i
	}
	return result
}
