package trading

import (
	"CasinoLedger/internal/model"
	"fmt"
	"sort"
)

// DefaultSymbols is the static list of tradable pairs.
func DefaultSymbols() []model.Symbol {
	return []model.Symbol{
		{ID: "BTC-USDT", Base: "BTC", Quote: "USDT", MaxLeverage: 100, IsMajor: true, IsEnabled: true},
		{ID: "ETH-USDT", Base: "ETH", Quote: "USDT", MaxLeverage: 100, IsMajor: true, IsEnabled: true},
		{ID: "SOL-USDT", Base: "SOL", Quote: "USDT", MaxLeverage: 50, IsEnabled: true},
		{ID: "LTC-USDT", Base: "LTC", Quote: "USDT", MaxLeverage: 50, IsEnabled: true},
		{ID: "DOGE-USDT", Base: "DOGE", Quote: "USDT", MaxLeverage: 50, IsEnabled: true},
		{ID: "TRX-USDT", Base: "TRX", Quote: "USDT", MaxLeverage: 50, IsEnabled: true},
	}
}

// Registry is read-only after construction.
type Registry struct {
	symbols map[string]model.Symbol
	ids     []string
}

func NewRegistry(symbols []model.Symbol) *Registry {
	r := &Registry{symbols: make(map[string]model.Symbol, len(symbols))}
	for _, s := range symbols {
		r.symbols[s.ID] = s
		r.ids = append(r.ids, s.ID)
	}
	sort.Strings(r.ids)
	return r
}

func (r *Registry) Get(id string) (model.Symbol, bool) {
	s, ok := r.symbols[id]
	return s, ok
}

// List returns all symbols, enabled or not, ordered by id.
func (r *Registry) List() []model.Symbol {
	out := make([]model.Symbol, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.symbols[id])
	}
	return out
}

// Validate returns the symbol if it is enabled and accepts leverage.
func (r *Registry) Validate(id string, leverage int64) (model.Symbol, error) {
	s, ok := r.symbols[id]
	if !ok || !s.IsEnabled {
		return model.Symbol{}, fmt.Errorf("symbol %q: %w", id, model.ErrInvalidSymbolOrLeverage)
	}
	if leverage < 1 || leverage > s.MaxLeverage {
		return model.Symbol{}, fmt.Errorf("leverage %d outside 1..%d for %s: %w",
			leverage, s.MaxLeverage, id, model.ErrInvalidSymbolOrLeverage)
	}
	return s, nil
}
