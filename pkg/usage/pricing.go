package usage

import (
	"math"
	"strings"
	"sync/atomic"

	"mercator-hq/relay/pkg/config"
)

// DefaultModel is the pricing entry used for unknown models.
const DefaultModel = "default"

// Pricing is a per-model price table in USD per one million tokens. It is
// safe for concurrent use and can be swapped on config reload.
type Pricing struct {
	table atomic.Pointer[map[string]config.ModelPricing]
}

// NewPricing creates a price table. A nil table uses the built-in prices.
func NewPricing(table map[string]config.ModelPricing) *Pricing {
	p := &Pricing{}
	p.Update(table)
	return p
}

// Update replaces the price table.
func (p *Pricing) Update(table map[string]config.ModelPricing) {
	if table == nil {
		table = config.DefaultPricing()
	}
	cp := make(map[string]config.ModelPricing, len(table))
	for k, v := range table {
		cp[strings.ToLower(k)] = v
	}
	p.table.Store(&cp)
}

// Lookup returns the prices for model. An exact match wins, then the longest
// configured name that prefixes model, then the default entry.
func (p *Pricing) Lookup(model string) (config.ModelPricing, bool) {
	table := *p.table.Load()
	model = strings.ToLower(model)

	if mp, ok := table[model]; ok {
		return mp, true
	}

	best := ""
	for name := range table {
		if name != DefaultModel && strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return table[best], true
	}

	mp, ok := table[DefaultModel]
	return mp, ok
}

// Cost returns the estimated USD cost of a request, rounded to 8 decimals.
func (p *Pricing) Cost(model string, input, output, cacheWrite, cacheRead int64) float64 {
	mp, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	cost := float64(input)*mp.Input +
		float64(output)*mp.Output +
		float64(cacheWrite)*mp.CacheWrite +
		float64(cacheRead)*mp.CacheRead
	return RoundCost(cost / 1_000_000)
}

// RoundCost rounds a USD amount to 8 decimal places.
func RoundCost(usd float64) float64 {
	return math.Round(usd*1e8) / 1e8
}
