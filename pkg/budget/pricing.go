package budget

import (
	"sort"
	"time"
)

// ModelPrice is a (provider, model, effective_date) pricing row: USD per
// 1,000 input and output tokens.
type ModelPrice struct {
	Provider        string
	Model           string
	EffectiveDate   time.Time
	InputPer1KUSD   float64
	OutputPer1KUSD  float64
}

// PricingTable resolves the price in effect for a (provider, model) at a
// given time, picking the latest effective_date <= at.
type PricingTable struct {
	byKey map[string][]ModelPrice
}

func key(provider, model string) string { return provider + "/" + model }

// NewPricingTable builds a lookup table from a flat list of prices,
// sorting each (provider, model) bucket by effective date ascending.
func NewPricingTable(prices []ModelPrice) *PricingTable {
	t := &PricingTable{byKey: make(map[string][]ModelPrice)}
	for _, p := range prices {
		k := key(p.Provider, p.Model)
		t.byKey[k] = append(t.byKey[k], p)
	}
	for k := range t.byKey {
		rows := t.byKey[k]
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].EffectiveDate.Before(rows[j].EffectiveDate)
		})
		t.byKey[k] = rows
	}
	return t
}

// Lookup returns the price in effect for (provider, model) at the given
// time, or false if no price has an effective_date on or before at.
func (t *PricingTable) Lookup(provider, model string, at time.Time) (ModelPrice, bool) {
	rows := t.byKey[key(provider, model)]
	var best ModelPrice
	found := false
	for _, p := range rows {
		if p.EffectiveDate.After(at) {
			break
		}
		best = p
		found = true
	}
	return best, found
}

// EstimateCost computes c_est per §4.3: input tokens are known exactly,
// output tokens are bounded conservatively by maxTokens.
func (t *PricingTable) EstimateCost(provider, model string, at time.Time, inputTokens, maxOutputTokens int) (float64, bool) {
	price, ok := t.Lookup(provider, model, at)
	if !ok {
		return 0, false
	}
	cost := float64(inputTokens)/1000*price.InputPer1KUSD + float64(maxOutputTokens)/1000*price.OutputPer1KUSD
	return cost, true
}

// DefaultPricingTable seeds a small, representative pricing table. Real
// deployments load this from the provider's published rate card.
func DefaultPricingTable() *PricingTable {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewPricingTable([]ModelPrice{
		{Provider: "anthropic", Model: "claude-haiku", EffectiveDate: epoch, InputPer1KUSD: 0.0008, OutputPer1KUSD: 0.004},
		{Provider: "anthropic", Model: "claude-sonnet", EffectiveDate: epoch, InputPer1KUSD: 0.003, OutputPer1KUSD: 0.015},
		{Provider: "openai", Model: "gpt-4o-mini", EffectiveDate: epoch, InputPer1KUSD: 0.00015, OutputPer1KUSD: 0.0006},
	})
}
