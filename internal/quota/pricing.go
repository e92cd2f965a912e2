package quota

import (
	"math"
	"sort"
	"strings"
)

// Pricing converts units into money. Costs are per UnitScale units.
type Pricing struct {
	costs        map[string]float64
	prefixes     []string // model names, longest first
	defaultModel string
	unitScale    int64
	cheapest     string
}

// NewPricing builds a price table. defaultModel prices unknown model classes.
func NewPricing(costs map[string]float64, defaultModel string, unitScale int64) *Pricing {
	if unitScale <= 0 {
		unitScale = 1000
	}

	p := &Pricing{
		costs:        make(map[string]float64, len(costs)),
		defaultModel: defaultModel,
		unitScale:    unitScale,
	}
	for model, cost := range costs {
		p.costs[model] = cost
		p.prefixes = append(p.prefixes, model)
	}
	sort.Slice(p.prefixes, func(i, j int) bool {
		if len(p.prefixes[i]) != len(p.prefixes[j]) {
			return len(p.prefixes[i]) > len(p.prefixes[j])
		}
		return p.prefixes[i] < p.prefixes[j]
	})

	lowest := math.Inf(1)
	for _, model := range p.Models() {
		if cost := p.costs[model]; cost < lowest {
			lowest, p.cheapest = cost, model
		}
	}
	return p
}

// Resolve maps a model name onto a priced model class. Versioned names match
// the longest configured prefix; unknown names resolve to the default model.
func (p *Pricing) Resolve(model string) string {
	if _, ok := p.costs[model]; ok {
		return model
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(model, prefix) {
			return prefix
		}
	}
	return p.defaultModel
}

// UnitCost returns the price of UnitScale units of model
func (p *Pricing) UnitCost(model string) float64 {
	return p.costs[p.Resolve(model)]
}

// Cost returns the price of units of model
func (p *Pricing) Cost(model string, units int64) float64 {
	return float64(units) / float64(p.unitScale) * p.UnitCost(model)
}

// Cheapest returns the lowest-priced model class, the fallback recommendation
func (p *Pricing) Cheapest() string {
	return p.cheapest
}

func (p *Pricing) DefaultModel() string {
	return p.defaultModel
}

// Models returns the configured model classes in sorted order
func (p *Pricing) Models() []string {
	models := make([]string, 0, len(p.costs))
	for model := range p.costs {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
