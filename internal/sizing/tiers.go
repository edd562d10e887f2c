package sizing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier applies Multiplier to trader notionals in [Min, Max). A nil Max is unbounded.
type Tier struct {
	Min        decimal.Decimal
	Max        *decimal.Decimal
	Multiplier decimal.Decimal
}

// Contains reports whether notional falls inside the band.
func (t Tier) Contains(notional decimal.Decimal) bool {
	if notional.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || notional.LessThan(*t.Max)
}

func (t Tier) String() string {
	if t.Max == nil {
		return fmt.Sprintf("%s+:%s", t.Min, t.Multiplier)
	}
	return fmt.Sprintf("%s-%s:%s", t.Min, *t.Max, t.Multiplier)
}

// ParseTiers parses the compact form "1-10:2.0,10-100:1.0,100+:0.5".
// An empty string yields no tiers.
func ParseTiers(s string) ([]Tier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		bounds, mult, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("sizing: tier %q: missing multiplier", part)
		}
		m, err := decimal.NewFromString(strings.TrimSpace(mult))
		if err != nil {
			return nil, fmt.Errorf("sizing: tier %q: multiplier: %w", part, err)
		}
		t := Tier{Multiplier: m}
		bounds = strings.TrimSpace(bounds)
		if lo, open := strings.CutSuffix(bounds, "+"); open {
			if t.Min, err = decimal.NewFromString(lo); err != nil {
				return nil, fmt.Errorf("sizing: tier %q: lower bound: %w", part, err)
			}
		} else {
			lo, hi, ok := strings.Cut(bounds, "-")
			if !ok {
				return nil, fmt.Errorf("sizing: tier %q: expected min-max or min+", part)
			}
			if t.Min, err = decimal.NewFromString(lo); err != nil {
				return nil, fmt.Errorf("sizing: tier %q: lower bound: %w", part, err)
			}
			upper, err := decimal.NewFromString(hi)
			if err != nil {
				return nil, fmt.Errorf("sizing: tier %q: upper bound: %w", part, err)
			}
			t.Max = &upper
		}
		tiers = append(tiers, t)
	}
	if err := validateTiers(tiers); err != nil {
		return nil, fmt.Errorf("sizing: %w", err)
	}
	return tiers, nil
}

// validateTiers requires ascending, non-overlapping bands with only the
// last one unbounded.
func validateTiers(tiers []Tier) error {
	for i, t := range tiers {
		if t.Min.IsNegative() {
			return fmt.Errorf("tier %d (%s): negative lower bound", i, t)
		}
		if t.Multiplier.IsNegative() {
			return fmt.Errorf("tier %d (%s): negative multiplier", i, t)
		}
		if t.Max == nil {
			if i != len(tiers)-1 {
				return fmt.Errorf("tier %d (%s): only the last tier may be unbounded", i, t)
			}
			continue
		}
		if !t.Max.GreaterThan(t.Min) {
			return fmt.Errorf("tier %d (%s): upper bound must exceed lower bound", i, t)
		}
		if i > 0 {
			prev := tiers[i-1]
			if !t.Min.GreaterThanOrEqual(*prev.Max) {
				return fmt.Errorf("tier %d (%s): overlaps or precedes tier %d", i, t, i-1)
			}
		}
	}
	if n := len(tiers); n > 1 && tiers[n-1].Max == nil {
		prev := tiers[n-2]
		if prev.Max != nil && tiers[n-1].Min.LessThan(*prev.Max) {
			return fmt.Errorf("tier %d (%s): overlaps tier %d", n-1, tiers[n-1], n-2)
		}
	}
	return nil
}
