// Package sizing converts an observed trade into a bounded copy order amount.
// Everything here is pure: no I/O, no clocks, no globals.
package sizing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Strategy is the closed set of base-amount rules.
type Strategy string

const (
	StrategyPercentage Strategy = "PERCENTAGE"
	StrategyFixed      Strategy = "FIXED"
	StrategyAdaptive   Strategy = "ADAPTIVE"
)

// ParseStrategy maps a case-insensitive name onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategyPercentage:
		return StrategyPercentage, nil
	case StrategyFixed:
		return StrategyFixed, nil
	case StrategyAdaptive:
		return StrategyAdaptive, nil
	default:
		return "", fmt.Errorf("sizing: unknown strategy %q", s)
	}
}

var (
	hundred          = decimal.NewFromInt(100)
	one              = decimal.NewFromInt(1)
	balanceHeadroom  = decimal.RequireFromString("0.99")
	defaultThreshold = decimal.NewFromInt(500)
)

// Config holds the sizing knobs. A nil optional field means unset; an explicit
// zero is honoured.
type Config struct {
	Strategy Strategy
	// CopySize is a percentage for PERCENTAGE/ADAPTIVE and USDC for FIXED.
	CopySize       decimal.Decimal
	MinOrderUSD    decimal.Decimal
	MaxOrderUSD    decimal.Decimal
	MaxPositionUSD decimal.Decimal

	// AdaptiveMinPercent and AdaptiveMaxPercent default to CopySize.
	AdaptiveMinPercent *decimal.Decimal
	AdaptiveMaxPercent *decimal.Decimal
	// AdaptiveThreshold defaults to 500 USDC.
	AdaptiveThreshold *decimal.Decimal

	Tiers []Tier
	// TradeMultiplier applies when no tiers are set; nil means 1.
	TradeMultiplier *decimal.Decimal
}

// Validate rejects configurations that Calculate cannot apply meaningfully.
func (c Config) Validate() error {
	var errs []string
	switch c.Strategy {
	case StrategyPercentage, StrategyFixed, StrategyAdaptive:
	default:
		errs = append(errs, fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	if !c.CopySize.IsPositive() {
		errs = append(errs, "copy_size must be positive")
	}
	if c.MinOrderUSD.IsNegative() {
		errs = append(errs, "min_order_usd must not be negative")
	}
	if !c.MaxOrderUSD.IsPositive() {
		errs = append(errs, "max_order_usd must be positive")
	}
	if c.MaxOrderUSD.LessThan(c.MinOrderUSD) {
		errs = append(errs, "min_order_usd must not exceed max_order_usd")
	}
	if c.MaxPositionUSD.IsNegative() {
		errs = append(errs, "max_position_usd must not be negative")
	}
	if c.TradeMultiplier != nil && c.TradeMultiplier.IsNegative() {
		errs = append(errs, "trade_multiplier must not be negative")
	}
	if c.Strategy == StrategyAdaptive {
		for name, p := range map[string]*decimal.Decimal{
			"adaptive_min_percent": c.AdaptiveMinPercent,
			"adaptive_max_percent": c.AdaptiveMaxPercent,
		} {
			if p != nil && (p.IsNegative() || p.GreaterThan(hundred)) {
				errs = append(errs, fmt.Sprintf("%s must be within [0, 100]", name))
			}
		}
		if c.AdaptiveThreshold != nil && !c.AdaptiveThreshold.IsPositive() {
			errs = append(errs, "adaptive_threshold must be positive")
		}
	}
	if err := validateTiers(c.Tiers); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("sizing: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Input is the account state at decision time.
type Input struct {
	TraderNotional   decimal.Decimal
	Balance          decimal.Decimal
	PositionNotional decimal.Decimal
}

// Decision is the outcome of Calculate. Steps lists every rule that fired, in order.
type Decision struct {
	Strategy         Strategy
	TraderNotional   decimal.Decimal
	Base             decimal.Decimal
	Multiplier       decimal.Decimal
	Amount           decimal.Decimal
	CappedByMax      bool
	CappedByPosition bool
	ReducedByBalance bool
	BelowMinimum     bool
	Steps            []string
}

// Reasoning joins the rationale trail into one line.
func (d Decision) Reasoning() string {
	return strings.Join(d.Steps, " -> ")
}

// Calculate sizes a copy order. It assumes cfg passed Validate; an unknown
// strategy yields a zero amount.
func Calculate(cfg Config, in Input) Decision {
	notional := decimal.Max(in.TraderNotional, decimal.Zero)
	d := Decision{Strategy: cfg.Strategy, TraderNotional: notional}

	switch cfg.Strategy {
	case StrategyPercentage:
		d.Base = notional.Mul(cfg.CopySize).Div(hundred)
		d.step("%s%% of trader's $%s = $%s", cfg.CopySize, money(notional), money(d.Base))
	case StrategyFixed:
		d.Base = cfg.CopySize
		d.step("fixed amount $%s", money(d.Base))
	case StrategyAdaptive:
		pct := adaptivePercent(cfg, notional)
		d.Base = notional.Mul(pct).Div(hundred)
		d.step("adaptive %s%% of trader's $%s = $%s", pct.StringFixed(1), money(notional), money(d.Base))
	default:
		d.step("unknown strategy %q", cfg.Strategy)
		return d
	}

	d.Multiplier = multiplier(cfg, notional)
	amount := d.Base.Mul(d.Multiplier)
	if !d.Multiplier.Equal(one) {
		d.step("%sx multiplier = $%s", d.Multiplier, money(amount))
	}

	if amount.GreaterThan(cfg.MaxOrderUSD) {
		amount = cfg.MaxOrderUSD
		d.CappedByMax = true
		d.step("capped at max order $%s", money(cfg.MaxOrderUSD))
	}

	if cfg.MaxPositionUSD.IsPositive() && in.PositionNotional.Add(amount).GreaterThan(cfg.MaxPositionUSD) {
		headroom := decimal.Max(decimal.Zero, cfg.MaxPositionUSD.Sub(in.PositionNotional))
		d.CappedByPosition = true
		if headroom.LessThan(cfg.MinOrderUSD) {
			amount = decimal.Zero
			d.step("position limit $%s reached", money(cfg.MaxPositionUSD))
		} else {
			amount = headroom
			d.step("reduced to position headroom $%s", money(headroom))
		}
	}

	affordable := decimal.Max(decimal.Zero, in.Balance.Mul(balanceHeadroom))
	if amount.GreaterThan(affordable) {
		amount = affordable
		d.ReducedByBalance = true
		d.step("reduced to 99%% of balance $%s", money(affordable))
	}

	if amount.LessThan(cfg.MinOrderUSD) {
		amount = decimal.Zero
		d.BelowMinimum = true
		d.step("below minimum $%s", money(cfg.MinOrderUSD))
	}

	d.Amount = amount
	return d
}

func (d *Decision) step(format string, args ...any) {
	d.Steps = append(d.Steps, fmt.Sprintf(format, args...))
}

func adaptivePercent(cfg Config, notional decimal.Decimal) decimal.Decimal {
	minPct := orDefault(cfg.AdaptiveMinPercent, cfg.CopySize)
	maxPct := orDefault(cfg.AdaptiveMaxPercent, cfg.CopySize)
	threshold := orDefault(cfg.AdaptiveThreshold, defaultThreshold)
	if !threshold.IsPositive() {
		threshold = defaultThreshold
	}

	ratio := notional.Div(threshold)
	if notional.GreaterThanOrEqual(threshold) {
		// large trades shrink toward minPct
		return lerp(cfg.CopySize, minPct, decimal.Min(one, ratio.Sub(one)))
	}
	// small trades grow toward maxPct
	return lerp(maxPct, cfg.CopySize, ratio)
}

func lerp(a, b, t decimal.Decimal) decimal.Decimal {
	t = decimal.Max(decimal.Zero, decimal.Min(one, t))
	return a.Add(b.Sub(a).Mul(t))
}

func multiplier(cfg Config, notional decimal.Decimal) decimal.Decimal {
	if len(cfg.Tiers) > 0 {
		for _, t := range cfg.Tiers {
			if t.Contains(notional) {
				return t.Multiplier
			}
		}
		return cfg.Tiers[len(cfg.Tiers)-1].Multiplier
	}
	return orDefault(cfg.TradeMultiplier, one)
}

func orDefault(v *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if v == nil {
		return def
	}
	return *v
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
