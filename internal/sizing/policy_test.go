package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func baseConfig() Config {
	return Config{
		Strategy:    StrategyPercentage,
		CopySize:    d("10"),
		MinOrderUSD: d("1"),
		MaxOrderUSD: d("100"),
	}
}

func richInput(notional string) Input {
	return Input{TraderNotional: d(notional), Balance: d("100000")}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "amount: want %s, got %s", want, got)
}

func TestCalculate_Percentage(t *testing.T) {
	dec := Calculate(baseConfig(), richInput("200"))
	assertAmount(t, "20", dec.Amount)
	assertAmount(t, "20", dec.Base)
	assertAmount(t, "1", dec.Multiplier)
	assert.False(t, dec.CappedByMax)
	assert.False(t, dec.BelowMinimum)
	assert.Len(t, dec.Steps, 1)
}

func TestCalculate_FixedIgnoresNotional(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = StrategyFixed
	cfg.CopySize = d("25")

	for _, notional := range []string{"1", "500", "99999"} {
		assertAmount(t, "25", Calculate(cfg, richInput(notional)).Amount)
	}
}

func TestCalculate_Adaptive(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = StrategyAdaptive
	cfg.AdaptiveMinPercent = ptr(d("5"))
	cfg.AdaptiveMaxPercent = ptr(d("20"))
	cfg.AdaptiveThreshold = ptr(d("500"))
	cfg.MaxOrderUSD = d("10000")

	tests := []struct {
		name     string
		notional string
		want     string
	}{
		// below threshold: lerp(max, copy, n/T)
		{"zero notional", "0", "0"},
		{"quarter threshold", "125", "21.875"}, // 125 * 17.5%
		{"half threshold", "250", "37.5"},      // 250 * 15%
		// at or above threshold: lerp(copy, min, n/T - 1)
		{"at threshold", "500", "50"},       // 500 * 10%
		{"1.5x threshold", "750", "56.25"},  // 750 * 7.5%
		{"2x threshold", "1000", "50"},      // 1000 * 5%
		{"factor clamps at 1", "2000", "100"}, // 2000 * 5%
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := Calculate(cfg, richInput(tt.notional))
			assertAmount(t, tt.want, dec.Base)
		})
	}
}

func TestCalculate_AdaptiveDefaultsToCopySize(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = StrategyAdaptive

	assertAmount(t, "30", Calculate(cfg, richInput("300")).Base)
	assertAmount(t, "90", Calculate(cfg, richInput("900")).Base)
}

func TestCalculate_AdaptiveZeroMinPercent(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = StrategyAdaptive
	cfg.AdaptiveMinPercent = ptr(decimal.Zero)
	cfg.AdaptiveMaxPercent = ptr(d("20"))
	cfg.AdaptiveThreshold = ptr(d("500"))
	require.NoError(t, cfg.Validate())

	// factor clamps to 1, so the percent reaches the explicit 0% floor
	dec := Calculate(cfg, richInput("1000"))
	assert.True(t, dec.Base.IsZero(), "base: %s", dec.Base)
	assert.True(t, dec.Amount.IsZero())
	assert.True(t, dec.BelowMinimum)

	// halfway between threshold and 2x threshold: lerp(10, 0, 0.5) = 5%
	assertAmount(t, "37.5", Calculate(cfg, richInput("750")).Base)
}

func TestCalculate_AdaptiveZeroMaxPercent(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = StrategyAdaptive
	cfg.AdaptiveMaxPercent = ptr(decimal.Zero)

	// quarter of the default threshold: lerp(0, 10, 0.25) = 2.5%
	assertAmount(t, "3.125", Calculate(cfg, richInput("125")).Base)
}

func TestCalculate_ZeroTradeMultiplier(t *testing.T) {
	cfg := baseConfig()
	cfg.TradeMultiplier = ptr(decimal.Zero)

	dec := Calculate(cfg, richInput("100"))
	assertAmount(t, "10", dec.Base)
	assert.True(t, dec.Multiplier.IsZero())
	assert.True(t, dec.Amount.IsZero())
	assert.True(t, dec.BelowMinimum)
}

func TestCalculate_TieredMultiplier(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOrderUSD = d("10000")
	cfg.Tiers = []Tier{
		{Min: d("0"), Max: ptr(d("100")), Multiplier: d("1.0")},
		{Min: d("100"), Multiplier: d("1.5")},
	}

	low := Calculate(cfg, richInput("50"))
	assertAmount(t, "1", low.Multiplier)
	assertAmount(t, "5", low.Amount)

	high := Calculate(cfg, richInput("500"))
	assertAmount(t, "1.5", high.Multiplier)
	assertAmount(t, "75", high.Amount)
}

func TestCalculate_TierAboveAllBoundsUsesLast(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOrderUSD = d("10000")
	cfg.Tiers = []Tier{
		{Min: d("0"), Max: ptr(d("10")), Multiplier: d("2")},
		{Min: d("10"), Max: ptr(d("100")), Multiplier: d("0.5")},
	}

	assertAmount(t, "0.5", Calculate(cfg, richInput("1000")).Multiplier)
}

func TestCalculate_ScalarMultiplier(t *testing.T) {
	cfg := baseConfig()
	cfg.TradeMultiplier = ptr(d("2"))

	dec := Calculate(cfg, richInput("100"))
	assertAmount(t, "2", dec.Multiplier)
	assertAmount(t, "20", dec.Amount)
	assert.Len(t, dec.Steps, 2)
}

func TestCalculate_CappedByMax(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOrderUSD = d("50")

	dec := Calculate(cfg, richInput("800"))
	assertAmount(t, "80", dec.Base)
	assertAmount(t, "50", dec.Amount)
	assert.True(t, dec.CappedByMax)
}

func TestCalculate_PositionHeadroom(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositionUSD = d("100")

	dec := Calculate(cfg, Input{TraderNotional: d("500"), Balance: d("1000"), PositionNotional: d("70")})
	assertAmount(t, "30", dec.Amount)
	assert.True(t, dec.CappedByPosition)
	assert.False(t, dec.BelowMinimum)
}

func TestCalculate_PositionHeadroomBelowMinimum(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositionUSD = d("100")
	cfg.MinOrderUSD = d("5")

	dec := Calculate(cfg, Input{TraderNotional: d("500"), Balance: d("1000"), PositionNotional: d("98")})
	assert.True(t, dec.Amount.IsZero())
	assert.True(t, dec.CappedByPosition)
}

func TestCalculate_ReducedByBalance(t *testing.T) {
	cfg := baseConfig()

	dec := Calculate(cfg, Input{TraderNotional: d("500"), Balance: d("10")})
	assertAmount(t, "50", dec.Base)
	assertAmount(t, "9.9", dec.Amount)
	assert.True(t, dec.ReducedByBalance)
	assert.False(t, dec.BelowMinimum)
}

func TestCalculate_BelowMinimum(t *testing.T) {
	cfg := baseConfig()
	cfg.MinOrderUSD = d("5")

	dec := Calculate(cfg, richInput("30"))
	assertAmount(t, "3", dec.Base)
	assert.True(t, dec.Amount.IsZero())
	assert.True(t, dec.BelowMinimum)
}

func TestCalculate_Pure(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = StrategyAdaptive
	cfg.MaxPositionUSD = d("60")
	in := Input{TraderNotional: d("1234.56"), Balance: d("42"), PositionNotional: d("10")}

	first := Calculate(cfg, in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Calculate(cfg, in))
	}
}

func TestCalculate_BoundingNeverIncreases(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOrderUSD = d("40")
	cfg.MaxPositionUSD = d("50")
	cfg.TradeMultiplier = ptr(d("3"))

	for _, notional := range []string{"1", "10", "50", "100", "1000"} {
		dec := Calculate(cfg, Input{TraderNotional: d(notional), Balance: d("25"), PositionNotional: d("20")})
		assert.True(t, dec.Amount.LessThanOrEqual(dec.Base.Mul(dec.Multiplier)), "notional %s", notional)
		assert.True(t, dec.Amount.LessThanOrEqual(cfg.MaxOrderUSD))
	}
}

func TestCalculate_RationaleOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxOrderUSD = d("50")
	cfg.MinOrderUSD = d("20")
	cfg.TradeMultiplier = ptr(d("2"))

	dec := Calculate(cfg, Input{TraderNotional: d("1000"), Balance: d("15")})
	require.Len(t, dec.Steps, 5)
	assert.Contains(t, dec.Steps[1], "multiplier")
	assert.Contains(t, dec.Steps[2], "max order")
	assert.Contains(t, dec.Steps[3], "balance")
	assert.Contains(t, dec.Steps[4], "below minimum")
	assert.Contains(t, dec.Reasoning(), " -> ")
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("adaptive")
	require.NoError(t, err)
	assert.Equal(t, StrategyAdaptive, s)

	_, err = ParseStrategy("MIRROR")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, baseConfig().Validate())

	bad := baseConfig()
	bad.Strategy = "MIRROR"
	assert.ErrorContains(t, bad.Validate(), "unknown strategy")

	bad = baseConfig()
	bad.MinOrderUSD = d("500")
	assert.ErrorContains(t, bad.Validate(), "min_order_usd")

	bad = baseConfig()
	bad.Tiers = []Tier{
		{Min: d("100"), Multiplier: d("1")},
		{Min: d("0"), Max: ptr(d("100")), Multiplier: d("2")},
	}
	assert.ErrorContains(t, bad.Validate(), "unbounded")

	bad = baseConfig()
	bad.Strategy = StrategyAdaptive
	bad.AdaptiveThreshold = ptr(decimal.Zero)
	assert.ErrorContains(t, bad.Validate(), "adaptive_threshold must be positive")

	bad = baseConfig()
	bad.Strategy = StrategyAdaptive
	bad.AdaptiveMinPercent = ptr(d("101"))
	assert.ErrorContains(t, bad.Validate(), "adaptive_min_percent")

	bad = baseConfig()
	bad.TradeMultiplier = ptr(d("-1"))
	assert.ErrorContains(t, bad.Validate(), "trade_multiplier")

	zero := baseConfig()
	zero.Strategy = StrategyAdaptive
	zero.AdaptiveMinPercent = ptr(decimal.Zero)
	zero.TradeMultiplier = ptr(decimal.Zero)
	assert.NoError(t, zero.Validate())
}
