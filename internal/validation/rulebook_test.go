package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordercore-io/ordercore/internal/domain"
)

func TestLoadRulebook_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	rulebookPath := filepath.Join(tmpDir, "ordercore.yaml")

	content := `
equity:
  round_lot: 50
fx:
  min_notional: "1000"
`
	err := os.WriteFile(rulebookPath, []byte(content), 0644)
	require.NoError(t, err)

	rb, err := LoadRulebook(rulebookPath)

	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, int64(50), rb.Equity.RoundLot)
	assert.Equal(t, "1000", rb.FX.MinNotional)
}

func TestLoadRulebook_MissingFile(t *testing.T) {
	rb, err := LoadRulebook("/nonexistent/path/ordercore.yaml")

	// Missing file should return built-in defaults, no error (graceful degradation)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, int64(DefaultEquityRoundLot), rb.Equity.RoundLot)
	assert.Empty(t, rb.FX.MinNotional)
}

func TestLoadRulebook_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	rulebookPath := filepath.Join(tmpDir, "ordercore.yaml")

	content := `
equity:
  round_lot: [invalid yaml
`
	err := os.WriteFile(rulebookPath, []byte(content), 0644)
	require.NoError(t, err)

	rb, err := LoadRulebook(rulebookPath)

	// Invalid YAML should return built-in defaults with no error (graceful degradation)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, int64(DefaultEquityRoundLot), rb.Equity.RoundLot)
}

func TestLoadRulebook_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	rulebookPath := filepath.Join(tmpDir, "ordercore.yaml")

	err := os.WriteFile(rulebookPath, []byte(""), 0644)
	require.NoError(t, err)

	rb, err := LoadRulebook(rulebookPath)

	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, int64(DefaultEquityRoundLot), rb.Equity.RoundLot)
}

func TestLoadRulebook_NegativeRoundLot(t *testing.T) {
	tmpDir := t.TempDir()
	rulebookPath := filepath.Join(tmpDir, "ordercore.yaml")

	content := `
equity:
  round_lot: -10
`
	err := os.WriteFile(rulebookPath, []byte(content), 0644)
	require.NoError(t, err)

	rb, err := LoadRulebook(rulebookPath)

	// Unusable parameters fall back to defaults, no error
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, int64(DefaultEquityRoundLot), rb.Equity.RoundLot)
}

func TestLoadRulebook_InvalidMinNotional(t *testing.T) {
	tmpDir := t.TempDir()
	rulebookPath := filepath.Join(tmpDir, "ordercore.yaml")

	content := `
fx:
  min_notional: "not-a-number"
`
	err := os.WriteFile(rulebookPath, []byte(content), 0644)
	require.NoError(t, err)

	rb, err := LoadRulebook(rulebookPath)

	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Empty(t, rb.FX.MinNotional)
}

func TestLoadRulebookFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	rulebookPath := filepath.Join(tmpDir, "custom.yaml")

	content := `
equity:
  round_lot: 25
`
	err := os.WriteFile(rulebookPath, []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv(RulebookPathEnvVar, rulebookPath)

	rb, err := LoadRulebookFromEnv()

	require.NoError(t, err)
	assert.Equal(t, int64(25), rb.Equity.RoundLot)
}

func TestForAssetClass_Equity(t *testing.T) {
	rb := DefaultRulebook()

	rules := rb.ForAssetClass(domain.AssetClassEquity)
	require.Len(t, rules, 1)
	assert.Equal(t, RuleNameRoundLot, rules[0].Name())

	order := validLimitOrder()
	order.OrderQty = decimal.NewFromInt(150)
	assert.False(t, rules[0].Apply(order).IsValid())

	order.OrderQty = decimal.NewFromInt(200)
	assert.True(t, rules[0].Apply(order).IsValid())
}

func TestForAssetClass_EquityRoundLotDisabled(t *testing.T) {
	rb := &Rulebook{}

	assert.Empty(t, rb.ForAssetClass(domain.AssetClassEquity))
}

func TestForAssetClass_FX(t *testing.T) {
	tmpDir := t.TempDir()
	rulebookPath := filepath.Join(tmpDir, "ordercore.yaml")

	content := `
fx:
  min_notional: "10000"
`
	err := os.WriteFile(rulebookPath, []byte(content), 0644)
	require.NoError(t, err)

	rb, err := LoadRulebook(rulebookPath)
	require.NoError(t, err)

	rules := rb.ForAssetClass(domain.AssetClassFX)
	require.Len(t, rules, 2)
	assert.Equal(t, RuleNameFXSymbol, rules[0].Name())
	assert.Equal(t, RuleNameMinNotional, rules[1].Name())

	order := validLimitOrder()
	order.AssetClass = domain.AssetClassFX
	order.Symbol = "EUR/USD"
	order.OrderQty = decimal.NewFromInt(10000)
	order.Price = decimal.RequireFromString("1.0850")

	assert.True(t, rules[0].Apply(order).IsValid())
	assert.True(t, rules[1].Apply(order).IsValid())

	order.Symbol = "EURUSD"
	assert.False(t, rules[0].Apply(order).IsValid())

	order.OrderQty = decimal.NewFromInt(100)
	assert.False(t, rules[1].Apply(order).IsValid(), "notional 108.50 is below the 10000 floor")
}

func TestForAssetClass_FXWithoutNotionalFloor(t *testing.T) {
	rb := DefaultRulebook()

	rules := rb.ForAssetClass(domain.AssetClassFX)
	require.Len(t, rules, 1)
	assert.Equal(t, RuleNameFXSymbol, rules[0].Name())
}

func TestForAssetClass_NoExtensions(t *testing.T) {
	rb := DefaultRulebook()

	assert.Empty(t, rb.ForAssetClass(domain.AssetClassFuture))
	assert.Empty(t, rb.ForAssetClass(domain.AssetClassOption))
	assert.Empty(t, rb.ForAssetClass(domain.AssetClass("CRYPTO")))
}

func TestMinNotionalRule_SkipsUnpricedOrders(t *testing.T) {
	rule := MinNotionalRule(decimal.NewFromInt(10000))

	order := validLimitOrder()
	order.OrdType = domain.OrdTypeMarket
	order.Price = decimal.Zero

	assert.True(t, rule.Apply(order).IsValid())
}
