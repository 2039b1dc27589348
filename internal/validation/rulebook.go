package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ordercore-io/ordercore/internal/config"
	"github.com/ordercore-io/ordercore/internal/domain"
)

// DefaultRulebookPath is the default location for the ordercore rulebook file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultRulebookPath = ".ordercore.yaml"

// RulebookPathEnvVar is the environment variable name for a custom rulebook path.
const RulebookPathEnvVar = "ORDERCORE_CONFIG_PATH"

// DefaultEquityRoundLot applies when the rulebook file does not set one.
const DefaultEquityRoundLot = 100

// fxSymbolPattern matches CCY1/CCY2 currency pair symbols.
// Compiled once at package initialization for performance.
var fxSymbolPattern = regexp.MustCompile(`^[A-Z]{3}/[A-Z]{3}$`)

type (
	// Rulebook holds the per-asset-class validation parameters loaded from
	// the YAML rulebook file. ForAssetClass turns it into rule extensions
	// appended after the standard order catalog.
	Rulebook struct {
		Equity EquityParams `yaml:"equity"`
		FX     FXParams     `yaml:"fx"`
	}

	// EquityParams configures equity rules. A round lot of zero disables
	// the round-lot check.
	EquityParams struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		RoundLot int64 `yaml:"round_lot"`
	}

	// FXParams configures FX rules. An empty min notional disables the
	// notional floor.
	FXParams struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		MinNotional string `yaml:"min_notional"`

		minNotional decimal.Decimal
	}
)

// DefaultRulebook returns the built-in parameters used when no rulebook
// file is present.
func DefaultRulebook() *Rulebook {
	return &Rulebook{
		Equity: EquityParams{RoundLot: DefaultEquityRoundLot},
	}
}

// LoadRulebook loads asset-class validation parameters from a YAML file at
// the given path.
//
// Behavior:
//   - Returns built-in defaults (not error) if file doesn't exist - the rulebook is optional
//   - Returns built-in defaults + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated rulebook on success
//
// This graceful degradation ensures the service can start even without a
// rulebook configured, as asset-class extensions are optional tuning.
func LoadRulebook(path string) (*Rulebook, error) {
	if path == "" {
		path = DefaultRulebookPath
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - asset-class extensions are optional
			slog.Debug("Rulebook file not found, continuing with built-in defaults",
				slog.String("path", path))

			return DefaultRulebook(), nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read rulebook file, continuing with built-in defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return DefaultRulebook(), nil
	}

	// Empty file is valid - just the defaults
	if len(data) == 0 {
		return DefaultRulebook(), nil
	}

	rulebook := DefaultRulebook()
	if err := yaml.Unmarshal(data, rulebook); err != nil {
		// Invalid YAML - log warning and continue with defaults
		slog.Warn("Failed to parse rulebook file, continuing with built-in defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return DefaultRulebook(), nil
	}

	if err := rulebook.resolve(); err != nil {
		// Unusable parameter values - log warning and continue with defaults
		slog.Warn("Invalid rulebook parameters, continuing with built-in defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return DefaultRulebook(), nil
	}

	return rulebook, nil
}

// LoadRulebookFromEnv loads the rulebook from the path specified in the
// ORDERCORE_CONFIG_PATH environment variable. Falls back to ".ordercore.yaml"
// in the current directory if not set.
func LoadRulebookFromEnv() (*Rulebook, error) {
	path := config.GetEnvStr(RulebookPathEnvVar, DefaultRulebookPath)

	return LoadRulebook(path)
}

// resolve checks the loaded parameters and parses string-typed decimals.
func (rb *Rulebook) resolve() error {
	if rb.Equity.RoundLot < 0 {
		return fmt.Errorf("equity round_lot %d must not be negative", rb.Equity.RoundLot)
	}

	if rb.FX.MinNotional != "" {
		minNotional, err := decimal.NewFromString(rb.FX.MinNotional)
		if err != nil {
			return fmt.Errorf("fx min_notional %q is not a valid decimal: %w", rb.FX.MinNotional, err)
		}

		if minNotional.IsNegative() {
			return fmt.Errorf("fx min_notional %s must not be negative", minNotional)
		}

		rb.FX.minNotional = minNotional
	}

	return nil
}

// ForAssetClass returns the rule extensions for one asset class, to append
// after the standard catalog. Unknown or unconfigured classes get none.
func (rb *Rulebook) ForAssetClass(assetClass domain.AssetClass) []Rule[domain.Order] {
	switch assetClass {
	case domain.AssetClassEquity:
		if rb.Equity.RoundLot > 0 {
			return []Rule[domain.Order]{RoundLotRule(rb.Equity.RoundLot)}
		}
	case domain.AssetClassFX:
		rules := []Rule[domain.Order]{FXSymbolRule()}
		if rb.FX.minNotional.IsPositive() {
			rules = append(rules, MinNotionalRule(rb.FX.minNotional))
		}

		return rules
	}

	return nil
}

// RoundLotRule checks that orderQty is a whole multiple of the round lot.
func RoundLotRule(roundLot int64) Rule[domain.Order] {
	lot := decimal.NewFromInt(roundLot)

	return NewRule(RuleNameRoundLot, func(o domain.Order) Result {
		if !o.OrderQty.Mod(lot).IsZero() {
			return Invalid(fmt.Sprintf("orderQty %s is not a multiple of round lot %d", o.OrderQty, roundLot))
		}

		return Valid()
	})
}

// FXSymbolRule checks that the symbol is a CCY1/CCY2 currency pair.
func FXSymbolRule() Rule[domain.Order] {
	return NewRule(RuleNameFXSymbol, func(o domain.Order) Result {
		if !fxSymbolPattern.MatchString(o.Symbol) {
			return Invalid(fmt.Sprintf("symbol %q is not a CCY1/CCY2 currency pair", o.Symbol))
		}

		return Valid()
	})
}

// MinNotionalRule checks orderQty * price against the notional floor.
// Orders without a price, market orders in practice, pass unchecked.
func MinNotionalRule(minNotional decimal.Decimal) Rule[domain.Order] {
	return NewRule(RuleNameMinNotional, func(o domain.Order) Result {
		if o.Price.IsZero() {
			return Valid()
		}

		if notional := o.OrderQty.Mul(o.Price); notional.LessThan(minNotional) {
			return Invalid(fmt.Sprintf("notional %s is below minimum %s", notional, minNotional))
		}

		return Valid()
	})
}
