package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ordercore-io/ordercore/internal/domain"
)

// Rule names for the standard order catalog. Processors reference these in
// logs and failure payloads, so they are part of the package contract.
const (
	RuleNameRequiredFields  = "REQUIRED_FIELDS"
	RuleNameQuantity        = "QUANTITY"
	RuleNamePrice           = "PRICE"
	RuleNameCumQty          = "CUM_QTY_CONSTRAINT"
	RuleNameExecutableState = "EXECUTABLE_STATE"
	RuleNameRoundLot        = "ROUND_LOT"
	RuleNameFXSymbol        = "FX_SYMBOL"
	RuleNameMinNotional     = "MIN_NOTIONAL"
)

// RequiredFieldsRule checks the identity and instrument fields every order
// must carry regardless of asset class.
func RequiredFieldsRule() Rule[domain.Order] {
	return NewRule(RuleNameRequiredFields, func(o domain.Order) Result {
		var messages []string

		if o.SessionID == "" {
			messages = append(messages, "sessionId is required")
		}

		if o.ClOrdID == "" {
			messages = append(messages, "clOrdId is required")
		}

		if o.Symbol == "" {
			messages = append(messages, "symbol is required")
		}

		if o.Account == "" {
			messages = append(messages, "account is required")
		}

		if !o.Side.IsValid() {
			messages = append(messages, fmt.Sprintf("side %q is not valid", o.Side))
		}

		if !o.OrdType.IsValid() {
			messages = append(messages, fmt.Sprintf("ordType %q is not valid", o.OrdType))
		}

		if !o.AssetClass.IsValid() {
			messages = append(messages, fmt.Sprintf("assetClass %q is not valid", o.AssetClass))
		}

		if len(messages) > 0 {
			return Invalid(messages...)
		}

		return Valid()
	})
}

// QuantityRule checks that orderQty is strictly positive and within maxQty,
// and that the optional quantity fields are non-negative.
func QuantityRule(maxQty decimal.Decimal) Rule[domain.Order] {
	return NewRule(RuleNameQuantity, func(o domain.Order) Result {
		var messages []string

		if !o.OrderQty.IsPositive() {
			messages = append(messages, fmt.Sprintf("orderQty %s must be greater than zero", o.OrderQty))
		} else if o.OrderQty.GreaterThan(maxQty) {
			messages = append(messages, fmt.Sprintf("orderQty %s exceeds maximum %s", o.OrderQty, maxQty))
		}

		for _, q := range []struct {
			field string
			value decimal.Decimal
		}{
			{"placeQty", o.PlaceQty},
			{"allocQty", o.AllocQty},
			{"cashOrderQty", o.CashOrderQty},
		} {
			if q.value.IsNegative() {
				messages = append(messages, fmt.Sprintf("%s %s must not be negative", q.field, q.value))
			}
		}

		if len(messages) > 0 {
			return Invalid(messages...)
		}

		return Valid()
	})
}

// PriceRule checks price fields against the order type. Limit and stop-limit
// orders require a positive price, stop and stop-limit orders a positive
// stopPx, and market orders must not carry a price.
func PriceRule() Rule[domain.Order] {
	return NewRule(RuleNamePrice, func(o domain.Order) Result {
		var messages []string

		if o.OrdType.RequiresPrice() {
			if !o.Price.IsPositive() {
				messages = append(messages, fmt.Sprintf("ordType %s requires a positive price", o.OrdType))
			}
		} else if !o.Price.IsZero() {
			messages = append(messages, fmt.Sprintf("ordType %s must not carry a price", o.OrdType))
		}

		if o.OrdType.RequiresStopPx() && !o.StopPx.IsPositive() {
			messages = append(messages, fmt.Sprintf("ordType %s requires a positive stopPx", o.OrdType))
		}

		if len(messages) > 0 {
			return Invalid(messages...)
		}

		return Valid()
	})
}

// CumQtyRule checks the fill accounting invariant: 0 <= cumQty <= orderQty
// and leavesQty = orderQty - cumQty. On replacements this is what forces the
// new orderQty to cover the quantity already executed.
func CumQtyRule() Rule[domain.Order] {
	return NewRule(RuleNameCumQty, func(o domain.Order) Result {
		var messages []string

		if o.CumQty.IsNegative() {
			messages = append(messages, fmt.Sprintf("cumQty %s must not be negative", o.CumQty))
		}

		if o.CumQty.GreaterThan(o.OrderQty) {
			messages = append(messages, fmt.Sprintf("cumQty %s exceeds orderQty %s", o.CumQty, o.OrderQty))
		}

		if expected := o.OrderQty.Sub(o.CumQty); !o.LeavesQty.Equal(expected) {
			messages = append(messages, fmt.Sprintf("leavesQty %s does not equal orderQty - cumQty = %s", o.LeavesQty, expected))
		}

		if len(messages) > 0 {
			return Invalid(messages...)
		}

		return Valid()
	})
}

// ExecutableStateRule checks that the order is in a state that accepts
// executions.
func ExecutableStateRule() Rule[domain.Order] {
	return NewRule(RuleNameExecutableState, func(o domain.Order) Result {
		if !o.State.IsExecutable() {
			return Invalid(fmt.Sprintf("state %s does not accept executions", o.State))
		}

		return Valid()
	})
}

// OrderRules returns the standard catalog applied to every inbound order,
// in evaluation order. Asset-class extensions from a Rulebook append to it.
func OrderRules(maxQty decimal.Decimal) []Rule[domain.Order] {
	return []Rule[domain.Order]{
		RequiredFieldsRule(),
		QuantityRule(maxQty),
		PriceRule(),
		CumQtyRule(),
	}
}
