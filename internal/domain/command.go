package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidCommand indicates a command envelope that fails shape validation.
var ErrInvalidCommand = errors.New("invalid command")

type (
	// CommandKind names the intent of a command.
	CommandKind string

	// Command is the transport-agnostic inbound envelope. Transports
	// deserialize into it and hand it to the dispatcher; the core never sees
	// the transport. Kind-specific payload fields are flat with omitempty so
	// the same envelope serializes compactly for every kind.
	Command struct {
		Kind          CommandKind `json:"kind"`
		CorrelationID string      `json:"correlationId,omitempty"`
		SessionID     string      `json:"sessionId"`
		ClOrdID       string      `json:"clOrdId,omitempty"`
		OrderID       string      `json:"orderId,omitempty"`
		OrigClOrdID   string      `json:"origClOrdId,omitempty"`
		Deadline      *time.Time  `json:"deadline,omitempty"`

		// CREATE and REPLACE payload.
		Symbol       string          `json:"symbol,omitempty"`
		Side         Side            `json:"side,omitempty"`
		OrdType      OrdType         `json:"ordType,omitempty"`
		AssetClass   AssetClass      `json:"assetClass,omitempty"`
		Account      string          `json:"account,omitempty"`
		ParentOrder  string          `json:"parentOrderId,omitempty"`
		OrderQty     decimal.Decimal `json:"orderQty,omitempty"`
		Price        decimal.Decimal `json:"price,omitempty"`
		StopPx       decimal.Decimal `json:"stopPx,omitempty"`
		PlaceQty     decimal.Decimal `json:"placeQty,omitempty"`
		AllocQty     decimal.Decimal `json:"allocQty,omitempty"`
		CashOrderQty decimal.Decimal `json:"cashOrderQty,omitempty"`

		// EXECUTE payload.
		ExecID       string          `json:"execId,omitempty"`
		LastQty      decimal.Decimal `json:"lastQty,omitempty"`
		LastPx       decimal.Decimal `json:"lastPx,omitempty"`
		TransactTime *time.Time      `json:"transactTime,omitempty"`

		// CANCEL, REJECT and EXPIRE payload.
		Reason string `json:"reason,omitempty"`
	}
)

// Command kinds.
const (
	CommandCreate  CommandKind = "CREATE"
	CommandAccept  CommandKind = "ACCEPT"
	CommandCancel  CommandKind = "CANCEL"
	CommandReplace CommandKind = "REPLACE"
	CommandExecute CommandKind = "EXECUTE"
	CommandReject  CommandKind = "REJECT"
	CommandExpire  CommandKind = "EXPIRE"
)

// ValidCommandKinds returns all command kinds the core processes.
func ValidCommandKinds() []CommandKind {
	return []CommandKind{
		CommandCreate,
		CommandAccept,
		CommandCancel,
		CommandReplace,
		CommandExecute,
		CommandReject,
		CommandExpire,
	}
}

// IsValid checks if the CommandKind is known.
func (k CommandKind) IsValid() bool {
	for _, valid := range ValidCommandKinds() {
		if k == valid {
			return true
		}
	}

	return false
}

// Validate checks the envelope-level requirements for the command's kind.
// Field-level business rules run later in the validation engine; this only
// guards the shape a transport must deliver. Violations wrap ErrInvalidCommand.
func (c Command) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}

	if c.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidCommand)
	}

	switch c.Kind {
	case CommandCreate:
		if c.ClOrdID == "" {
			return fmt.Errorf("%w: clOrdId is required for CREATE", ErrInvalidCommand)
		}
	case CommandReplace:
		if c.OrderID == "" {
			return fmt.Errorf("%w: orderId is required for REPLACE", ErrInvalidCommand)
		}

		if c.OrigClOrdID == "" {
			return fmt.Errorf("%w: origClOrdId is required for REPLACE", ErrInvalidCommand)
		}

		if c.ClOrdID == "" {
			return fmt.Errorf("%w: clOrdId (replacement) is required for REPLACE", ErrInvalidCommand)
		}
	case CommandCancel:
		if c.OrderID == "" {
			return fmt.Errorf("%w: orderId is required for CANCEL", ErrInvalidCommand)
		}

		if c.OrigClOrdID == "" {
			return fmt.Errorf("%w: origClOrdId is required for CANCEL", ErrInvalidCommand)
		}
	case CommandExecute:
		if c.OrderID == "" {
			return fmt.Errorf("%w: orderId is required for EXECUTE", ErrInvalidCommand)
		}

		if c.ExecID == "" {
			return fmt.Errorf("%w: execId is required for EXECUTE", ErrInvalidCommand)
		}
	case CommandAccept, CommandReject, CommandExpire:
		if c.OrderID == "" {
			return fmt.Errorf("%w: orderId is required for %s", ErrInvalidCommand, c.Kind)
		}
	}

	return nil
}

// Execution builds the Execution carried by an EXECUTE command.
func (c Command) Execution() Execution {
	transactTime := time.Time{}
	if c.TransactTime != nil {
		transactTime = *c.TransactTime
	}

	return Execution{
		ExecID:       c.ExecID,
		OrderID:      c.OrderID,
		LastQty:      RoundQty(c.LastQty),
		LastPx:       RoundPx(c.LastPx),
		TransactTime: transactTime,
	}
}
