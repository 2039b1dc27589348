package command

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const correlationIDBytes = 8

// NewCorrelationID returns a 16-hex-char random id that ties one command to
// its log lines, events and problem envelope. Commands arriving with an id
// keep it; this is the fallback for bare submissions.
func NewCorrelationID() string {
	buf := make([]byte, correlationIDBytes)

	if _, err := rand.Read(buf); err != nil {
		// Out of entropy is no reason to reject an order.
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}

	return hex.EncodeToString(buf)
}
