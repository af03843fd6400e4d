package chain

import (
	"context"
	"errors"
	"strings"
)

// ErrNoData is returned when a read succeeds at the transport level but the
// node hands back an empty payload. Some backends do this for a legitimate
// empty result set, so callers treat it as "no rows".
var ErrNoData = errors.New("contract call returned no data")

// ErrReadOnly is returned by writes when no signer key is configured
var ErrReadOnly = errors.New("chain client is read-only")

// Client is the blockchain capability the petition core depends on
type Client interface {
	// ReadContract calls a view function and returns its decoded outputs
	ReadContract(ctx context.Context, fn string, args ...any) ([]any, error)

	// WriteContract signs and submits a transaction, returning its hash
	WriteContract(ctx context.Context, fn string, args ...any) (string, error)

	// WaitForReceipt blocks until the transaction is mined
	WaitForReceipt(ctx context.Context, txID string) (*Receipt, error)

	// WatchEvent streams decoded logs of one event type to onLog until the
	// returned func is called or ctx ends. onLog may be called from another
	// goroutine and may see the same log twice.
	WatchEvent(ctx context.Context, req WatchRequest, onLog func(Log)) (func(), error)
}

// Receipt is the mined outcome of a transaction
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Reverted    bool
}

// WatchRequest selects the logs delivered by WatchEvent
type WatchRequest struct {
	Event     string
	FromBlock uint64
}

// Log is a decoded contract event
type Log struct {
	Event       string         `json:"event"`
	TxHash      string         `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	Index       uint           `json:"logIndex"`
	Fields      map[string]any `json:"fields"`
}

// IsNoData reports whether err means "empty result" rather than a failure
func IsNoData(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoData) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "returned no data") ||
		strings.Contains(msg, "no contract code at given address") ||
		strings.Contains(msg, "attempting to unmarshal an empty string")
}
