package txflow

import (
	"time"

	"petitions/internal/chain"
	"petitions/internal/failure"
)

// Status is a transaction lifecycle state
type Status string

const (
	Idle              Status = "idle"
	Preparing         Status = "preparing"
	Submitted         Status = "submitted"
	AwaitingEvent     Status = "awaiting_event"
	Succeeded         Status = "succeeded"
	Failed            Status = "failed"
	TimedOut          Status = "timed_out"
	PreparationFailed Status = "preparation_failed"
)

// Terminal reports whether no further transition follows s
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, TimedOut, PreparationFailed:
		return true
	}
	return false
}

// TimedOutMessage is shown when a mined transaction could not be verified
// by its event in time. It is not a failure.
const TimedOutMessage = "Transaction confirmed, but the update could not be verified yet. It may take a moment to appear."

// DefaultSuccessMessage is used when a Request sets none
const DefaultSuccessMessage = "Transaction confirmed."

// TxState is one observable step of an orchestrated action
type TxState struct {
	Action   string       `json:"action"`
	Status   Status       `json:"status"`
	TxID     string       `json:"txId,omitempty"`
	Deadline time.Time    `json:"deadline,omitempty"`
	Event    *chain.Log   `json:"event,omitempty"`
	Kind     failure.Kind `json:"kind,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Observer receives every transition, in order
type Observer func(TxState)
