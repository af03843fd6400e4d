package models

import "time"

// Journaled actions
const (
	ActionCreate = "create"
	ActionSign   = "sign"
)

// Journal statuses added after an action left its orchestrated flow
const (
	TxReconciled = "reconciled"
	TxUnverified = "unverified"
)

// TxRecord is one journaled write action
type TxRecord struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	// Key identifies what the action targets: the petition id for a
	// signature, the metadata URI for a creation
	Key       string    `json:"key"`
	TxID      string    `json:"txId,omitempty"`
	Status    string    `json:"status"`
	Kind      string    `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
