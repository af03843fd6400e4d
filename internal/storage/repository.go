package storage

import (
	"context"
	"errors"

	"petitions/internal/models"
)

// ErrNotFound is returned when a journal row does not exist
var ErrNotFound = errors.New("transaction not found")

// StatusUpdate carries the fields UpdateTransactionStatus changes
type StatusUpdate struct {
	TxID    string
	Status  string
	Kind    string
	Message string
	// Attempt bumps the attempt counter when set
	Attempt bool
}

// Repository defines the interface for the transaction journal
type Repository interface {
	// Transactions
	SaveTransaction(ctx context.Context, rec *models.TxRecord) error
	UpdateTransactionStatus(ctx context.Context, id string, upd StatusUpdate) error
	GetTransaction(ctx context.Context, id string) (*models.TxRecord, error)
	GetTransactionByTxID(ctx context.Context, txID string) (*models.TxRecord, error)
	ListTransactionsByStatus(ctx context.Context, status string, limit int) ([]*models.TxRecord, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
