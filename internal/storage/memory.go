package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"petitions/internal/models"
)

// MemoryRepository keeps the journal in process. It is used when no
// database is configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]models.TxRecord
	now  func() time.Time
}

// NewMemoryRepository creates an empty journal
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows: make(map[string]models.TxRecord),
		now:  time.Now,
	}
}

// SaveTransaction implements Repository
func (r *MemoryRepository) SaveTransaction(ctx context.Context, rec *models.TxRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("failed to save transaction: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row := *rec
	if old, ok := r.rows[rec.ID]; ok {
		row.Action, row.Key, row.CreatedAt = old.Action, old.Key, old.CreatedAt
	}
	r.rows[rec.ID] = row
	return nil
}

// UpdateTransactionStatus implements Repository
func (r *MemoryRepository) UpdateTransactionStatus(ctx context.Context, id string, upd StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if upd.TxID != "" {
		row.TxID = upd.TxID
	}
	row.Status = upd.Status
	row.Kind = upd.Kind
	row.Message = upd.Message
	if upd.Attempt {
		row.Attempts++
	}
	row.UpdatedAt = r.now()
	r.rows[id] = row
	return nil
}

// GetTransaction implements Repository
func (r *MemoryRepository) GetTransaction(ctx context.Context, id string) (*models.TxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &row, nil
}

// GetTransactionByTxID implements Repository
func (r *MemoryRepository) GetTransactionByTxID(ctx context.Context, txID string) (*models.TxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *models.TxRecord
	for _, row := range r.rows {
		if txID == "" || row.TxID != txID {
			continue
		}
		if found == nil || row.CreatedAt.After(found.CreatedAt) {
			row := row
			found = &row
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txID)
	}
	return found, nil
}

// ListTransactionsByStatus implements Repository
func (r *MemoryRepository) ListTransactionsByStatus(ctx context.Context, status string, limit int) ([]*models.TxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.TxRecord
	for _, row := range r.rows {
		if row.Status == status {
			row := row
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements Repository
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close implements Repository
func (r *MemoryRepository) Close() error {
	return nil
}
