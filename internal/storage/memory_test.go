package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"petitions/internal/models"
)

func record(id, status string, created time.Time) *models.TxRecord {
	return &models.TxRecord{
		ID:        id,
		Action:    "sign",
		Key:       "0xabc",
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.SaveTransaction(ctx, record("a", "submitted", base)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "a")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.Status != "submitted" || got.Key != "0xabc" {
		t.Errorf("Unexpected record: %+v", got)
	}

	// returned rows are copies
	got.Status = "mutated"
	again, _ := repo.GetTransaction(ctx, "a")
	if again.Status != "submitted" {
		t.Error("Caller mutated stored row")
	}

	// saving again keeps identity fields
	upd := record("a", "succeeded", base.Add(time.Hour))
	upd.Action = "create"
	_ = repo.SaveTransaction(ctx, upd)
	again, _ = repo.GetTransaction(ctx, "a")
	if again.Action != "sign" || !again.CreatedAt.Equal(base) || again.Status != "succeeded" {
		t.Errorf("Unexpected record after resave: %+v", again)
	}

	if _, err := repo.GetTransaction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
	if err := repo.SaveTransaction(ctx, &models.TxRecord{}); err == nil {
		t.Error("Expected error for empty id")
	}
}

func TestMemoryRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.SaveTransaction(ctx, record("a", "submitted", time.Now()))

	err := repo.UpdateTransactionStatus(ctx, "a", StatusUpdate{TxID: "0xtx", Status: "timed_out", Attempt: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	err = repo.UpdateTransactionStatus(ctx, "a", StatusUpdate{Status: models.TxReconciled, Attempt: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got, _ := repo.GetTransaction(ctx, "a")
	if got.TxID != "0xtx" || got.Status != models.TxReconciled || got.Attempts != 2 {
		t.Errorf("Unexpected record: %+v", got)
	}

	byTx, err := repo.GetTransactionByTxID(ctx, "0xtx")
	if err != nil || byTx.ID != "a" {
		t.Errorf("Expected lookup by tx id, got: %+v, %v", byTx, err)
	}

	if err := repo.UpdateTransactionStatus(ctx, "missing", StatusUpdate{Status: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryRepository_ListByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_ = repo.SaveTransaction(ctx, record("c", "timed_out", base.Add(2*time.Minute)))
	_ = repo.SaveTransaction(ctx, record("a", "timed_out", base))
	_ = repo.SaveTransaction(ctx, record("b", "succeeded", base.Add(time.Minute)))
	_ = repo.SaveTransaction(ctx, record("d", "timed_out", base.Add(3*time.Minute)))

	tests := []struct {
		status string
		limit  int
		want   []string
	}{
		{"timed_out", 0, []string{"a", "c", "d"}},
		{"timed_out", 2, []string{"a", "c"}},
		{"succeeded", 10, []string{"b"}},
		{"failed", 10, nil},
	}

	for _, tt := range tests {
		got, err := repo.ListTransactionsByStatus(ctx, tt.status, tt.limit)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s/%d: expected %v, got %d rows", tt.status, tt.limit, tt.want, len(got))
			continue
		}
		for i, id := range tt.want {
			if got[i].ID != id {
				t.Errorf("%s/%d: row %d = %s, expected %s", tt.status, tt.limit, i, got[i].ID, id)
			}
		}
	}
}
