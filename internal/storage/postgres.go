package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"petitions/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

// Migrate applies the embedded schema files in name order. Every file is
// idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := r.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

const txColumns = `id, action, key, tx_id, status, kind, message, attempts, created_at, updated_at`

// SaveTransaction inserts a journal row, or replaces the mutable fields of
// an existing one
func (r *PostgresRepository) SaveTransaction(ctx context.Context, rec *models.TxRecord) error {
	query := `
		INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tx_id = EXCLUDED.tx_id,
			status = EXCLUDED.status,
			kind = EXCLUDED.kind,
			message = EXCLUDED.message,
			attempts = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Action,
		rec.Key,
		rec.TxID,
		rec.Status,
		rec.Kind,
		rec.Message,
		rec.Attempts,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	return nil
}

// UpdateTransactionStatus moves a journal row to a new status
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, id string, upd StatusUpdate) error {
	query := `
		UPDATE transactions SET
			tx_id = CASE WHEN $2 = '' THEN tx_id ELSE $2 END,
			status = $3,
			kind = $4,
			message = $5,
			attempts = attempts + $6,
			updated_at = NOW()
		WHERE id = $1
	`

	bump := 0
	if upd.Attempt {
		bump = 1
	}

	tag, err := r.pool.Exec(ctx, query, id, upd.TxID, upd.Status, upd.Kind, upd.Message, bump)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// GetTransaction retrieves a journal row by id
func (r *PostgresRepository) GetTransaction(ctx context.Context, id string) (*models.TxRecord, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetTransactionByTxID retrieves the journal row of a submitted transaction
func (r *PostgresRepository) GetTransactionByTxID(ctx context.Context, txID string) (*models.TxRecord, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE tx_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, txID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*models.TxRecord, error) {
	rec, err := scanTransaction(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return rec, nil
}

// ListTransactionsByStatus lists journal rows in one status, oldest first
func (r *PostgresRepository) ListTransactionsByStatus(ctx context.Context, status string, limit int) ([]*models.TxRecord, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var records []*models.TxRecord

	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return records, nil
}

func scanTransaction(row pgx.Row) (*models.TxRecord, error) {
	var rec models.TxRecord
	err := row.Scan(
		&rec.ID,
		&rec.Action,
		&rec.Key,
		&rec.TxID,
		&rec.Status,
		&rec.Kind,
		&rec.Message,
		&rec.Attempts,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ping checks if the database connection is alive
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
