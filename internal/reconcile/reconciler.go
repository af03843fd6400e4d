package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"petitions/internal/metrics"
	"petitions/internal/models"
	"petitions/internal/petition"
	"petitions/internal/retry"
	"petitions/internal/storage"
	"petitions/internal/txflow"
)

const (
	// ReconciledMessage is stored when a timed-out action shows up on chain
	ReconciledMessage = "Confirmed on chain after the confirmation window."
	// UnverifiedMessage is stored when retries ran out
	UnverifiedMessage = "Could not confirm this action on chain. Check the petition before trying again."

	queueSize   = 64
	workers     = 4
	resumeBatch = 100
)

var errNotVisible = errors.New("action not visible on chain yet")

// Source is the read side used to look for a timed-out action's effect
type Source interface {
	GetOne(ctx context.Context, identifier string) (*models.Petition, error)
	GetAll(ctx context.Context) ([]*models.Petition, error)
}

// Invalidator refreshes cached petition lists once an action is confirmed
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Reconciler re-checks actions whose confirming event never arrived and
// settles their journal rows as reconciled or unverified
type Reconciler struct {
	repo        storage.Repository
	source      Source
	invalidator Invalidator
	strategy    retry.Strategy
	logger      *zap.Logger

	queue   chan *models.TxRecord
	mu      sync.Mutex
	running bool
}

// New creates a Reconciler. invalidator may be nil.
func New(repo storage.Repository, source Source, invalidator Invalidator, strategy retry.Strategy, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strategy == nil {
		strategy = retry.NewNoRetryStrategy()
	}
	return &Reconciler{
		repo:        repo,
		source:      source,
		invalidator: invalidator,
		strategy:    strategy,
		logger:      logger.Named("reconcile"),
		queue:       make(chan *models.TxRecord, queueSize),
	}
}

// Enqueue hands a timed-out record to the background workers. It returns
// false when the queue is full; the row stays timed_out and is picked up
// on the next start.
func (r *Reconciler) Enqueue(rec *models.TxRecord) bool {
	select {
	case r.queue <- rec:
		return true
	default:
		r.logger.Warn("Reconcile queue full, leaving row for next start",
			zap.String("id", rec.ID))
		return false
	}
}

// Run processes queued records until ctx is done. When resume is set, rows
// left timed_out by a previous run are queued first.
func (r *Reconciler) Run(ctx context.Context, resume bool) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if resume {
		if err := r.resume(ctx); err != nil {
			r.logger.Error("Failed to load timed out transactions", zap.Error(err))
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-r.queue:
			g.Go(func() error {
				_, _ = r.Reconcile(ctx, rec)
				return nil
			})
		}
	}
}

func (r *Reconciler) resume(ctx context.Context) error {
	rows, err := r.repo.ListTransactionsByStatus(ctx, string(txflow.TimedOut), resumeBatch)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		r.logger.Info("Resuming timed out transactions", zap.Int("count", len(rows)))
	}
	for _, rec := range rows {
		if !r.Enqueue(rec) {
			break
		}
	}
	return nil
}

// Reconcile checks one record with the retry strategy and stores the
// settled status. A cancelled ctx leaves the row untouched.
func (r *Reconciler) Reconcile(ctx context.Context, rec *models.TxRecord) (string, error) {
	logger := r.logger.With(
		zap.String("id", rec.ID),
		zap.String("action", rec.Action),
		zap.String("tx", rec.TxID))

	err := r.strategy.Execute(ctx, func() error {
		found, err := r.check(ctx, rec)
		if err != nil {
			return err
		}
		if !found {
			return retry.Retryable(errNotVisible)
		}
		return nil
	})

	if ctx.Err() != nil {
		logger.Debug("Reconcile interrupted", zap.Error(ctx.Err()))
		return "", ctx.Err()
	}

	status, msg := models.TxReconciled, ReconciledMessage
	if err != nil {
		status, msg = models.TxUnverified, UnverifiedMessage
	}

	// use a fresh context so the settle is not lost to the caller's deadline
	if uerr := r.repo.UpdateTransactionStatus(context.WithoutCancel(ctx), rec.ID, storage.StatusUpdate{
		Status:  status,
		Message: msg,
		Attempt: true,
	}); uerr != nil {
		logger.Error("Failed to store reconcile result", zap.Error(uerr))
		metrics.ErrorsTotal.WithLabelValues("reconcile").Inc()
		return status, uerr
	}

	metrics.ReconcileResults.WithLabelValues(status).Inc()
	if status == models.TxReconciled {
		logger.Info("Timed out action confirmed")
		if r.invalidator != nil {
			if ierr := r.invalidator.Invalidate(ctx); ierr != nil {
				logger.Warn("Cache refresh after reconcile failed", zap.Error(ierr))
			}
		}
	} else {
		logger.Warn("Timed out action unverified", zap.Error(err))
	}

	return status, nil
}

// check reports whether the action's effect is visible on chain
func (r *Reconciler) check(ctx context.Context, rec *models.TxRecord) (bool, error) {
	switch rec.Action {
	case models.ActionSign:
		p, err := r.source.GetOne(ctx, rec.Key)
		if errors.Is(err, petition.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return p.HasSigned, nil

	case models.ActionCreate:
		all, err := r.source.GetAll(ctx)
		if err != nil {
			return false, err
		}
		for _, p := range all {
			if strings.EqualFold(p.MetadataURI, rec.Key) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown action %q", rec.Action)
	}
}
