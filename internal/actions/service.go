package actions

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"petitions/internal/chain"
	"petitions/internal/metrics"
	"petitions/internal/models"
	"petitions/internal/storage"
	"petitions/internal/txflow"
	"petitions/internal/upload"
)

// ErrActionInFlight is returned when the same action is already running
var ErrActionInFlight = errors.New("action already in progress")

const (
	CreatedMessage = "Petition created successfully!"
	SignedMessage  = "Petition signed successfully!"
)

// Runner runs one orchestrated write
type Runner interface {
	Run(ctx context.Context, req txflow.Request) txflow.TxState
}

// Preparer pins a draft before creation
type Preparer interface {
	Prepare(ctx context.Context, d *upload.Draft, progress upload.ProgressFunc) (*upload.Prepared, error)
}

// RawReader resolves a petition identifier to its on-chain record
type RawReader interface {
	Raw(ctx context.Context, identifier string) (models.RawPetition, error)
}

// Invalidator refreshes cached lists after a confirmed write
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Reconciler takes over actions that timed out
type Reconciler interface {
	Enqueue(rec *models.TxRecord) bool
}

// Outcome is the result of one action
type Outcome struct {
	// ID is the journal row id
	ID string `json:"id"`
	txflow.TxState
	PetitionID string `json:"petitionId,omitempty"`
	TokenID    string `json:"tokenId,omitempty"`
}

// Deps are the collaborators of a Service
type Deps struct {
	Runner     Runner
	Preparer   Preparer
	Reader     RawReader
	Journal    storage.Repository
	Cache      Invalidator
	Reconciler Reconciler
	// Sender is the signing address, used as the draft creator
	Sender string
	Clock  clock.Clock
	Logger *zap.Logger
}

// Service runs the user-facing write actions
type Service struct {
	Deps

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService creates a Service. Cache and Reconciler may be nil.
func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("actions")
	return &Service{Deps: deps, inFlight: make(map[string]struct{})}
}

// CreatePetition pins the draft and creates the petition on chain
func (s *Service) CreatePetition(ctx context.Context, d *upload.Draft, progress upload.ProgressFunc) (*Outcome, error) {
	if d.Creator == "" {
		d.Creator = s.Sender
	}

	key := "create:" + strings.ToLower(d.Creator) + ":" + strings.ToLower(strings.TrimSpace(d.Title))
	release, err := s.acquire(key)
	if err != nil {
		return nil, err
	}
	defer release()

	var metadataURI string
	req := txflow.Request{
		Action:   models.ActionCreate,
		Function: chain.FnCreatePetition,
		Event:    chain.EventPetitionCreated,
		Prepare: func(ctx context.Context) ([]any, error) {
			prepared, err := s.Preparer.Prepare(ctx, d, progress)
			if err != nil {
				return nil, err
			}
			metadataURI = prepared.MetadataURI
			return prepared.Args(d), nil
		},
		Match: func(l chain.Log) bool {
			uri, _ := l.Fields["metadataURI"].(string)
			return uri == metadataURI
		},
		SuccessMessage: CreatedMessage,
	}

	return s.run(ctx, req, func() string { return metadataURI }), nil
}

// SignPetition signs the petition identified by a bytes32 id or token id
func (s *Service) SignPetition(ctx context.Context, identifier, message string) (*Outcome, error) {
	raw, err := s.Reader.Raw(ctx, identifier)
	if err != nil {
		return nil, err
	}
	id := common.Hash(raw.ID).Hex()

	release, err := s.acquire("sign:" + id)
	if err != nil {
		return nil, err
	}
	defer release()

	tokenID := raw.TokenID
	if tokenID == nil {
		tokenID = new(big.Int)
	}

	req := txflow.Request{
		Action:   models.ActionSign,
		Function: chain.FnSignPetition,
		Args:     []any{tokenID, message},
		Event:    chain.EventPetitionSigned,
		Match: func(l chain.Log) bool {
			got, ok := l.Fields["petitionId"].([32]byte)
			return ok && got == raw.ID
		},
		SuccessMessage: SignedMessage,
	}

	return s.run(ctx, req, func() string { return id }), nil
}

// run executes req, journals every step after submission and the final
// state, then hands off follow-up work
func (s *Service) run(ctx context.Context, req txflow.Request, key func() string) *Outcome {
	now := s.Clock.Now()
	rec := &models.TxRecord{
		ID:        uuid.NewString(),
		Action:    req.Action,
		CreatedAt: now,
		UpdatedAt: now,
	}
	logger := s.Logger.With(zap.String("id", rec.ID), zap.String("action", req.Action))
	saved := false

	req.Observe = func(st txflow.TxState) {
		if st.Status != txflow.Submitted {
			return
		}
		rec.Key = key()
		rec.TxID = st.TxID
		rec.Status = string(st.Status)
		if err := s.Journal.SaveTransaction(ctx, rec); err != nil {
			logger.Error("Failed to journal submission", zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("journal").Inc()
			return
		}
		saved = true
	}

	final := s.Runner.Run(ctx, req)

	rec.Key = key()
	rec.TxID = final.TxID
	rec.Status = string(final.Status)
	rec.Kind = string(final.Kind)
	rec.Message = final.Message
	rec.UpdatedAt = s.Clock.Now()

	// the caller may have given up, the journal row still has to land
	jctx := context.WithoutCancel(ctx)
	var err error
	if saved {
		err = s.Journal.UpdateTransactionStatus(jctx, rec.ID, storage.StatusUpdate{
			TxID:    rec.TxID,
			Status:  rec.Status,
			Kind:    rec.Kind,
			Message: rec.Message,
		})
	} else {
		err = s.Journal.SaveTransaction(jctx, rec)
	}
	if err != nil {
		logger.Error("Failed to journal outcome", zap.Error(err))
		metrics.ErrorsTotal.WithLabelValues("journal").Inc()
	}

	out := &Outcome{ID: rec.ID, TxState: final}
	if final.Event != nil {
		if id, ok := final.Event.Fields["petitionId"].([32]byte); ok {
			out.PetitionID = common.Hash(id).Hex()
		}
		if tok, ok := final.Event.Fields["tokenId"].(*big.Int); ok {
			out.TokenID = tok.String()
		}
	}

	switch final.Status {
	case txflow.Succeeded:
		if s.Cache != nil {
			if err := s.Cache.Invalidate(jctx); err != nil {
				logger.Warn("Cache refresh after write failed", zap.Error(err))
			}
		}
	case txflow.TimedOut:
		if s.Reconciler != nil {
			s.Reconciler.Enqueue(rec)
		}
	}

	logger.Info("Action finished",
		zap.String("status", rec.Status),
		zap.String("kind", rec.Kind),
		zap.String("tx", rec.TxID))
	return out
}

// acquire marks key busy and returns its release func
func (s *Service) acquire(key string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return nil, ErrActionInFlight
	}
	s.inFlight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}, nil
}
