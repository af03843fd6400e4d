package txflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"petitions/internal/chain"
	"petitions/internal/failure"
	"petitions/internal/metrics"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultEventTimeout bounds the wait for the confirming event
const DefaultEventTimeout = 30 * time.Second

// PrepareFunc runs before submission and returns arguments appended to
// Request.Args. Failures end the flow in PreparationFailed.
type PrepareFunc func(ctx context.Context) ([]any, error)

// Request describes one user action
type Request struct {
	Action   string
	Function string
	Args     []any
	// Event is the contract event that confirms the action
	Event   string
	Prepare PrepareFunc
	// Match optionally narrows which event logs confirm the action, on top
	// of the transaction hash match
	Match          func(chain.Log) bool
	SuccessMessage string
	Observe        Observer
}

// Options configures an Orchestrator
type Options struct {
	Timeout    time.Duration
	Clock      clock.Clock
	Classifier failure.Classifier
	Logger     *zap.Logger
}

// Orchestrator drives submit, receipt, event verification and timeout for
// one write at a time per Run call. It does not serialize concurrent Runs.
type Orchestrator struct {
	client     chain.Client
	timeout    time.Duration
	clock      clock.Clock
	classifier failure.Classifier
	logger     *zap.Logger
}

// New creates an Orchestrator
func New(client chain.Client, opts Options) *Orchestrator {
	o := &Orchestrator{
		client:     client,
		timeout:    opts.Timeout,
		clock:      opts.Clock,
		classifier: opts.Classifier,
		logger:     opts.Logger,
	}
	if o.timeout <= 0 {
		o.timeout = DefaultEventTimeout
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.classifier == nil {
		o.classifier = failure.Default
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("txflow")
	return o
}

// Run executes req and returns its terminal state
func (o *Orchestrator) Run(ctx context.Context, req Request) TxState {
	metrics.TxInFlight.Inc()
	defer metrics.TxInFlight.Dec()

	e := &emitter{action: req.Action, observe: req.Observe}
	e.emit(TxState{Status: Idle})

	args := req.Args
	if req.Prepare != nil {
		e.emit(TxState{Status: Preparing})
		extra, err := req.Prepare(ctx)
		if err != nil {
			var prep *failure.PreparationError
			if !errors.As(err, &prep) {
				err = &failure.PreparationError{Step: "prepare", Err: err}
			}
			c := o.classifier.Classify(err)
			o.logger.Warn("Preparation failed", zap.String("action", req.Action), zap.Error(err))
			return o.finish(e, TxState{Status: PreparationFailed, Kind: c.Kind, Message: c.Message})
		}
		args = append(append([]any(nil), args...), extra...)
	}

	txID, err := o.client.WriteContract(ctx, req.Function, args...)
	if err != nil {
		return o.fail(e, "", err)
	}
	e.emit(TxState{Status: Submitted, TxID: txID})

	receipt, err := o.client.WaitForReceipt(ctx, txID)
	if err != nil {
		return o.fail(e, txID, err)
	}
	if receipt.Reverted {
		return o.finish(e, TxState{
			Status:  Failed,
			TxID:    txID,
			Kind:    failure.ContractRejected,
			Message: failure.ContractRejected.Message(),
		})
	}

	matched := make(chan chain.Log, 1)
	unsubscribe, err := o.client.WatchEvent(ctx, chain.WatchRequest{Event: req.Event, FromBlock: receipt.BlockNumber}, func(l chain.Log) {
		if !strings.EqualFold(l.TxHash, txID) {
			return
		}
		if req.Match != nil && !req.Match(l) {
			return
		}
		select {
		case matched <- l:
		default:
		}
	})
	if err != nil {
		return o.fail(e, txID, err)
	}
	defer unsubscribe()

	started := o.clock.Now()
	timer := o.clock.Timer(o.timeout)
	defer timer.Stop()

	e.emit(TxState{Status: AwaitingEvent, TxID: txID, Deadline: started.Add(o.timeout)})

	select {
	case l := <-matched:
		metrics.TxEventWait.Observe(o.clock.Since(started).Seconds())
		msg := req.SuccessMessage
		if msg == "" {
			msg = DefaultSuccessMessage
		}
		return o.finish(e, TxState{Status: Succeeded, TxID: txID, Event: &l, Message: msg})
	case <-timer.C:
	case <-ctx.Done():
	}

	o.logger.Warn("Event not observed before deadline",
		zap.String("action", req.Action),
		zap.String("tx", txID),
		zap.Duration("timeout", o.timeout))
	return o.finish(e, TxState{Status: TimedOut, TxID: txID, Message: TimedOutMessage})
}

func (o *Orchestrator) fail(e *emitter, txID string, err error) TxState {
	c := o.classifier.Classify(err)
	o.logger.Warn("Transaction failed",
		zap.String("action", e.action),
		zap.String("tx", txID),
		zap.String("kind", string(c.Kind)),
		zap.Error(err))
	return o.finish(e, TxState{Status: Failed, TxID: txID, Kind: c.Kind, Message: c.Message})
}

func (o *Orchestrator) finish(e *emitter, s TxState) TxState {
	final := e.terminal(s)
	metrics.TxOutcomes.WithLabelValues(final.Action, string(final.Status), string(final.Kind)).Inc()
	return final
}

// emitter forwards transitions to the observer and lets exactly one
// terminal state through
type emitter struct {
	action  string
	observe Observer

	once  sync.Once
	final TxState
}

func (e *emitter) emit(s TxState) {
	s.Action = e.action
	if e.observe != nil {
		e.observe(s)
	}
}

func (e *emitter) terminal(s TxState) TxState {
	e.once.Do(func() {
		e.emit(s)
		e.final = s
		e.final.Action = e.action
	})
	return e.final
}
