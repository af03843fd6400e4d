// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"petitions/internal/chain"
)

// ReadFunc answers a contract read
type ReadFunc func(args ...any) ([]any, error)

// Fake is a scriptable chain.Client
type Fake struct {
	mu sync.Mutex

	reads    map[string]ReadFunc
	readLog  []string
	writes   []Call
	watchers map[string][]*watcher

	// WriteFunc answers writes. Defaults to returning sequential hashes.
	WriteFunc func(fn string, args ...any) (string, error)

	// ReceiptFunc answers receipt waits. Defaults to a mined, non-reverted
	// receipt at block 1.
	ReceiptFunc func(ctx context.Context, txID string) (*chain.Receipt, error)

	// WatchErr, when set, is returned by WatchEvent
	WatchErr error

	// Watching receives every registered WatchRequest
	Watching chan chain.WatchRequest
}

// Call is a recorded write
type Call struct {
	Function string
	Args     []any
}

type watcher struct {
	req    chain.WatchRequest
	onLog  func(chain.Log)
	closed bool
}

// New returns an empty Fake
func New() *Fake {
	return &Fake{
		reads:    make(map[string]ReadFunc),
		watchers: make(map[string][]*watcher),
		Watching: make(chan chain.WatchRequest, 16),
	}
}

// OnRead registers the answer for a read function
func (f *Fake) OnRead(fn string, r ReadFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[fn] = r
}

// Reads returns the functions read so far, in call order
func (f *Fake) Reads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.readLog...)
}

// Writes returns the recorded writes
func (f *Fake) Writes() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.writes...)
}

// ReadContract implements chain.Client
func (f *Fake) ReadContract(ctx context.Context, fn string, args ...any) ([]any, error) {
	f.mu.Lock()
	f.readLog = append(f.readLog, fn)
	r, ok := f.reads[fn]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", fn, chain.ErrNoData)
	}
	return r(args...)
}

// WriteContract implements chain.Client
func (f *Fake) WriteContract(ctx context.Context, fn string, args ...any) (string, error) {
	f.mu.Lock()
	f.writes = append(f.writes, Call{Function: fn, Args: args})
	n := len(f.writes)
	write := f.WriteFunc
	f.mu.Unlock()

	if write != nil {
		return write(fn, args...)
	}
	return fmt.Sprintf("0x%064x", n), nil
}

// WaitForReceipt implements chain.Client
func (f *Fake) WaitForReceipt(ctx context.Context, txID string) (*chain.Receipt, error) {
	if f.ReceiptFunc != nil {
		return f.ReceiptFunc(ctx, txID)
	}
	return &chain.Receipt{TxHash: txID, BlockNumber: 1}, nil
}

// WatchEvent implements chain.Client
func (f *Fake) WatchEvent(ctx context.Context, req chain.WatchRequest, onLog func(chain.Log)) (func(), error) {
	if f.WatchErr != nil {
		return nil, f.WatchErr
	}
	w := &watcher{req: req, onLog: onLog}

	f.mu.Lock()
	f.watchers[req.Event] = append(f.watchers[req.Event], w)
	f.mu.Unlock()

	select {
	case f.Watching <- req:
	default:
	}

	return func() {
		f.mu.Lock()
		w.closed = true
		f.mu.Unlock()
	}, nil
}

// Emit delivers l to every open watcher of l.Event
func (f *Fake) Emit(l chain.Log) {
	f.mu.Lock()
	var targets []*watcher
	for _, w := range f.watchers[l.Event] {
		if !w.closed && l.BlockNumber >= w.req.FromBlock {
			targets = append(targets, w)
		}
	}
	f.mu.Unlock()

	for _, w := range targets {
		w.onLog(l)
	}
}

// OpenWatchers counts watchers of event that are still subscribed
func (f *Fake) OpenWatchers(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.watchers[event] {
		if !w.closed {
			n++
		}
	}
	return n
}

// Returns is a ReadFunc that always answers values
func Returns(values ...any) ReadFunc {
	return func(...any) ([]any, error) { return values, nil }
}

// Fails is a ReadFunc that always fails with err
func Fails(err error) ReadFunc {
	return func(...any) ([]any, error) { return nil, err }
}

// ErrBoom is a generic failure for tests
var ErrBoom = errors.New("boom")

var _ chain.Client = (*Fake)(nil)
