package cache

import (
	"context"
	"sync"

	"petitions/internal/failure"
	"petitions/internal/metrics"
	"petitions/internal/models"

	"go.uber.org/zap"
)

// Loader is the read side the cache refreshes from
type Loader interface {
	GetAll(ctx context.Context) ([]*models.Petition, error)
	GetByCategory(ctx context.Context, category int) ([]*models.Petition, error)
}

// State is the observable cache content
type State struct {
	Items     []*models.Petition `json:"items"`
	Loading   bool               `json:"loading"`
	Error     string             `json:"error,omitempty"`
	ErrorKind failure.Kind       `json:"errorKind,omitempty"`
	// Category is the category Items were loaded for, nil for all
	Category *int `json:"category,omitempty"`
}

// PetitionCache holds the last loaded petition list. Overlapping refreshes
// are resolved by generation: only the most recently requested refresh may
// write its result, older responses are discarded.
type PetitionCache struct {
	loader Loader
	logger *zap.Logger

	mu         sync.Mutex
	notifyMu   sync.Mutex // orders subscriber calls, taken after mu
	state      State
	generation uint64
	last       *int // category of the last requested refresh
	subs       map[uint64]func(State)
	nextSub    uint64
}

// New creates an empty cache
func New(loader Loader, logger *zap.Logger) *PetitionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PetitionCache{
		loader: loader,
		logger: logger.Named("cache"),
		state:  State{Items: []*models.Petition{}},
		subs:   make(map[uint64]func(State)),
	}
}

// Refresh reloads every petition
func (c *PetitionCache) Refresh(ctx context.Context) error {
	return c.refresh(ctx, nil)
}

// RefreshByCategory reloads one category
func (c *PetitionCache) RefreshByCategory(ctx context.Context, category int) error {
	return c.refresh(ctx, &category)
}

// Invalidate repeats the last requested kind of refresh
func (c *PetitionCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	if last != nil {
		return c.RefreshByCategory(ctx, *last)
	}
	return c.Refresh(ctx)
}

// Snapshot returns a copy of the current state
func (c *PetitionCache) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every state change and returns its cancel
// func. fn receives its own copy of the state and must not call back into
// the cache.
func (c *PetitionCache) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *PetitionCache) refresh(ctx context.Context, category *int) error {
	kind := "all"
	if category != nil {
		kind = "category"
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.last = category
	c.state.Loading = true
	c.publishLocked()

	var (
		items []*models.Petition
		err   error
	)

	if category != nil {
		items, err = c.loader.GetByCategory(ctx, *category)
	} else {
		items, err = c.loader.GetAll(ctx)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		metrics.CacheStaleDiscarded.Inc()
		c.logger.Debug("Discarding stale refresh", zap.Uint64("generation", gen))
		return err
	}

	c.state.Loading = false
	c.state.Category = category
	if err != nil {
		cl := failure.Classify(err)
		c.state.Items = []*models.Petition{}
		c.state.Error = cl.Message
		c.state.ErrorKind = cl.Kind
		metrics.CacheRefreshes.WithLabelValues(kind, "error").Inc()
		c.logger.Warn("Refresh failed", zap.String("kind", kind), zap.Error(err))
	} else {
		if items == nil {
			items = []*models.Petition{}
		}
		c.state.Items = items
		c.state.Error = ""
		c.state.ErrorKind = ""
		metrics.CacheRefreshes.WithLabelValues(kind, "ok").Inc()
	}
	metrics.CachedPetitions.Set(float64(len(c.state.Items)))
	c.publishLocked()

	return err
}

// publishLocked releases mu and calls every subscriber with the state as
// of the call. Subscribers are called in state order and must not call
// back into the cache.
func (c *PetitionCache) publishLocked() {
	snap := c.snapshotLocked()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *PetitionCache) snapshotLocked() State {
	s := c.state
	s.Items = append([]*models.Petition(nil), c.state.Items...)
	if c.state.Category != nil {
		cat := *c.state.Category
		s.Category = &cat
	}
	return s
}
