package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"petitions/internal/failure"
	"petitions/internal/models"
)

type result struct {
	items []*models.Petition
	err   error
}

type call struct {
	category *int
	reply    chan result
}

// gatedLoader hands every call to the test, which decides when and how it
// resolves
type gatedLoader struct {
	calls chan call
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{calls: make(chan call, 8)}
}

func (g *gatedLoader) GetAll(ctx context.Context) ([]*models.Petition, error) {
	return g.wait(nil)
}

func (g *gatedLoader) GetByCategory(ctx context.Context, category int) ([]*models.Petition, error) {
	return g.wait(&category)
}

func (g *gatedLoader) wait(category *int) ([]*models.Petition, error) {
	c := call{category: category, reply: make(chan result, 1)}
	g.calls <- c
	r := <-c.reply
	return r.items, r.err
}

func (g *gatedLoader) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("loader was not called")
	}
	return call{}
}

// answer resolves the next call with r
func (g *gatedLoader) answer(r result) {
	c := <-g.calls
	c.reply <- r
}

func petitions(ids ...string) []*models.Petition {
	out := make([]*models.Petition, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.Petition{ID: id})
	}
	return out
}

func ids(s State) []string {
	out := make([]string, 0, len(s.Items))
	for _, p := range s.Items {
		out = append(out, p.ID)
	}
	return out
}

func TestRefresh_LoadingSpansTheCall(t *testing.T) {
	loader := newGatedLoader()
	c := New(loader, nil)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	pending := loader.next(t)
	if !c.Snapshot().Loading {
		t.Error("Expected loading while the refresh is in flight")
	}

	pending.reply <- result{items: petitions("a", "b")}
	if err := <-done; err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	s := c.Snapshot()
	if s.Loading || s.Error != "" || len(s.Items) != 2 {
		t.Errorf("Unexpected state after refresh: %+v", s)
	}
}

func TestRefresh_FailureEmptiesItems(t *testing.T) {
	loader := newGatedLoader()
	c := New(loader, nil)

	go loader.answer(result{items: petitions("a")})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	go loader.answer(result{err: errors.New("dial tcp: connection refused")})
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Expected refresh error")
	}

	s := c.Snapshot()
	if len(s.Items) != 0 {
		t.Errorf("Failed refresh must empty items, got: %v", ids(s))
	}
	if s.Error != failure.NetworkError.Message() || s.ErrorKind != failure.NetworkError || s.Loading {
		t.Errorf("Unexpected error state: %+v", s)
	}

	go loader.answer(result{items: petitions("c")})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("third refresh: %v", err)
	}
	if s := c.Snapshot(); s.Error != "" || len(s.Items) != 1 {
		t.Errorf("Success must clear the error, got: %+v", s)
	}
}

func TestRefresh_LatestRequestWins(t *testing.T) {
	tests := []struct {
		name       string
		olderFirst bool
	}{
		{"older resolves first", true},
		{"newer resolves first", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newGatedLoader()
			c := New(loader, nil)

			doneOld := make(chan error, 1)
			go func() { doneOld <- c.Refresh(context.Background()) }()
			older := loader.next(t)

			doneNew := make(chan error, 1)
			go func() { doneNew <- c.RefreshByCategory(context.Background(), 3) }()
			newer := loader.next(t)

			if tt.olderFirst {
				older.reply <- result{items: petitions("old")}
				<-doneOld
				if s := c.Snapshot(); !s.Loading || len(s.Items) != 0 {
					t.Errorf("Stale response must not land and loading must hold, got: %+v", s)
				}
				newer.reply <- result{items: petitions("new")}
				<-doneNew
			} else {
				newer.reply <- result{items: petitions("new")}
				<-doneNew
				older.reply <- result{items: petitions("old")}
				<-doneOld
			}

			s := c.Snapshot()
			if got := ids(s); len(got) != 1 || got[0] != "new" {
				t.Errorf("Expected newest request to win, got: %v", got)
			}
			if s.Loading {
				t.Error("Expected loading=false once the latest refresh resolved")
			}
			if s.Category == nil || *s.Category != 3 {
				t.Errorf("Expected category 3, got: %v", s.Category)
			}
		})
	}
}

func TestInvalidate_RepeatsLastKind(t *testing.T) {
	loader := newGatedLoader()
	c := New(loader, nil)

	go loader.answer(result{})
	if err := c.RefreshByCategory(context.Background(), 4); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := make(chan *int, 1)
	go func() {
		call := <-loader.calls
		got <- call.category
		call.reply <- result{}
	}()
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if cat := <-got; cat == nil || *cat != 4 {
		t.Errorf("Expected category refresh, got: %v", cat)
	}
}

func TestSubscribe(t *testing.T) {
	loader := newGatedLoader()
	c := New(loader, nil)

	var seen []State
	cancel := c.Subscribe(func(s State) { seen = append(seen, s) })

	go loader.answer(result{items: petitions("a")})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if len(seen) != 2 || !seen[0].Loading || seen[1].Loading || len(seen[1].Items) != 1 {
		t.Fatalf("Expected [loading, loaded] notifications, got: %+v", seen)
	}

	// subscribers get copies
	seen[1].Items[0] = nil
	if c.Snapshot().Items[0] == nil {
		t.Error("Subscriber mutated cache state")
	}

	cancel()
	cancel()
	go loader.answer(result{})
	_ = c.Refresh(context.Background())
	if len(seen) != 2 {
		t.Errorf("Cancelled subscriber still notified: %d", len(seen))
	}
}
