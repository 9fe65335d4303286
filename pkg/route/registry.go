package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vango-dev/collab/pkg/document"
)

// Loader produces the initial Document for a title.
type Loader func(ctx context.Context, title string) (*document.Document, error)

// Stats describes one live Route.
type Stats struct {
	Title        string    `json:"title"`
	Participants int       `json:"participants"`
	Revision     uint64    `json:"revision"`
	HasPublisher bool      `json:"hasPublisher"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	LastAuthor   string    `json:"lastAuthor,omitempty"`
}

// Registry maps titles to live Routes.
type Registry struct {
	mu     sync.Mutex
	routes map[string]*Route

	group       singleflight.Group
	load        Loader
	loadTimeout time.Duration

	onCreate func(title string)
	onRemove func(title string)

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoadTimeout bounds each loader call. Default: 15 seconds.
func WithLoadTimeout(d time.Duration) Option {
	return func(g *Registry) {
		g.loadTimeout = d
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Registry) {
		g.logger = logger
	}
}

// WithHooks sets callbacks run after a Route is created or removed.
func WithHooks(onCreate, onRemove func(title string)) Option {
	return func(g *Registry) {
		g.onCreate = onCreate
		g.onRemove = onRemove
	}
}

// NewRegistry creates an empty Registry that creates Routes with load.
func NewRegistry(load Loader, opts ...Option) *Registry {
	g := &Registry{
		routes:      make(map[string]*Route),
		load:        load,
		loadTimeout: 15 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "route_registry")
	return g
}

// Lookup returns the live Route for title. It never creates one.
func (g *Registry) Lookup(title string) (*Route, bool) {
	g.mu.Lock()
	rt, ok := g.routes[title]
	g.mu.Unlock()
	if !ok || rt.Closed() {
		return nil, false
	}
	return rt, true
}

// Register inserts rt under title.
// It fails with ErrRouteExists if a live Route is already registered.
func (g *Registry) Register(title string, rt *Route) error {
	g.mu.Lock()
	existing, replaced := g.routes[title]
	if replaced && !existing.Closed() {
		g.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrRouteExists, title)
	}
	g.routes[title] = rt
	g.mu.Unlock()

	if replaced && g.onRemove != nil {
		g.onRemove(title)
	}
	g.logger.Info("route created", "title", title)
	if g.onCreate != nil {
		g.onCreate(title)
	}
	return nil
}

// Len returns the number of registered Routes.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.routes)
}

// Titles returns the registered titles in sorted order.
func (g *Registry) Titles() []string {
	g.mu.Lock()
	titles := make([]string, 0, len(g.routes))
	for title := range g.routes {
		titles = append(titles, title)
	}
	g.mu.Unlock()
	sort.Strings(titles)
	return titles
}

// Stats returns a snapshot of every live Route, sorted by title.
func (g *Registry) Stats() []Stats {
	g.mu.Lock()
	routes := make([]*Route, 0, len(g.routes))
	for _, rt := range g.routes {
		routes = append(routes, rt)
	}
	g.mu.Unlock()

	out := make([]Stats, 0, len(routes))
	for _, rt := range routes {
		if rt.Closed() {
			continue
		}
		out = append(out, Stats{
			Title:        rt.Title(),
			Participants: rt.Len(),
			Revision:     rt.Document().Revision(),
			HasPublisher: rt.Document().HasPublisher(),
			Created:      rt.created,
			LastModified: rt.Document().LastModified(),
			LastAuthor:   rt.Document().LastAuthor(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Join adds p to the Route for title, creating the Route if needed.
//
// welcome runs under the Route's ordering lock right after p is appended; it
// receives the Route and p's JoinState. Concurrent first joiners share one
// loader call. If ctx ends before the Route is ready, Join returns ctx.Err()
// and p is not added.
func (g *Registry) Join(ctx context.Context, title string, p Participant, welcome func(*Route, JoinState)) (*Route, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rt, ok := g.Lookup(title)
		if !ok {
			var err error
			if rt, err = g.create(ctx, title); err != nil {
				return nil, err
			}
		}

		err := rt.join(p, func(st JoinState) {
			if welcome != nil {
				welcome(rt, st)
			}
		})
		if errors.Is(err, ErrRouteClosed) {
			// Emptied and removed between lookup and join; start over.
			continue
		}
		if err != nil {
			return nil, err
		}
		return rt, nil
	}
}

// create runs the loader once per title and registers the result.
func (g *Registry) create(ctx context.Context, title string) (*Route, error) {
	ch := g.group.DoChan(title, func() (any, error) {
		if rt, ok := g.Lookup(title); ok {
			return rt, nil
		}

		// The load outlives any single waiter.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.loadTimeout)
		defer cancel()

		start := time.Now()
		doc, err := g.load(loadCtx, title)
		if err != nil {
			g.logger.Error("route load failed", "title", title, "error", err, "duration", time.Since(start))
			return nil, err
		}

		rt := NewRoute(doc, g.logger)
		if err := g.Register(title, rt); err != nil {
			if existing, ok := g.Lookup(title); ok {
				return existing, nil
			}
			return nil, err
		}
		return rt, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Route), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Leave removes p from rt. farewell runs under the Route's ordering lock after
// removal, so it sees only the remaining participants. When rt becomes empty it
// is closed and removed from the Registry. Leave returns the remaining count.
func (g *Registry) Leave(rt *Route, p Participant, farewell func(*Route)) int {
	closed := rt.leave(p, func() {
		if farewell != nil {
			farewell(rt)
		}
	})
	if closed {
		g.remove(rt)
	}
	return rt.Len()
}

// Prune closes and removes Routes that have no participants, returning how many were removed.
func (g *Registry) Prune() int {
	g.mu.Lock()
	candidates := make([]*Route, 0)
	for _, rt := range g.routes {
		if rt.Len() == 0 {
			candidates = append(candidates, rt)
		}
	}
	g.mu.Unlock()

	removed := 0
	for _, rt := range candidates {
		if rt.closeIfEmpty() && g.remove(rt) {
			removed++
		}
	}
	return removed
}

// remove deletes rt if it is still the registered Route for its title.
func (g *Registry) remove(rt *Route) bool {
	g.mu.Lock()
	current, ok := g.routes[rt.title]
	if !ok || current != rt {
		g.mu.Unlock()
		return false
	}
	delete(g.routes, rt.title)
	g.mu.Unlock()

	g.logger.Info("route removed", "title", rt.title)
	if g.onRemove != nil {
		g.onRemove(rt.title)
	}
	return true
}
