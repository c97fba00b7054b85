package hub

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hailam/chessserve/internal/game"
)

// DefaultIdleTTL is how long a hub without sessions survives before the
// reaper evicts it.
const DefaultIdleTTL = 30 * time.Minute

// Registry maps game ids to live hubs, hydrating them lazily from the
// repository. Evicted hubs hold no state of their own: the game is rebuilt
// from storage on the next attach.
type Registry struct {
	deps    Deps
	idleTTL time.Duration
	log     *logrus.Entry

	mu   sync.Mutex
	hubs map[game.GameID]*Hub

	stop chan struct{}
	done chan struct{}
}

// NewRegistry builds a registry. Call Start to run the reaper.
func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		deps:    deps,
		idleTTL: idleTTL,
		log:     deps.Log.WithField("component", "hub-registry"),
		hubs:    make(map[game.GameID]*Hub),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Get returns the hub for a game, loading the game from the repository when
// no hub is live. A missing game yields ErrGameNotFound.
func (r *Registry) Get(ctx context.Context, id game.GameID) (*Hub, error) {
	r.mu.Lock()
	if h, ok := r.hubs[id]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	g, err := r.deps.Repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGameNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another attach may have hydrated the hub while we read storage.
	if h, ok := r.hubs[id]; ok {
		return h, nil
	}
	h := New(g, r.deps)
	r.hubs[id] = h
	r.log.WithField("gameId", id).Debug("hub hydrated")
	return h, nil
}

// Count returns the number of live hubs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

// Start runs the reaper until Stop is called.
func (r *Registry) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.idleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep(r.deps.Clock.Now())
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the reaper.
func (r *Registry) Stop() {
	close(r.stop)
	<-r.done
}

// Sweep evicts hubs with no attached sessions that are terminal or have
// been idle past the TTL.
func (r *Registry) Sweep(now time.Time) {
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.hubs {
		if h.idle(cutoff) {
			delete(r.hubs, id)
			r.log.WithField("gameId", id).Debug("hub evicted")
		}
	}
}
