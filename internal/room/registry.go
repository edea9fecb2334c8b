package room

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/beamcast/beamcast/internal/media"
)

// ActiveRoom is one entry of the admin active-room broadcast.
type ActiveRoom struct {
	ID          string `json:"id"`
	ViewerCount int    `json:"viewerCount"`
}

// Registry owns every Room's lifetime. Rooms are created lazily on first
// reference and never evicted; growth over the process lifetime is bounded
// only by the number of distinct room names seen.
type Registry struct {
	provider media.Provider
	logger   *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry builds an empty registry around the media provider.
func NewRegistry(provider media.Provider, logger *slog.Logger) *Registry {
	return &Registry{
		provider: provider,
		logger:   logger,
		rooms:    make(map[string]*Room),
	}
}

// GetOrCreate returns the room named id, constructing an empty one if
// needed. It never fails.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r
	}
	r := newRoom(id, g.provider, g.logger)
	g.rooms[id] = r
	g.logger.Debug("room created", slog.String("room_id", id))
	return r
}

// RouterRTPCapabilities exposes the provider's router capabilities, pushed
// to every client on join.
func (g *Registry) RouterRTPCapabilities() json.RawMessage {
	return g.provider.RouterRTPCapabilities()
}

// Get returns the room named id without allocating. Used where absence must
// short-circuit, such as an ICE restart arriving after a process restart.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	return r, ok
}

// Active snapshots every room with at least one producer.
func (g *Registry) Active() []ActiveRoom {
	out := make([]ActiveRoom, 0)
	for _, r := range g.snapshot() {
		if r.HasProducers() {
			out = append(out, ActiveRoom{ID: r.ID(), ViewerCount: r.ViewerCount()})
		}
	}
	return out
}

// Each calls fn for every room.
func (g *Registry) Each(fn func(*Room)) {
	for _, r := range g.snapshot() {
		fn(r)
	}
}

// Len returns the number of rooms ever created.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) snapshot() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}
