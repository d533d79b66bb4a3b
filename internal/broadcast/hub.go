// Package broadcast pushes leaderboard snapshots to connected observers.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tapsquad/internal/game"
)

const EventLeaderboardUpdate = "leaderboardUpdate"

const DefaultQueueSize = 32

// Update is the wire form of a leaderboard push.
type Update struct {
	Type    string                  `json:"type"`
	SortBy  game.Metric             `json:"sortBy"`
	Players []game.LeaderboardEntry `json:"players"`
	SentAt  time.Time               `json:"sentAt"`
}

func NewUpdate(metric game.Metric, players []game.LeaderboardEntry, now time.Time) Update {
	if players == nil {
		players = []game.LeaderboardEntry{}
	}
	return Update{
		Type:    EventLeaderboardUpdate,
		SortBy:  metric,
		Players: players,
		SentAt:  now.UTC(),
	}
}

func Encode(u Update) ([]byte, error) {
	return json.Marshal(u)
}

// Observer is one connected client. Messages are queued on a bounded channel
// that is closed when the observer is unregistered.
type Observer struct {
	ID   string
	send chan []byte
}

func (o *Observer) Messages() <-chan []byte {
	return o.send
}

// Hub fans payloads out to every registered observer. A full observer queue
// drops the payload for that observer only.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	queueSize int
	log       *slog.Logger
	dropped   atomic.Int64

	// publishMu orders Publish calls so an update computed before the last
	// delivered one for the same metric is never sent after it.
	publishMu sync.Mutex
	latest    map[game.Metric]time.Time

	// allowedOrigin restricts browser websocket upgrades. Empty or "*" allows
	// any origin.
	allowedOrigin string
}

func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[string]*Observer),
		latest:    make(map[game.Metric]time.Time),
		queueSize: queueSize,
		log:       logger,
	}
}

// Register adds an observer. initial payloads are queued before the observer
// becomes visible to Broadcast.
func (h *Hub) Register(initial ...[]byte) *Observer {
	o := &Observer{
		ID:   uuid.NewString(),
		send: make(chan []byte, h.queueSize),
	}
	for _, p := range initial {
		select {
		case o.send <- p:
		default:
		}
	}

	h.mu.Lock()
	h.observers[o.ID] = o
	n := len(h.observers)
	h.mu.Unlock()

	h.log.Debug("observer registered", "observer_id", o.ID, "observers", n)
	return o
}

// Unregister removes o and closes its queue. It is safe to call more than once.
func (h *Hub) Unregister(o *Observer) {
	h.mu.Lock()
	if _, ok := h.observers[o.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.observers, o.ID)
	close(o.send)
	n := len(h.observers)
	h.mu.Unlock()

	h.log.Debug("observer unregistered", "observer_id", o.ID, "observers", n)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Dropped reports how many payloads were discarded for slow observers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Broadcast queues raw for every observer without blocking.
func (h *Hub) Broadcast(raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, o := range h.observers {
		select {
		case o.send <- raw:
		default:
			h.dropped.Add(1)
			h.log.Warn("observer queue full, dropping update", "observer_id", o.ID)
		}
	}
}

// Publish encodes u once and broadcasts it to local observers. An update older
// than the last one published for its metric is skipped; with several API
// processes relayed and local streams interleave here.
func (h *Hub) Publish(_ context.Context, u Update) error {
	raw, err := Encode(u)
	if err != nil {
		return err
	}
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	if last, ok := h.latest[u.SortBy]; ok && u.SentAt.Before(last) {
		h.log.Debug("skipping stale leaderboard update", "sortBy", u.SortBy, "sent_at", u.SentAt, "latest", last)
		return nil
	}
	h.latest[u.SortBy] = u.SentAt
	h.Broadcast(raw)
	return nil
}
