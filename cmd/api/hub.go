package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// offlineTimeout bounds the presence write made when a user's last stream
// closes.
const offlineTimeout = 5 * time.Second

// StreamHub tracks the open Subscribe streams of connected users. When the
// last stream of a user closes the user is reported offline, which covers
// clients that vanish without signing out.
type StreamHub struct {
	mu      sync.Mutex
	streams map[string]map[int64]context.CancelFunc
	nextID  int64
	// gens counts Register calls per connected user
	gens  map[string]uint64
	gates map[string]*gate

	onLast func(ctx context.Context, uid string) error
	logger *slog.Logger
}

// gate orders a user's registrations against the offline write of a
// previous last stream.
type gate struct {
	mu   sync.Mutex
	refs int
}

// NewStreamHub creates a hub. onLast, when set, runs after a user's last
// stream closes.
func NewStreamHub(onLast func(ctx context.Context, uid string) error, logger *slog.Logger) *StreamHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHub{
		streams: make(map[string]map[int64]context.CancelFunc),
		gens:    make(map[string]uint64),
		gates:   make(map[string]*gate),
		onLast:  onLast,
		logger:  logger,
	}
}

func (h *StreamHub) lockUser(uid string) *gate {
	h.mu.Lock()
	g, ok := h.gates[uid]
	if !ok {
		g = &gate{}
		h.gates[uid] = g
	}
	g.refs++
	h.mu.Unlock()

	g.mu.Lock()
	return g
}

func (h *StreamHub) unlockUser(uid string, g *gate) {
	g.mu.Unlock()

	h.mu.Lock()
	g.refs--
	if g.refs == 0 {
		delete(h.gates, uid)
	}
	h.mu.Unlock()
}

// Register records a stream of uid and returns its id for Unregister. cancel
// ends the stream when the user is disconnected. An offline write already
// under way for uid finishes first.
func (h *StreamHub) Register(uid string, cancel context.CancelFunc) int64 {
	g := h.lockUser(uid)
	defer h.unlockUser(uid, g)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[uid]; !ok {
		h.streams[uid] = make(map[int64]context.CancelFunc)
	}
	h.nextID++
	id := h.nextID
	h.streams[uid][id] = cancel
	h.gens[uid]++
	return id
}

// Unregister removes a stream. Removing the last stream of uid runs onLast
// unless the user has connected again in the meantime.
func (h *StreamHub) Unregister(ctx context.Context, uid string, id int64) {
	if last, gen := h.release(uid, id); last {
		h.finishOffline(ctx, uid, gen)
	}
}

// release removes a stream and reports whether it was the user's last,
// together with the user's registration count at that moment.
func (h *StreamHub) release(uid string, id int64) (last bool, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.streams[uid]
	if !ok {
		return false, 0
	}
	if _, ok := conns[id]; !ok {
		return false, 0
	}
	delete(conns, id)
	if len(conns) > 0 {
		return false, 0
	}
	delete(h.streams, uid)
	return true, h.gens[uid]
}

// finishOffline runs onLast for uid if no stream was registered since
// release reported gen.
func (h *StreamHub) finishOffline(ctx context.Context, uid string, gen uint64) {
	g := h.lockUser(uid)
	defer h.unlockUser(uid, g)

	h.mu.Lock()
	stale := len(h.streams[uid]) > 0 || h.gens[uid] != gen
	if !stale {
		delete(h.gens, uid)
	}
	h.mu.Unlock()
	if stale {
		h.logger.Debug("user reconnected before going offline", "user_id", uid)
		return
	}
	if h.onLast == nil {
		return
	}

	// the stream context is already done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), offlineTimeout)
	defer cancel()
	if err := h.onLast(ctx, uid); err != nil {
		h.logger.Warn("mark offline after last stream failed", "user_id", uid, "error", err)
	}
}

// Disconnect ends every stream of uid and returns how many were open.
func (h *StreamHub) Disconnect(uid string) int {
	h.mu.Lock()
	conns := h.streams[uid]
	cancels := make([]context.CancelFunc, 0, len(conns))
	for _, cancel := range conns {
		cancels = append(cancels, cancel)
	}
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Connected reports whether uid has an open stream.
func (h *StreamHub) Connected(uid string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[uid]) > 0
}

// Count returns the number of open streams.
func (h *StreamHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, conns := range h.streams {
		n += len(conns)
	}
	return n
}
