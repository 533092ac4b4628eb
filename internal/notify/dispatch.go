package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tools.zach/dev/chatsync/internal/sound"
)

// ///////////////////////////////////////////////
// Audio Unlock Gate
// ///////////////////////////////////////////////

// Gate blocks playback until the first user gesture. Decisions made while
// the gate is locked are dropped, never queued for later.
type Gate struct {
	unlocked atomic.Bool
}

// NewGate returns a Gate that starts unlocked when requireGesture is false.
func NewGate(requireGesture bool) *Gate {
	g := &Gate{}
	g.unlocked.Store(!requireGesture)
	return g
}

// Unlock opens the gate. Further calls are no-ops.
func (g *Gate) Unlock() {
	if g.unlocked.CompareAndSwap(false, true) {
		slog.Debug("audio unlocked")
	}
}

// Unlocked reports whether playback is allowed.
func (g *Gate) Unlocked() bool { return g.unlocked.Load() }

// ///////////////////////////////////////////////
// Dispatcher
// ///////////////////////////////////////////////

// Dispatcher owns the shared audio output. At most one sound plays at a
// time; a sound requested while another is playing is dropped.
type Dispatcher struct {
	player  sound.Player
	gate    *Gate
	playing atomic.Bool
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewDispatcher returns a Dispatcher playing through player once gate is
// unlocked.
func NewDispatcher(player sound.Player, gate *Gate) *Dispatcher {
	return &Dispatcher{player: player, gate: gate, timeout: 10 * time.Second}
}

// Gate returns the audio unlock gate.
func (d *Dispatcher) Gate() *Gate { return d.gate }

// Play starts kind in the background and reports whether playback started.
// It never blocks and never defers: a locked gate or a busy output drops the
// sound.
func (d *Dispatcher) Play(kind sound.Kind) bool {
	if d.player == nil || !d.gate.Unlocked() {
		return false
	}
	if !d.playing.CompareAndSwap(false, true) {
		slog.Debug("sound dropped, output busy", "kind", kind)
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.playing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.player.Play(ctx, kind); err != nil {
			slog.Debug("sound playback failed", "kind", kind, "error", err)
		}
	}()
	return true
}

// Wait blocks until all started sounds have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// ///////////////////////////////////////////////
// Subscribers
// ///////////////////////////////////////////////

// Hub is a list of callbacks receiving values of type T. It is safe for
// concurrent use; callbacks run on the publishing goroutine.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(T))
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Publish calls every subscriber with v, in subscription order.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.subs))
	for id := 0; id < h.nextID; id++ {
		if fn, ok := h.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
