// Package poll runs named, independently timed polling loops.
//
// Each [Loop] fetches on a fixed interval and hands the response to a shared
// results channel. A loop never has more than one request in flight: ticks
// that come due while a request is outstanding, or while the previous
// response is still being applied, are skipped. Every (re)start bumps the
// loop's generation, and every [Result] carries the generation it was
// fetched under, so the consumer can discard responses that belong to a
// previous selection.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tools.zach/dev/chatsync/internal/logger"
)

// ///////////////////////////////////////////////
// Results
// ///////////////////////////////////////////////

// FetchFunc performs one request for scope. It must honor ctx.
type FetchFunc func(ctx context.Context, scope string) (any, error)

// Result is one completed tick.
type Result struct {
	// Loop is the name of the producing loop.
	Loop string
	// Generation is the loop generation the request was issued under.
	Generation uint64
	// Scope is the selection the loop was started with (server, channel...).
	Scope string
	// Value is the fetched value; nil when Err is set.
	Value any
	// Err is the fetch error, if any.
	Err error

	ack     chan struct{}
	ackOnce sync.Once
}

// NewResult builds a Result outside of a running loop. Tests use it to
// inject responses.
func NewResult(loop string, gen uint64, scope string, value any, err error) *Result {
	return &Result{Loop: loop, Generation: gen, Scope: scope, Value: value, Err: err, ack: make(chan struct{})}
}

// Ack marks the result as processed, allowing the loop to schedule its next
// request. It is safe to call more than once.
func (r *Result) Ack() {
	r.ackOnce.Do(func() { close(r.ack) })
}

// ///////////////////////////////////////////////
// Loop
// ///////////////////////////////////////////////

// Loop is one named polling loop.
type Loop struct {
	name     string
	interval time.Duration
	fetch    FetchFunc
	sink     chan<- *Result

	// mu guards cancel and scope.
	mu     sync.Mutex
	cancel context.CancelFunc
	scope  string

	gen     atomic.Uint64
	running atomic.Bool
	skipped atomic.Uint64
}

// NewLoop returns a stopped Loop.
func NewLoop(name string, interval time.Duration, fetch FetchFunc, sink chan<- *Result) *Loop {
	return &Loop{name: name, interval: interval, fetch: fetch, sink: sink}
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Interval returns the tick interval.
func (l *Loop) Interval() time.Duration { return l.interval }

// Generation returns the current generation.
func (l *Loop) Generation() uint64 { return l.gen.Load() }

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool { return l.running.Load() }

// Scope returns the scope of the current run.
func (l *Loop) Scope() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scope
}

// Skipped returns how many ticks were skipped because a request was still
// outstanding.
func (l *Loop) Skipped() uint64 { return l.skipped.Load() }

// Current reports whether r was produced by the loop's current generation.
func (l *Loop) Current(r *Result) bool {
	return r.Loop == l.name && r.Generation == l.gen.Load()
}

// Start (re)starts the loop for scope. Any previous run is canceled and its
// in-flight response, if it still arrives, carries a stale generation. The
// first request is issued immediately.
func (l *Loop) Start(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	gen := l.gen.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.scope = scope
	l.running.Store(true)
	slog.Debug("poll loop started", "loop", l.name, "scope", scope, "generation", gen)
	go l.run(ctx, gen, scope)
}

// Stop cancels the loop and bumps its generation. It does not wait for the
// loop goroutine; a response arriving afterwards is stale.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.cancel = nil
	l.scope = ""
	l.gen.Add(1)
	l.running.Store(false)
	slog.Debug("poll loop stopped", "loop", l.name)
}

// run is the loop goroutine.
func (l *Loop) run(ctx context.Context, gen uint64, scope string) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if !l.tick(ctx, gen, scope) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.tick(ctx, gen, scope) {
				return
			}
			// A tick that came due while this one was outstanding is dropped.
			select {
			case <-ticker.C:
				n := l.skipped.Add(1)
				logger.Trace(slog.Default(), "poll tick skipped", "loop", l.name, "skipped_total", n)
			default:
			}
		}
	}
}

// tick performs one request, delivers it and waits for it to be applied.
// It returns false once ctx is done.
func (l *Loop) tick(ctx context.Context, gen uint64, scope string) bool {
	value, err := l.fetch(ctx, scope)
	if ctx.Err() != nil {
		return false
	}
	r := NewResult(l.name, gen, scope, value, err)
	select {
	case l.sink <- r:
	case <-ctx.Done():
		return false
	}
	select {
	case <-r.ack:
		return true
	case <-ctx.Done():
		return false
	}
}

// ///////////////////////////////////////////////
// Scheduler
// ///////////////////////////////////////////////

// Scheduler owns a fixed roster of loops sharing one results channel.
type Scheduler struct {
	mu      sync.Mutex
	loops   map[string]*Loop
	order   []string
	results chan *Result
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		loops:   make(map[string]*Loop),
		results: make(chan *Result),
	}
}

// Add registers a loop. Adding a name twice replaces the earlier loop,
// which is stopped first.
func (s *Scheduler) Add(name string, interval time.Duration, fetch FetchFunc) *Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.loops[name]; ok {
		old.Stop()
	} else {
		s.order = append(s.order, name)
	}
	l := NewLoop(name, interval, fetch, s.results)
	s.loops[name] = l
	return l
}

// Loop returns the loop registered under name, or nil.
func (s *Scheduler) Loop(name string) *Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loops[name]
}

// Loops returns the registered loops in registration order.
func (s *Scheduler) Loops() []*Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Loop, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.loops[name])
	}
	return out
}

// Results returns the channel every loop delivers to. Each received result
// must be acknowledged with [Result.Ack].
func (s *Scheduler) Results() <-chan *Result { return s.results }

// Current reports whether r belongs to the current generation of its loop.
func (s *Scheduler) Current(r *Result) bool {
	l := s.Loop(r.Loop)
	return l != nil && l.Current(r)
}

// StopAll stops every loop.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		s.loops[name].Stop()
	}
}
