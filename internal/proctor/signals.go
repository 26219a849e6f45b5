package proctor

import (
	"context"
	"sync"
	"time"
)

// edgeSignal calls its listeners on false->true transitions only.
type edgeSignal struct {
	mu        sync.Mutex
	state     bool
	nextID    int
	listeners map[int]func(at time.Time)
	now       func() time.Time
}

func newEdgeSignal(now func() time.Time) *edgeSignal {
	if now == nil {
		now = time.Now
	}
	return &edgeSignal{listeners: map[int]func(time.Time){}, now: now}
}

func (e *edgeSignal) set(v bool) {
	e.mu.Lock()
	rising := v && !e.state
	e.state = v
	var fire []func(time.Time)
	if rising {
		for _, fn := range e.listeners {
			fire = append(fire, fn)
		}
	}
	at := e.now()
	e.mu.Unlock()

	for _, fn := range fire {
		fn(at)
	}
}

func (e *edgeSignal) subscribe(fn func(at time.Time)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

func (e *edgeSignal) listenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// VisibilityAdapter turns page visibility changes into hidden events.
type VisibilityAdapter struct {
	sig *edgeSignal
}

func NewVisibilityAdapter(now func() time.Time) *VisibilityAdapter {
	return &VisibilityAdapter{sig: newEdgeSignal(now)}
}

// SetHidden records the current visibility. Only visible->hidden fires listeners.
func (a *VisibilityAdapter) SetHidden(hidden bool) { a.sig.set(hidden) }

func (a *VisibilityAdapter) OnHidden(fn func(at time.Time)) (unsubscribe func()) {
	return a.sig.subscribe(fn)
}

func (a *VisibilityAdapter) Listeners() int { return a.sig.listenerCount() }

// FocusAdapter turns window focus changes into blur events.
type FocusAdapter struct {
	sig *edgeSignal
}

func NewFocusAdapter(now func() time.Time) *FocusAdapter {
	return &FocusAdapter{sig: newEdgeSignal(now)}
}

// SetFocused records window focus. Only focused->blurred fires listeners.
func (a *FocusAdapter) SetFocused(focused bool) { a.sig.set(!focused) }

func (a *FocusAdapter) OnBlur(fn func(at time.Time)) (unsubscribe func()) {
	return a.sig.subscribe(fn)
}

func (a *FocusAdapter) Listeners() int { return a.sig.listenerCount() }

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop() { r.t.Stop() }

func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Sampler calls fn on every tick until stopped. Ticks are handled one at a
// time; a slow fn delays the next tick instead of overlapping with it.
type Sampler struct {
	interval  time.Duration
	newTicker TickerFactory

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSampler(interval time.Duration, newTicker TickerFactory) *Sampler {
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &Sampler{interval: interval, newTicker: newTicker}
}

func (s *Sampler) Start(ctx context.Context, fn func(ctx context.Context, at time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ticker := s.newTicker(s.interval)

	go func() {
		defer close(s.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C():
				fn(ctx, at)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
