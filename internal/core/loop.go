package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

var ErrLoopStopped = errors.New("event loop stopped")

// Executor runs closures on the goroutine that owns room and peer state.
type Executor interface {
	Post(fn func()) bool
}

// EventLoop serialises every registry mutation onto one goroutine, so room
// and peer state needs no locks.
type EventLoop struct {
	queue  chan func()
	done   chan struct{}
	logger zerolog.Logger
}

func NewEventLoop(buffer int, logger zerolog.Logger) *EventLoop {
	if buffer <= 0 {
		buffer = 1024
	}
	return &EventLoop{
		queue:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger.With().Str("module", "core.loop").Logger(),
	}
}

// Post enqueues fn. It returns false once the loop has stopped.
func (l *EventLoop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it.
func (l *EventLoop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Run processes closures until ctx is cancelled. A panicking closure is
// logged and does not stop the loop.
func (l *EventLoop) Run(ctx context.Context) error {
	defer close(l.done)
	l.logger.Info().Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("event loop stopped")
			return nil
		case fn := <-l.queue:
			l.run(fn)
		}
	}
}

func (l *EventLoop) run(fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		l.logger.Error().Err(r.AsError()).Msg("recovered panic in event loop")
	}
}

// Inline runs closures immediately on the caller's goroutine.
type Inline struct{}

func (Inline) Post(fn func()) bool {
	fn()
	return true
}
