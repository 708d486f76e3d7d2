package truedlspeed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Session is one run of a sampler. It moves Idle -> Running -> Stopping ->
// Stopped, or straight from Running to Stopped when the run ends on its own.
type Session struct {
	ID   string
	Kind SessionKind

	log      zerolog.Logger
	handlers Handlers
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	state   SessionState
	outcome Outcome
	err     error
}

func newSession(parent context.Context, kind SessionKind, handlers Handlers, logger zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Session{
		ID:       id,
		Kind:     kind,
		log:      logger.With().Str("session", id).Stringer("kind", kind).Logger(),
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
	}
}

// start runs fn on a worker goroutine. fn returns ErrCancelledByUser when it
// unwound because of cancellation.
func (s *Session) start(fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	go func() {
		s.finish(fn(s.ctx))
	}()
}

func (s *Session) finish(err error) {
	outcome := OutcomeCompleted
	switch {
	case errors.Is(err, ErrCancelledByUser):
		outcome = OutcomeCancelled
		err = nil
	case err != nil:
		outcome = OutcomeFailed
	}
	s.cancel()

	s.mu.Lock()
	s.state = StateStopped
	s.outcome = outcome
	s.err = err
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("session failed")
		if s.handlers.OnError != nil {
			s.handlers.OnError(err)
		}
	} else {
		s.log.Debug().Stringer("outcome", outcome).Msg("session stopped")
		if s.handlers.OnDone != nil {
			s.handlers.OnDone(outcome)
		}
	}
	close(s.done)
}

// emit delivers a sample unless the session has been asked to stop.
func (s *Session) emit(sample Sample) {
	if s.ctx.Err() != nil {
		return
	}
	if s.handlers.OnSample != nil {
		s.handlers.OnSample(sample)
	}
}

// Cancel asks the session to stop. It returns immediately; use Wait to
// block until resources are released. Cancelling a stopping or stopped
// session does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.log.Debug().Msg("cancel requested")
	s.cancel()
}

// Wait blocks until the session is stopped and its terminal handler has
// returned. It returns the failure, if any; cancellation is not a failure.
func (s *Session) Wait() error {
	<-s.done
	return s.Err()
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
