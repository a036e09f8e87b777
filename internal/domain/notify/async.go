package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by AsyncSink.Send when the queue has no room.
	ErrQueueFull = errors.New("alert queue full")
	// ErrSinkClosed is returned by AsyncSink.Send after Close.
	ErrSinkClosed = errors.New("alert sink closed")
)

// AsyncSink queues alerts and delivers them to the wrapped sink from a single
// worker goroutine, so store writes never wait on a broker or webhook. Each
// delivery gets its own context bounded by timeout.
type AsyncSink struct {
	next    Sink
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Alert
	done   chan struct{}
}

// NewAsyncSink starts the worker. size bounds the number of pending alerts.
func NewAsyncSink(next Sink, size int, timeout time.Duration, logger zerolog.Logger) *AsyncSink {
	if size < 1 {
		size = 1
	}
	s := &AsyncSink{
		next:    next,
		timeout: timeout,
		logger:  logger.With().Str("component", "alert-queue").Logger(),
		queue:   make(chan Alert, size),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Send enqueues a without blocking. The request context is not carried over
// to the delivery.
func (s *AsyncSink) Send(_ context.Context, a Alert) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for a := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Send(ctx, a); err != nil {
			s.logger.Warn().Err(err).Str("email", a.Email).Msg("alert delivery failed")
		}
		cancel()
	}
}

// Close stops accepting alerts and waits until the queued ones are delivered.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}
