package event

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrStreamClosed  = errors.New("cannot notify closed stream")
	ErrStreamTimeout = errors.New("timed out sending message to stream channel")
)

type Stream[E any] interface {
	ID() string
	Notify(event E, timeout time.Duration) error
	Close()
}

// ChannelStream delivers the events its selector accepts on a buffered
// channel. A subscriber that falls behind for longer than the notify timeout
// has its stream closed.
type ChannelStream[E, M any] struct {
	id       string
	selector func(E) (M, bool)
	onClose  func()

	mu     sync.Mutex
	closed bool
	ch     chan M
}

// NewChannelStream returns a stream with the given buffer. onClose, if not
// nil, runs once when the stream is closed.
func NewChannelStream[E, M any](
	id string,
	bufferSize int,
	selector func(event E) (M, bool),
	onClose func(),
) *ChannelStream[E, M] {
	return &ChannelStream[E, M]{
		id:       id,
		selector: selector,
		onClose:  onClose,
		ch:       make(chan M, bufferSize),
	}
}

func (s *ChannelStream[E, M]) ID() string {
	return s.id
}

func (s *ChannelStream[E, M]) Notify(event E, timeout time.Duration) error {
	msg, ok := s.selector(event)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- msg:
		s.mu.Unlock()
		return nil
	case <-timer.C:
		s.mu.Unlock()
		s.Close()
		return errors.Wrapf(ErrStreamTimeout, "stream %s", s.id)
	}
}

func (s *ChannelStream[E, M]) Channel() <-chan M {
	return s.ch
}

func (s *ChannelStream[E, M]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
}
