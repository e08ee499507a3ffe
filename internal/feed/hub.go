package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const DefaultBuffer = 256

var ErrHubClosed = errors.New("feed hub closed")

// Hub fans events out to in-process listeners. Each listener receives every
// event in publish order. Publish blocks while a listener's buffer is full,
// until the listener makes room or either side is closed.
type Hub struct {
	logger *slog.Logger
	buffer int

	done      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	closed    bool
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		logger:    logger,
		buffer:    buffer,
		done:      make(chan struct{}),
		listeners: make(map[*Listener]struct{}),
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for l := range h.listeners {
		select {
		case l.ch <- ev:
			continue
		default:
		}
		h.logger.Debug("feed listener is full, waiting",
			"listener", l.name, "type", ev.Type, "id", ev.RowID())
		select {
		case l.ch <- ev:
		case <-l.done:
		case <-h.done:
		}
	}
}

// Listen registers a listener. The returned channel is closed by Listener.Close
// or Hub.Close.
func (h *Hub) Listen(name string) (*Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	l := &Listener{hub: h, name: name, ch: make(chan Event, h.buffer), done: make(chan struct{})}
	h.listeners[l] = struct{}{}
	return l, nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Subscribe delivers events to handler on its own goroutine until the
// subscription is closed or ctx is done.
func (h *Hub) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	l, err := h.Listen("subscription")
	if err != nil {
		return nil, err
	}
	s := &hubSubscription{listener: l, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for {
			select {
			case ev, ok := <-l.ch:
				if !ok {
					return
				}
				handler(ev)
			case <-ctx.Done():
				l.Close()
				return
			}
		}
	}()
	return s, nil
}

func (h *Hub) Close() {
	// Release blocked publishers before taking the write lock they hold shared.
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for l := range h.listeners {
		delete(h.listeners, l)
		close(l.ch)
	}
}

type Listener struct {
	hub  *Hub
	name string
	ch   chan Event

	done     chan struct{}
	doneOnce sync.Once
}

func (l *Listener) Events() <-chan Event { return l.ch }

func (l *Listener) Close() {
	l.doneOnce.Do(func() { close(l.done) })
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	if _, ok := l.hub.listeners[l]; !ok {
		return
	}
	delete(l.hub.listeners, l)
	close(l.ch)
}

type hubSubscription struct {
	listener *Listener
	done     chan struct{}
}

// Close stops delivery and waits for the delivering goroutine to exit. It must
// not be called from inside the handler.
func (s *hubSubscription) Close() error {
	s.listener.Close()
	<-s.done
	return nil
}
