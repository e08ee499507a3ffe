package registry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

type WriteKind string

const (
	WriteInsert WriteKind = "insert"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// Write is one remote write waiting in, or being sent from, the outbox.
type Write struct {
	Seq       uint64      `json:"seq"`
	Kind      WriteKind   `json:"kind"`
	SiloID    string      `json:"silo_id"`
	Row       types.Row   `json:"-"`
	Patch     types.Patch `json:"-"`
	Attempts  int         `json:"attempts"`
	QueuedAt  time.Time   `json:"queued_at"`
	InFlight  bool        `json:"in_flight"`
	LastError string      `json:"last_error,omitempty"`
}

type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextBackoffDelay returns the delay before attempt+1, attempt being 1-based.
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// outbox is an ordered queue of remote writes drained by a single worker, so
// writes reach the table in the order they were made.
type outbox struct {
	mu       sync.Mutex
	queue    []*Write
	inFlight *Write
	seq      uint64
	signal   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

// enqueue appends w. An update is instead merged into a queued update of the
// same silo when no other write for that silo sits between them; the merged
// write keeps its place in the queue.
func (o *outbox) enqueue(w Write) (coalesced bool) {
	o.mu.Lock()
	if w.Kind == WriteUpdate {
		for i := len(o.queue) - 1; i >= 0; i-- {
			q := o.queue[i]
			if q.SiloID != w.SiloID {
				continue
			}
			if q.Kind == WriteUpdate {
				q.Patch = q.Patch.Merge(w.Patch)
				o.mu.Unlock()
				return true
			}
			break
		}
	}
	o.seq++
	w.Seq = o.seq
	o.queue = append(o.queue, &w)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return false
}

// amendInsert replaces the row of a queued, not yet sent, insert of id.
func (o *outbox) amendInsert(id string, row types.Row) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.queue {
		if w.Kind == WriteInsert && w.SiloID == id {
			w.Row = row
			return true
		}
	}
	return false
}

// cancelInsert drops a queued, not yet sent, insert of id together with any
// other queued writes for it.
func (o *outbox) cancelInsert(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	found := false
	for _, w := range o.queue {
		if w.Kind == WriteInsert && w.SiloID == id {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	kept := make([]*Write, 0, len(o.queue))
	for _, w := range o.queue {
		if w.SiloID != id {
			kept = append(kept, w)
		}
	}
	o.queue = kept
	return true
}

// next blocks until a write is available or ctx is done. The returned write is
// marked in flight and can no longer be amended or cancelled.
func (o *outbox) next(ctx context.Context) (*Write, bool) {
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			w := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			w.InFlight = true
			o.inFlight = w
			o.mu.Unlock()
			return w, true
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-o.signal:
		}
	}
}

func (o *outbox) markAttempt(w *Write, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w.Attempts++
	if err != nil {
		w.LastError = err.Error()
	} else {
		w.LastError = ""
	}
}

func (o *outbox) finish(w *Write) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight == w {
		o.inFlight = nil
	}
}

// list returns the in-flight write followed by the queue.
func (o *outbox) list() []Write {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Write, 0, len(o.queue)+1)
	if o.inFlight != nil {
		out = append(out, *o.inFlight)
	}
	for _, w := range o.queue {
		out = append(out, *w)
	}
	return out
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.queue)
	if o.inFlight != nil {
		n++
	}
	return n
}

// run sends writes one at a time until ctx is done. Each write gets up to
// maxAttempts tries; done is called with the final result.
func (o *outbox) run(ctx context.Context, maxAttempts int, backoff BackoffConfig,
	send func(context.Context, Write) error, done func(Write, error)) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for {
		w, ok := o.next(ctx)
		if !ok {
			return
		}
		var err error
		for attempt := 1; ; attempt++ {
			o.mu.Lock()
			snapshot := *w
			o.mu.Unlock()

			err = send(ctx, snapshot)
			o.markAttempt(w, err)
			if err == nil || attempt >= maxAttempts || ctx.Err() != nil {
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(NextBackoffDelay(backoff, attempt)):
			}
		}
		o.mu.Lock()
		final := *w
		o.mu.Unlock()
		o.finish(w)
		done(final, err)
	}
}
