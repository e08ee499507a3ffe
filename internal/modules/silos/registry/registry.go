// Package registry keeps one up-to-date collection of silos sourced from a
// remote table and its change feed, while letting callers mutate the collection
// optimistically before the table confirms.
//
// All state is owned by a single event-loop goroutine; the initial load, feed
// events, local mutations and write completions are applied there in arrival
// order. Remote writes go through an ordered outbox and are never rolled back
// on failure, so the local collection may diverge from the table until the
// next full load.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/defaults"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

var (
	ErrNotFound       = errors.New("silo not found")
	ErrClosed         = errors.New("registry closed")
	ErrAlreadyStarted = errors.New("registry already started")
)

// Table is the remote silos table.
type Table interface {
	List(ctx context.Context) ([]types.Row, error)
	Insert(ctx context.Context, row types.Row) (types.Row, error)
	InsertMany(ctx context.Context, rows []types.Row) ([]types.Row, error)
	Update(ctx context.Context, id string, patch types.Patch) (types.Row, error)
	Delete(ctx context.Context, id string) error
}

// ActionLog is the write-only silo_actions table.
type ActionLog interface {
	InsertAction(ctx context.Context, action types.Action) (types.Action, error)
}

// Feed delivers change events for the silos table.
type Feed interface {
	Subscribe(ctx context.Context, handler feed.Handler) (feed.Subscription, error)
}

type Options struct {
	Logger *slog.Logger

	// Actions receives LogAction writes. Nil disables the action log.
	Actions ActionLog

	// MaxAttempts per remote write; 1 means no retry.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnChange is called on the event loop with a snapshot after every change
	// to the collection. It must not call back into the registry.
	OnChange func([]types.Silo)

	// Defaults is the fallback collection and SeedRows what an empty table is
	// seeded with. Both default to the bundled list.
	Defaults func() []types.Silo
	SeedRows func() []types.Row

	Now   func() time.Time
	NewID func() string
}

type Registry struct {
	table  Table
	feed   Feed
	opts   Options
	logger *slog.Logger

	ops      chan func()
	done     chan struct{}
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	outbox   *outbox
	workers  sync.WaitGroup
	started  atomic.Bool

	mu        sync.Mutex
	closed    bool
	sub       feed.Subscription
	closeOnce sync.Once

	// Owned by the event loop.
	coll        *Collection
	err         error
	unconfirmed map[string]struct{}
	tombstones  map[string]struct{}
}

// New creates a registry over table and feed. A nil feed disables live
// reconciliation.
func New(table Table, f Feed, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Defaults == nil {
		opts.Defaults = defaults.Silos
	}
	if opts.SeedRows == nil {
		opts.SeedRows = defaults.SeedRows
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		table:       table,
		feed:        f,
		opts:        opts,
		logger:      opts.Logger.With("component", "registry"),
		ops:         make(chan func(), 64),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		outbox:      newOutbox(),
		coll:        NewCollection(nil),
		unconfirmed: make(map[string]struct{}),
		tombstones:  make(map[string]struct{}),
	}
}

// Start loads the collection and subscribes to the change feed. A failed load
// is not returned: the collection falls back to the defaults and the failure is
// reported by Err. The returned error is a subscribe failure, or ErrClosed.
//
// If ctx ends while the feed is still subscribing, Start cancels the registry
// and returns ctx.Err(); the caller should then Close it.
func (r *Registry) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go r.loop()
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		backoff := BackoffConfig{InitialDelay: r.opts.InitialBackoff, MaxDelay: r.opts.MaxBackoff, Multiplier: 2}
		r.outbox.run(r.ctx, r.opts.MaxAttempts, backoff, r.send, r.completed)
	}()

	silos, loadErr := r.load(ctx)
	if loadErr != nil {
		r.logger.Error("initial load failed, using bundled defaults", "error", loadErr)
	}
	if err := r.do(ctx, func() {
		r.coll = NewCollection(silos)
		r.err = loadErr
		r.changed()
	}); err != nil {
		return err
	}
	r.logger.Info("silos loaded", "count", len(silos), "fallback", loadErr != nil)

	if r.feed == nil {
		return nil
	}
	// The subscription outlives ctx, so it gets the registry's context and ctx
	// only bounds the wait.
	stop := context.AfterFunc(ctx, r.cancel)
	sub, err := r.feed.Subscribe(r.ctx, r.onEvent)
	if !stop() {
		if sub != nil {
			_ = sub.Close()
		}
		return fmt.Errorf("subscribe to change feed: %w", ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("subscribe to change feed: %w", err)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = sub.Close()
		return ErrClosed
	}
	r.sub = sub
	r.mu.Unlock()
	r.logger.Info("subscribed to change feed")
	return nil
}

func (r *Registry) load(ctx context.Context) ([]types.Silo, error) {
	rows, err := r.table.List(ctx)
	if err != nil {
		return r.opts.Defaults(), fmt.Errorf("load silos: %w", err)
	}
	if len(rows) > 0 {
		return r.decode(rows), nil
	}

	seed := r.opts.SeedRows()
	r.logger.Info("silo table is empty, seeding bundled defaults", "count", len(seed))
	if _, err := r.table.InsertMany(ctx, seed); err != nil {
		return r.opts.Defaults(), fmt.Errorf("seed silos: %w", err)
	}
	rows, err = r.table.List(ctx)
	if err != nil {
		return r.opts.Defaults(), fmt.Errorf("reload seeded silos: %w", err)
	}
	return r.decode(rows), nil
}

func (r *Registry) decode(rows []types.Row) []types.Silo {
	silos, errs := types.DecodeRows(rows)
	for _, err := range errs {
		r.logger.Warn("skipping invalid silo row", "error", err)
	}
	return silos
}

// Close releases the feed subscription and stops the event loop and the outbox
// worker. Queued writes are dropped, and results that arrive afterwards are
// discarded.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		sub := r.sub
		r.sub = nil
		r.mu.Unlock()

		if sub != nil {
			err = sub.Close()
		}
		if n := r.outbox.len(); n > 0 {
			r.logger.Warn("closing with unsent writes", "count", n)
		}
		close(r.done)
		r.cancel()
		r.workers.Wait()
		if r.started.Load() {
			<-r.loopDone
		}
	})
	return err
}

// Drain waits until the outbox is empty or ctx is done.
func (r *Registry) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for r.outbox.len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrClosed
		case <-ticker.C:
		}
	}
	return nil
}

func (r *Registry) loop() {
	defer close(r.loopDone)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) post(op func()) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.ops <- op:
		return true
	case <-r.done:
		return false
	}
}

// do runs op on the event loop and waits for it.
func (r *Registry) do(ctx context.Context, op func()) error {
	if !r.started.Load() {
		return ErrClosed
	}
	ran := make(chan struct{})
	if !r.post(func() { op(); close(ran) }) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-r.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) onEvent(ev feed.Event) {
	r.post(func() { r.apply(ev) })
}

func (r *Registry) apply(ev feed.Event) {
	id := ev.RowID()
	switch ev.Type {
	case feed.Insert:
		delete(r.unconfirmed, id)
		if _, gone := r.tombstones[id]; gone {
			r.logger.Debug("ignoring insert of locally deleted silo", "id", id)
			return
		}
	case feed.Delete:
		delete(r.tombstones, id)
	}

	changed, err := r.coll.Apply(ev)
	if err != nil {
		r.logger.Warn("ignoring change event", "type", ev.Type, "id", id, "error", err)
		return
	}
	if !changed {
		r.logger.Debug("change event had no effect", "type", ev.Type, "id", id)
		return
	}
	r.changed()
}

func (r *Registry) changed() {
	if r.opts.OnChange != nil {
		r.opts.OnChange(r.coll.Snapshot())
	}
}

// Create adds a silo under a local id immediately and queues the remote insert,
// which carries the same id so the feed echo is recognised.
func (r *Registry) Create(ctx context.Context, d types.Draft) (types.Silo, error) {
	s, err := types.NewSilo(types.LocalIDPrefix+r.opts.NewID(), d, r.opts.Now())
	if err != nil {
		return types.Silo{}, err
	}
	err = r.do(ctx, func() {
		r.coll.Insert(s)
		r.unconfirmed[s.ID] = struct{}{}
		r.outbox.enqueue(Write{Kind: WriteInsert, SiloID: s.ID, Row: types.ToRow(s), QueuedAt: r.opts.Now()})
		r.changed()
	})
	if err != nil {
		return types.Silo{}, err
	}
	return s, nil
}

// Update edits a silo immediately and queues the remote update. A silo whose
// insert has not been confirmed gets no remote update; if the insert is still
// queued the edit is folded into it instead.
func (r *Registry) Update(ctx context.Context, id string, p types.Patch) (types.Silo, error) {
	if err := p.Validate(); err != nil {
		return types.Silo{}, err
	}
	p = p.Normalize()
	now := r.opts.Now().UTC()
	p.LastUpdated = &now

	var (
		out   types.Silo
		found bool
	)
	err := r.do(ctx, func() {
		cur, ok := r.coll.Get(id)
		if !ok {
			return
		}
		found = true
		out = p.Apply(cur)
		r.coll.Update(out)
		r.changed()

		if _, pending := r.unconfirmed[id]; pending {
			if r.outbox.amendInsert(id, types.ToRow(out)) {
				r.logger.Debug("folded edit into queued insert", "id", id)
			} else {
				r.logger.Info("skipping remote update of unconfirmed silo", "id", id)
			}
			return
		}
		if r.outbox.enqueue(Write{Kind: WriteUpdate, SiloID: id, Patch: p, QueuedAt: now}) {
			r.logger.Debug("merged edit into queued update", "id", id)
		}
	})
	if err != nil {
		return types.Silo{}, err
	}
	if !found {
		return types.Silo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out, nil
}

// Delete removes a silo immediately and queues the remote delete. Deleting a
// silo whose insert is still queued cancels both.
func (r *Registry) Delete(ctx context.Context, id string) error {
	found := false
	err := r.do(ctx, func() {
		if _, ok := r.coll.Remove(id); !ok {
			return
		}
		found = true
		r.changed()

		if _, pending := r.unconfirmed[id]; pending {
			delete(r.unconfirmed, id)
			if r.outbox.cancelInsert(id) {
				r.logger.Debug("cancelled queued insert of deleted silo", "id", id)
				return
			}
		}
		r.tombstones[id] = struct{}{}
		r.outbox.enqueue(Write{Kind: WriteDelete, SiloID: id, QueuedAt: r.opts.Now()})
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// LogAction records a ventilate/treat action in the background. Failures are
// only logged at debug level.
func (r *Registry) LogAction(id string, kind types.ActionKind) {
	if r.opts.Actions == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.workers.Add(1)
	r.mu.Unlock()

	action := types.Action{SiloID: id, Action: kind, PerformedAt: r.opts.Now().UTC()}
	go func() {
		defer r.workers.Done()
		if _, err := r.opts.Actions.InsertAction(r.ctx, action); err != nil {
			r.logger.Debug("action log write failed", "id", id, "action", kind, "error", err)
		}
	}()
}

// Snapshot returns the current collection.
func (r *Registry) Snapshot(ctx context.Context) ([]types.Silo, error) {
	var out []types.Silo
	err := r.do(ctx, func() { out = r.coll.Snapshot() })
	return out, err
}

func (r *Registry) Get(ctx context.Context, id string) (types.Silo, error) {
	var (
		s  types.Silo
		ok bool
	)
	if err := r.do(ctx, func() { s, ok = r.coll.Get(id) }); err != nil {
		return types.Silo{}, err
	}
	if !ok {
		return types.Silo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Err is the initial-load failure, if the collection fell back to the defaults.
func (r *Registry) Err(ctx context.Context) error {
	var loadErr error
	if err := r.do(ctx, func() { loadErr = r.err }); err != nil {
		return err
	}
	return loadErr
}

// Pending lists remote writes not yet completed, in send order.
func (r *Registry) Pending() []Write {
	return r.outbox.list()
}

func (r *Registry) send(ctx context.Context, w Write) error {
	switch w.Kind {
	case WriteInsert:
		_, err := r.table.Insert(ctx, w.Row)
		return err
	case WriteUpdate:
		_, err := r.table.Update(ctx, w.SiloID, w.Patch)
		return err
	case WriteDelete:
		return r.table.Delete(ctx, w.SiloID)
	}
	return fmt.Errorf("unknown write kind %q", w.Kind)
}

// completed runs on the outbox worker; the result is applied on the loop unless
// the registry has been closed.
func (r *Registry) completed(w Write, err error) {
	r.post(func() {
		if err != nil {
			r.logger.Error("remote write failed, keeping local state",
				"kind", w.Kind,
				"id", w.SiloID,
				"attempts", w.Attempts,
				"error", err,
			)
			if w.Kind == WriteDelete {
				delete(r.tombstones, w.SiloID)
			}
			return
		}
		r.logger.Debug("remote write confirmed", "kind", w.Kind, "id", w.SiloID, "attempts", w.Attempts)
		if w.Kind == WriteInsert {
			delete(r.unconfirmed, w.SiloID)
		}
	})
}
