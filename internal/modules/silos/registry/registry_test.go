package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/defaults"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var at = time.Date(2026, 2, 9, 8, 30, 0, 0, time.UTC)

// fakeTable is an in-memory silos table. Writes block while hold is open and
// the first failWrites writes return errWrite.
type fakeTable struct {
	mu            sync.Mutex
	rows          []types.Row
	calls         []string
	listErr       error
	insertManyErr error
	failWrites    int
	hold          chan struct{}
	nextID        int
	patches       []types.Patch
}

var errWrite = errors.New("table unavailable")

func newFakeTable(silos []types.Silo) *fakeTable {
	t := &fakeTable{}
	for _, s := range silos {
		t.rows = append(t.rows, types.ToRow(s))
	}
	return t
}

func (t *fakeTable) List(context.Context) ([]types.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "list")
	if t.listErr != nil {
		return nil, t.listErr
	}
	return slices.Clone(t.rows), nil
}

func (t *fakeTable) InsertMany(_ context.Context, rows []types.Row) ([]types.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, fmt.Sprintf("insert-many %d", len(rows)))
	if t.insertManyErr != nil {
		return nil, t.insertManyErr
	}
	out := make([]types.Row, 0, len(rows))
	for _, r := range rows {
		t.nextID++
		r.ID = fmt.Sprintf("remote-%02d", t.nextID)
		t.rows = append(t.rows, r)
		out = append(out, r)
	}
	return out, nil
}

func (t *fakeTable) write(ctx context.Context, call string) error {
	t.mu.Lock()
	hold := t.hold
	t.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
	if t.failWrites > 0 {
		t.failWrites--
		return errWrite
	}
	return nil
}

func (t *fakeTable) Insert(ctx context.Context, row types.Row) (types.Row, error) {
	if err := t.write(ctx, "insert "+row.ID); err != nil {
		return types.Row{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, row)
	return row, nil
}

func (t *fakeTable) Update(ctx context.Context, id string, p types.Patch) (types.Row, error) {
	if err := t.write(ctx, "update "+id); err != nil {
		return types.Row{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patches = append(t.patches, p)
	return types.Row{ID: id}, nil
}

func (t *fakeTable) Patches() []types.Patch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.patches)
}

func (t *fakeTable) Delete(ctx context.Context, id string) error {
	return t.write(ctx, "delete "+id)
}

func (t *fakeTable) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

func (t *fakeTable) setHold(ch chan struct{}) {
	t.mu.Lock()
	t.hold = ch
	t.mu.Unlock()
}

// fakeFeed hands events straight to the registry's handler, so an emit is
// ordered before any registry call made after it.
type fakeFeed struct {
	mu      sync.Mutex
	handler feed.Handler
	closed  int
	err     error
}

func (f *fakeFeed) Subscribe(_ context.Context, h feed.Handler) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.handler = h
	return f, nil
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.handler = nil
	return nil
}

func (f *fakeFeed) emit(ev feed.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

type changeCounter struct {
	mu    sync.Mutex
	count int
	last  []types.Silo
}

func (c *changeCounter) OnChange(silos []types.Silo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.last = silos
}

func (c *changeCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func startRegistry(t *testing.T, table Table, f Feed, opts Options) *Registry {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return at }
	}
	r := New(table, f, opts)
	t.Cleanup(func() { _ = r.Close() })
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r
}

func snapshot(t *testing.T, r *Registry) []types.Silo {
	t.Helper()
	silos, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return silos
}

func ids(silos []types.Silo) []string {
	out := make([]string, 0, len(silos))
	for _, s := range silos {
		out = append(out, s.ID)
	}
	return out
}

func drain(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestStart_LoadsTableRows(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	changes := &changeCounter{}
	r := startRegistry(t, table, &fakeFeed{}, Options{OnChange: changes.OnChange})

	got := snapshot(t, r)
	if diff := cmp.Diff(defaults.Silos(), got); diff != "" {
		t.Errorf("Snapshot (-want +got):\n%s", diff)
	}
	if err := r.Err(context.Background()); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
	if changes.Count() != 1 || len(changes.last) != 12 {
		t.Errorf("OnChange called %d times with %d silos", changes.Count(), len(changes.last))
	}
	if diff := cmp.Diff([]string{"list"}, table.Calls()); diff != "" {
		t.Errorf("table calls (-want +got):\n%s", diff)
	}
}

func TestStart_SeedsEmptyTable(t *testing.T) {
	table := newFakeTable(nil)
	r := startRegistry(t, table, &fakeFeed{}, Options{})

	got := snapshot(t, r)
	if len(got) != 12 {
		t.Fatalf("Snapshot has %d silos, want 12", len(got))
	}
	for _, s := range got {
		if s.IsLocal() || s.ID == "" {
			t.Errorf("seeded silo has id %q, want a table-assigned id", s.ID)
		}
	}
	if got[0].Name != "Thanjavur Silo A1" {
		t.Errorf("first silo = %q", got[0].Name)
	}
	if diff := cmp.Diff([]string{"list", "insert-many 12", "list"}, table.Calls()); diff != "" {
		t.Errorf("table calls (-want +got):\n%s", diff)
	}
	if err := r.Err(context.Background()); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestStart_FallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeTable)
	}{
		{name: "read fails", setup: func(ft *fakeTable) { ft.listErr = errWrite }},
		{name: "seed fails", setup: func(ft *fakeTable) { ft.insertManyErr = errWrite }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newFakeTable(nil)
			tt.setup(table)
			f := &fakeFeed{}
			r := startRegistry(t, table, f, Options{})

			if diff := cmp.Diff(defaults.Silos(), snapshot(t, r)); diff != "" {
				t.Errorf("Snapshot (-want +got):\n%s", diff)
			}
			if err := r.Err(context.Background()); !errors.Is(err, errWrite) {
				t.Errorf("Err = %v, want %v", err, errWrite)
			}

			// the feed is still live after a failed load
			s := defaults.Silos()[0]
			s.ID = "late"
			f.emit(feed.NewInsert(types.ToRow(s), at))
			if got := snapshot(t, r); len(got) != 13 {
				t.Errorf("Snapshot has %d silos after insert, want 13", len(got))
			}
		})
	}
}

func TestStart_SkipsInvalidRows(t *testing.T) {
	table := newFakeTable(defaults.Silos()[:3])
	table.rows = append(table.rows, types.Row{ID: "broken"})
	r := startRegistry(t, table, &fakeFeed{}, Options{})

	if diff := cmp.Diff([]string{"silo-001", "silo-002", "silo-003"}, ids(snapshot(t, r))); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	if err := r.Err(context.Background()); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestStart_SubscribeFailure(t *testing.T) {
	f := &fakeFeed{err: errors.New("broker down")}
	r := New(newFakeTable(defaults.Silos()), f, Options{Logger: discardLogger()})
	defer func() { _ = r.Close() }()

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with a failing feed")
	}
	// the loaded collection stays usable
	if got := snapshot(t, r); len(got) != 12 {
		t.Errorf("Snapshot has %d silos, want 12", len(got))
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

// stalledFeed never finishes subscribing, like a broker that accepts the TCP
// connection and then goes quiet.
type stalledFeed struct{}

func (stalledFeed) Subscribe(ctx context.Context, _ feed.Handler) (feed.Subscription, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStart_GivesUpWhenCallerContextEnds(t *testing.T) {
	r := New(newFakeTable(defaults.Silos()), stalledFeed{}, Options{Logger: discardLogger()})
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- r.Start(ctx) }()

	select {
	case err := <-errc:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Start = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start still blocked after the caller's deadline")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

// model is the expected collection after a sequence of change events.
type model struct {
	order []string
	byID  map[string]types.Silo
}

func (m *model) apply(ev feed.Event) {
	if ev.Validate() != nil {
		return
	}
	switch ev.Type {
	case feed.Insert, feed.Update:
		s, err := types.DecodeRow(*ev.New)
		if err != nil {
			return
		}
		_, present := m.byID[s.ID]
		if ev.Type == feed.Insert && !present {
			m.order = append(m.order, s.ID)
			m.byID[s.ID] = s
		}
		if ev.Type == feed.Update && present {
			m.byID[s.ID] = s
		}
	case feed.Delete:
		if _, ok := m.byID[ev.Old.ID]; ok {
			delete(m.byID, ev.Old.ID)
			m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == ev.Old.ID })
		}
	}
}

func (m *model) silos() []types.Silo {
	out := make([]types.Silo, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

func randomEvent(rng *rand.Rand) feed.Event {
	id := fmt.Sprintf("s%d", rng.IntN(6))
	s := types.Silo{
		ID:          id,
		Name:        "Silo " + id,
		Lat:         10,
		Lng:         78,
		GrainType:   "Maize",
		GrainAmount: float64(rng.IntN(300)),
		Capacity:    300,
		Sensors: types.Sensors{
			Temperature:  20 + float64(rng.IntN(25)),
			Humidity:     40 + float64(rng.IntN(50)),
			PestActivity: types.PestNone,
		},
		LastUpdated: at.Add(time.Duration(rng.IntN(1000)) * time.Second),
	}
	s.Status = types.DeriveStatus(s.Sensors)
	row := types.ToRow(s)

	switch rng.IntN(8) {
	case 0, 1, 2:
		return feed.NewInsert(row, at)
	case 3, 4:
		return feed.NewUpdate(row, at)
	case 5, 6:
		return feed.NewDelete(types.Row{ID: id}, at)
	case 7:
		// a row that does not decode
		row.Name = nil
		return feed.NewUpdate(row, at)
	}
	return feed.Event{Type: feed.Update, Table: feed.SilosTable}
}

func TestFeedEvents_MatchModel(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*7))
			f := &fakeFeed{}
			r := startRegistry(t, newFakeTable(nil), f, Options{SeedRows: func() []types.Row { return nil }})

			m := &model{byID: map[string]types.Silo{}}
			for range 200 {
				ev := randomEvent(rng)
				m.apply(ev)
				f.emit(ev)
			}
			if rng.IntN(2) == 0 {
				f.emit(feed.Event{Type: "TRUNCATE", Table: feed.SilosTable})
			}

			got := snapshot(t, r)
			if diff := cmp.Diff(m.silos(), got); diff != "" {
				t.Errorf("collection (-model +registry):\n%s", diff)
			}
			seen := map[string]bool{}
			for _, s := range got {
				if seen[s.ID] {
					t.Errorf("duplicate id %s", s.ID)
				}
				seen[s.ID] = true
			}
		})
	}
}

func TestFeedEvents_SilosScenario(t *testing.T) {
	f := &fakeFeed{}
	changes := &changeCounter{}
	r := startRegistry(t, newFakeTable(defaults.Silos()), f, Options{OnChange: changes.OnChange})

	s, err := r.Get(context.Background(), "silo-004")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s.Sensors.Temperature = 33
	s.Sensors.Humidity = 72
	s.Sensors.PestActivity = types.PestLow
	s.Status = types.StatusWarning
	f.emit(feed.NewUpdate(types.ToRow(s), at))

	got, err := r.Get(context.Background(), "silo-004")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.StatusWarning {
		t.Errorf("status = %s, want warning", got.Status)
	}
	if n := len(snapshot(t, r)); n != 12 {
		t.Errorf("Snapshot has %d silos, want 12", n)
	}

	// an insert for a present id is an echo, not a second silo
	f.emit(feed.NewInsert(types.ToRow(s), at))
	f.emit(feed.NewDelete(types.Row{ID: "silo-004"}, at))
	// deleting twice is harmless
	f.emit(feed.NewDelete(types.Row{ID: "silo-004"}, at))

	all := snapshot(t, r)
	if len(all) != 11 {
		t.Fatalf("Snapshot has %d silos, want 11", len(all))
	}
	if slices.Contains(ids(all), "silo-004") {
		t.Error("silo-004 still present")
	}
	if _, err := r.Get(context.Background(), "silo-004"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get deleted = %v, want ErrNotFound", err)
	}
	// load, update, delete
	if n := changes.Count(); n != 3 {
		t.Errorf("OnChange called %d times, want 3", n)
	}
}

func TestCreate_EchoIsDeduplicated(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	f := &fakeFeed{}
	r := startRegistry(t, table, f, Options{NewID: func() string { return "T" }})

	s, err := r.Create(context.Background(), types.Draft{
		Name: "Namakkal Silo L1", Lat: 11.22, Lng: 78.17, GrainType: "Maize", GrainAmount: 50, Capacity: 200,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID != "local-T" {
		t.Errorf("id = %q, want local-T", s.ID)
	}
	if got := snapshot(t, r); len(got) != 13 || got[12].ID != "local-T" {
		t.Fatalf("Snapshot ids = %v", ids(got))
	}

	drain(t, r)
	if !slices.Contains(table.Calls(), "insert local-T") {
		t.Errorf("table calls = %v, want insert local-T", table.Calls())
	}

	f.emit(feed.NewInsert(types.ToRow(s), at))
	if got := snapshot(t, r); len(got) != 13 {
		t.Errorf("Snapshot has %d silos after echo, want 13", len(got))
	}
	if len(r.Pending()) != 0 {
		t.Errorf("Pending = %+v, want empty", r.Pending())
	}
}

func TestCreate_InvalidDraft(t *testing.T) {
	r := startRegistry(t, newFakeTable(defaults.Silos()), &fakeFeed{}, Options{})
	if _, err := r.Create(context.Background(), types.Draft{Name: " "}); !errors.Is(err, types.ErrInvalidSilo) {
		t.Errorf("Create = %v, want ErrInvalidSilo", err)
	}
	if n := len(snapshot(t, r)); n != 12 {
		t.Errorf("Snapshot has %d silos, want 12", n)
	}
}

func TestUpdate_AppliesLocallyAndSends(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	r := startRegistry(t, table, &fakeFeed{}, Options{})

	name := "Thanjavur Silo A1 (east)"
	got, err := r.Update(context.Background(), "silo-001", types.Patch{Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != name || !got.LastUpdated.Equal(at) {
		t.Errorf("Update = %+v", got)
	}
	stored, _ := r.Get(context.Background(), "silo-001")
	if stored.Name != name {
		t.Errorf("stored name = %q", stored.Name)
	}
	drain(t, r)
	if diff := cmp.Diff([]string{"list", "update silo-001"}, table.Calls()); diff != "" {
		t.Errorf("table calls (-want +got):\n%s", diff)
	}

	if _, err := r.Update(context.Background(), "nope", types.Patch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
	bad := -3.0
	if _, err := r.Update(context.Background(), "silo-001", types.Patch{Capacity: &bad}); !errors.Is(err, types.ErrInvalidSilo) {
		t.Errorf("Update invalid = %v, want ErrInvalidSilo", err)
	}
}

func TestUpdate_SendsCanonicalEnums(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	r := startRegistry(t, table, &fakeFeed{}, Options{})
	ctx := context.Background()

	status := types.Status("Warning")
	got, err := r.Update(ctx, "silo-001", types.Patch{Status: &status})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != types.StatusWarning {
		t.Errorf("Status = %q, want %q", got.Status, types.StatusWarning)
	}

	pests := types.PestActivity("HIGH")
	got, err = r.Update(ctx, "silo-002", types.Patch{PestActivity: &pests})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Sensors.PestActivity != types.PestHigh || got.Status != types.StatusCritical {
		t.Errorf("silo-002 = %s/%s, want high/critical", got.Sensors.PestActivity, got.Status)
	}

	drain(t, r)
	patches := table.Patches()
	if len(patches) != 2 {
		t.Fatalf("sent %d patches, want 2", len(patches))
	}
	if *patches[0].Status != types.StatusWarning || *patches[1].PestActivity != types.PestHigh {
		t.Errorf("sent patches = %s, %s", *patches[0].Status, *patches[1].PestActivity)
	}
	counts := types.CountByStatus(snapshot(t, r))
	if len(counts) != 3 {
		t.Errorf("CountByStatus = %v", counts)
	}
}

func TestUpdate_CoalescesQueuedEdits(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	hold := make(chan struct{})
	table.setHold(hold)
	r := startRegistry(t, table, &fakeFeed{}, Options{})
	ctx := context.Background()

	first := "First"
	if _, err := r.Update(ctx, "silo-001", types.Patch{Name: &first}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		p := r.Pending()
		if len(p) == 1 && p[0].InFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("update never went in flight: %+v", p)
		}
		time.Sleep(time.Millisecond)
	}

	second := "Second"
	hot := 35.0
	if _, err := r.Update(ctx, "silo-001", types.Patch{Name: &second}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := r.Update(ctx, "silo-001", types.Patch{Temperature: &hot}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := len(r.Pending()); n != 2 {
		t.Fatalf("Pending has %d writes, want the in-flight one and one merged update", n)
	}

	close(hold)
	drain(t, r)
	want := []string{"list", "update silo-001", "update silo-001"}
	if diff := cmp.Diff(want, table.Calls()); diff != "" {
		t.Errorf("table calls (-want +got):\n%s", diff)
	}
	last := table.Patches()[1]
	if *last.Name != "Second" || *last.Temperature != 35 {
		t.Errorf("merged patch = %+v", last)
	}
}

func TestLocalWrites_FoldIntoQueuedInsert(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	hold := make(chan struct{})
	table.setHold(hold)
	n := 0
	r := startRegistry(t, table, &fakeFeed{}, Options{NewID: func() string { n++; return fmt.Sprint(n) }})
	ctx := context.Background()
	draft := types.Draft{Name: "New", Lat: 10, Lng: 78, GrainType: "Wheat", GrainAmount: 1, Capacity: 10}

	a, err := r.Create(ctx, draft)
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	// wait until a's insert is in flight
	deadline := time.Now().Add(5 * time.Second)
	for {
		p := r.Pending()
		if len(p) == 1 && p[0].InFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("insert never went in flight: %+v", p)
		}
		time.Sleep(time.Millisecond)
	}

	b, _ := r.Create(ctx, draft)
	c, _ := r.Create(ctx, draft)

	renamed := "Renamed"
	if _, err := r.Update(ctx, b.ID, types.Patch{Name: &renamed}); err != nil {
		t.Fatalf("Update b: %v", err)
	}
	if _, err := r.Update(ctx, a.ID, types.Patch{Name: &renamed}); err != nil {
		t.Fatalf("Update a: %v", err)
	}
	if err := r.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete c: %v", err)
	}

	pending := r.Pending()
	if len(pending) != 2 || pending[1].SiloID != b.ID || *pending[1].Row.Name != renamed {
		t.Fatalf("Pending = %+v", pending)
	}

	close(hold)
	drain(t, r)
	want := []string{"list", "insert local-1", "insert local-2"}
	if diff := cmp.Diff(want, table.Calls()); diff != "" {
		t.Errorf("table calls (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"local-1", "local-2"}, ids(snapshot(t, r)[12:])); diff != "" {
		t.Errorf("local ids (-want +got):\n%s", diff)
	}
	for _, s := range snapshot(t, r)[12:] {
		if s.Name != renamed {
			t.Errorf("%s name = %q, want %q", s.ID, s.Name, renamed)
		}
	}
}

func TestDelete_IgnoresStaleInsertUntilEcho(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	f := &fakeFeed{}
	r := startRegistry(t, table, f, Options{})
	ctx := context.Background()

	s, _ := r.Get(ctx, "silo-001")
	if err := r.Delete(ctx, "silo-001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	f.emit(feed.NewInsert(types.ToRow(s), at))
	if slices.Contains(ids(snapshot(t, r)), "silo-001") {
		t.Fatal("insert of a locally deleted silo was applied")
	}

	f.emit(feed.NewDelete(types.Row{ID: "silo-001"}, at))
	f.emit(feed.NewInsert(types.ToRow(s), at))
	if !slices.Contains(ids(snapshot(t, r)), "silo-001") {
		t.Error("insert after the delete echo was ignored")
	}

	drain(t, r)
	if !slices.Contains(table.Calls(), "delete silo-001") {
		t.Errorf("table calls = %v", table.Calls())
	}
	if err := r.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestRemoteFailure_KeepsLocalState(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	table.failWrites = 5
	r := startRegistry(t, table, &fakeFeed{}, Options{})
	ctx := context.Background()

	if err := r.Delete(ctx, "silo-002"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	drain(t, r)

	if slices.Contains(ids(snapshot(t, r)), "silo-002") {
		t.Error("failed delete was rolled back")
	}
	if diff := cmp.Diff([]string{"list", "delete silo-002"}, table.Calls()); diff != "" {
		t.Errorf("table calls (-want +got):\n%s", diff)
	}
}

func TestRemoteFailure_Retries(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	table.failWrites = 2
	r := startRegistry(t, table, &fakeFeed{}, Options{MaxAttempts: 3, InitialBackoff: time.Millisecond})

	hot := 40.0
	if _, err := r.Update(context.Background(), "silo-003", types.Patch{Temperature: &hot}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	drain(t, r)
	want := []string{"list", "update silo-003", "update silo-003", "update silo-003"}
	if diff := cmp.Diff(want, table.Calls()); diff != "" {
		t.Errorf("table calls (-want +got):\n%s", diff)
	}
	got, _ := r.Get(context.Background(), "silo-003")
	if got.Status != types.StatusCritical {
		t.Errorf("status = %s, want critical", got.Status)
	}
}

func TestClose_DropsLateResults(t *testing.T) {
	table := newFakeTable(defaults.Silos())
	table.setHold(make(chan struct{}))
	f := &fakeFeed{}
	changes := &changeCounter{}
	r := startRegistry(t, table, f, Options{OnChange: changes.OnChange})

	if err := r.Delete(context.Background(), "silo-005"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	before := changes.Count()

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	f.emit(feed.NewDelete(types.Row{ID: "silo-001"}, at))

	if changes.Count() != before {
		t.Errorf("OnChange called after Close")
	}
	if f.closed != 1 {
		t.Errorf("subscription closed %d times, want 1", f.closed)
	}
	if _, err := r.Snapshot(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot after Close = %v, want ErrClosed", err)
	}
	name := "x"
	if _, err := r.Update(context.Background(), "silo-001", types.Patch{Name: &name}); !errors.Is(err, ErrClosed) {
		t.Errorf("Update after Close = %v, want ErrClosed", err)
	}
	if err := r.Drain(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		t.Errorf("Drain after Close = %v", err)
	}
}

func TestClose_BeforeStart(t *testing.T) {
	r := New(newFakeTable(nil), nil, Options{Logger: discardLogger()})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("Start after Close succeeded")
	}
	if _, err := r.Snapshot(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot = %v, want ErrClosed", err)
	}
}

type fakeActions struct {
	mu      sync.Mutex
	actions []types.Action
	err     error
}

func (a *fakeActions) InsertAction(_ context.Context, action types.Action) (types.Action, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return types.Action{}, a.err
	}
	a.actions = append(a.actions, action)
	return action, nil
}

func TestLogAction(t *testing.T) {
	actions := &fakeActions{}
	r := New(newFakeTable(defaults.Silos()), nil, Options{Logger: discardLogger(), Actions: actions, Now: func() time.Time { return at }})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.LogAction("silo-004", types.ActionVentilate)
	r.LogAction("silo-004", types.ActionTreat)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r.LogAction("silo-004", types.ActionTreat)

	actions.mu.Lock()
	defer actions.mu.Unlock()
	if len(actions.actions) != 2 {
		t.Fatalf("logged %d actions, want 2", len(actions.actions))
	}
	for _, a := range actions.actions {
		if a.SiloID != "silo-004" || !a.PerformedAt.Equal(at) {
			t.Errorf("action = %+v", a)
		}
	}
}

func TestLogAction_FailureIsSilent(t *testing.T) {
	actions := &fakeActions{err: errWrite}
	r := startRegistry(t, newFakeTable(defaults.Silos()), nil, Options{Actions: actions})
	r.LogAction("silo-001", types.ActionTreat)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(actions.actions) != 0 {
		t.Errorf("actions = %+v, want none", actions.actions)
	}
}
