package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/guruprasath0306/Silo-Monitor/internal/migrate"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/defaults"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestRepo(t *testing.T) *repositoryImpl {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	if err := migrate.Run(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &repositoryImpl{db: db, now: func() time.Time { return fixedNow }}
}

func seedDefaults(t *testing.T, repo *repositoryImpl) {
	t.Helper()
	var rows []types.Row
	for _, s := range defaults.Silos() {
		rows = append(rows, types.ToRow(s))
	}
	if _, err := repo.InsertMany(context.Background(), rows); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
}

func TestList_Empty(t *testing.T) {
	repo := setupTestRepo(t)
	rows, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("List = %v, want empty non-nil slice", rows)
	}
}

func TestList_OrderedByName(t *testing.T) {
	repo := setupTestRepo(t)
	seedDefaults(t, repo)

	rows, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 12 {
		t.Fatalf("List returned %d rows, want 12", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if *rows[i-1].Name > *rows[i].Name {
			t.Errorf("rows out of order: %q before %q", *rows[i-1].Name, *rows[i].Name)
		}
	}
	if *rows[0].Name != "Coimbatore Silo C1" {
		t.Errorf("first row = %q, want Coimbatore Silo C1", *rows[0].Name)
	}
}

func TestInsert_RoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	want := defaults.Silos()[0]
	want.OwnerPhone = "+91 98400 00000"

	if _, err := repo.Insert(ctx, types.ToRow(want)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	row, err := repo.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := types.DecodeRow(row)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored silo (-want +got):\n%s", diff)
	}
}

func TestInsert_AssignsID(t *testing.T) {
	repo := setupTestRepo(t)
	row := defaults.SeedRows()[0]

	got, err := repo.Insert(context.Background(), row)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got.ID == "" || types.IsLocalID(got.ID) {
		t.Errorf("Insert assigned id %q, want a remote id", got.ID)
	}
}

func TestInsert_DuplicateID(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	row := types.ToRow(defaults.Silos()[0])

	if _, err := repo.Insert(ctx, row); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if _, err := repo.Insert(ctx, row); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("second Insert error = %v, want ErrDuplicateID", err)
	}
}

func TestInsert_InvalidRow(t *testing.T) {
	repo := setupTestRepo(t)
	name := "No coordinates"
	_, err := repo.Insert(context.Background(), types.Row{Name: &name})
	if !errors.Is(err, types.ErrInvalidRow) {
		t.Fatalf("Insert error = %v, want ErrInvalidRow", err)
	}
}

func TestInsertMany_IsAtomic(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	silos := defaults.Silos()
	rows := []types.Row{types.ToRow(silos[0]), types.ToRow(silos[1]), types.ToRow(silos[0])}

	if _, err := repo.InsertMany(ctx, rows); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("InsertMany error = %v, want ErrDuplicateID", err)
	}
	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List after failed InsertMany = %d rows, want 0", len(got))
	}
}

func TestUpdate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	seedDefaults(t, repo)

	warning := types.StatusWarning
	row, err := repo.Update(ctx, "silo-004", types.Patch{Status: &warning})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if *row.Status != "warning" {
		t.Errorf("returned status = %q, want warning", *row.Status)
	}
	if *row.LastUpdated != types.FormatTimestamp(fixedNow) {
		t.Errorf("last_updated = %q, want %q", *row.LastUpdated, types.FormatTimestamp(fixedNow))
	}

	stored, err := repo.Get(ctx, "silo-004")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(row, stored); diff != "" {
		t.Errorf("stored row differs from returned row (-returned +stored):\n%s", diff)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	repo := setupTestRepo(t)
	name := "x"
	if _, err := repo.Update(context.Background(), "missing", types.Patch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_InvalidPatch(t *testing.T) {
	repo := setupTestRepo(t)
	seedDefaults(t, repo)
	negative := -3.0
	if _, err := repo.Update(context.Background(), "silo-001", types.Patch{Capacity: &negative}); !errors.Is(err, types.ErrInvalidSilo) {
		t.Fatalf("Update error = %v, want ErrInvalidSilo", err)
	}
}

func TestUpdate_ClearsOwnerPhone(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	s := defaults.Silos()[2]
	s.OwnerPhone = "+91 1"
	if _, err := repo.Insert(ctx, types.ToRow(s)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	empty := ""
	row, err := repo.Update(ctx, s.ID, types.Patch{OwnerPhone: &empty})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if row.OwnerPhone != nil {
		t.Errorf("owner_phone = %q, want null", *row.OwnerPhone)
	}
}

func TestDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	seedDefaults(t, repo)

	old, err := repo.Delete(ctx, "silo-004")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if old.ID != "silo-004" || *old.Name != "Coimbatore Silo C1" {
		t.Errorf("Delete returned %+v", old)
	}
	if _, err := repo.Get(ctx, "silo-004"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Delete(ctx, "silo-004"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
	rows, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 11 {
		t.Errorf("List after Delete = %d rows, want 11", len(rows))
	}
}

func TestActions(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	first, err := repo.InsertAction(ctx, types.Action{SiloID: "silo-001", Action: types.ActionVentilate})
	if err != nil {
		t.Fatalf("InsertAction: %v", err)
	}
	if first.ID == 0 || !first.PerformedAt.Equal(fixedNow) {
		t.Errorf("InsertAction = %+v", first)
	}
	later := fixedNow.Add(time.Minute)
	if _, err := repo.InsertAction(ctx, types.Action{SiloID: "silo-001", Action: "TREAT", PerformedAt: later}); err != nil {
		t.Fatalf("InsertAction: %v", err)
	}
	if _, err := repo.InsertAction(ctx, types.Action{SiloID: "silo-001", Action: "fumigate"}); err == nil {
		t.Error("InsertAction accepted unknown action")
	}
	if _, err := repo.InsertAction(ctx, types.Action{Action: types.ActionTreat}); err == nil {
		t.Error("InsertAction accepted empty silo id")
	}

	actions, err := repo.ListActions(ctx, "silo-001", 10)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("ListActions = %d, want 2", len(actions))
	}
	if actions[0].Action != types.ActionTreat || !actions[0].PerformedAt.Equal(later) {
		t.Errorf("latest action = %+v", actions[0])
	}
}
