package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

//go:embed sql/list-silos.sql
var listSilosSQL string

//go:embed sql/get-silo.sql
var getSiloSQL string

//go:embed sql/insert-silo.sql
var insertSiloSQL string

//go:embed sql/update-silo.sql
var updateSiloSQL string

//go:embed sql/delete-silo.sql
var deleteSiloSQL string

//go:embed sql/insert-action.sql
var insertActionSQL string

//go:embed sql/list-actions.sql
var listActionsSQL string

var (
	ErrNotFound    = errors.New("silo not found")
	ErrDuplicateID = errors.New("silo id already exists")
)

// SiloRepository is the silos and silo_actions tables. Rows are validated with
// types.DecodeRow before they are written, so everything read back decodes.
type SiloRepository interface {
	List(ctx context.Context) ([]types.Row, error)
	Get(ctx context.Context, id string) (types.Row, error)
	Insert(ctx context.Context, row types.Row) (types.Row, error)
	InsertMany(ctx context.Context, rows []types.Row) ([]types.Row, error)
	Update(ctx context.Context, id string, patch types.Patch) (types.Row, error)
	Delete(ctx context.Context, id string) (types.Row, error)
	InsertAction(ctx context.Context, action types.Action) (types.Action, error)
	ListActions(ctx context.Context, siloID string, limit int) ([]types.Action, error)
}

type repositoryImpl struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) SiloRepository {
	return &repositoryImpl{db: db, now: time.Now}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *repositoryImpl) List(ctx context.Context) ([]types.Row, error) {
	rows, err := r.db.QueryContext(ctx, listSilosSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close silos rows", "error", err)
		}
	}()
	out := []types.Row{}
	for rows.Next() {
		s, err := scanSilo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, types.ToRow(s))
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Get(ctx context.Context, id string) (types.Row, error) {
	s, err := getSilo(ctx, r.db, id)
	if err != nil {
		return types.Row{}, err
	}
	return types.ToRow(s), nil
}

func (r *repositoryImpl) Insert(ctx context.Context, row types.Row) (types.Row, error) {
	s, err := r.prepareInsert(row)
	if err != nil {
		return types.Row{}, err
	}
	if err := insertSilo(ctx, r.db, s); err != nil {
		return types.Row{}, err
	}
	return types.ToRow(s), nil
}

// InsertMany inserts all rows in one transaction; either every row is written or
// none is.
func (r *repositoryImpl) InsertMany(ctx context.Context, rows []types.Row) ([]types.Row, error) {
	silos := make([]types.Silo, 0, len(rows))
	for _, row := range rows {
		s, err := r.prepareInsert(row)
		if err != nil {
			return nil, err
		}
		silos = append(silos, s)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]types.Row, 0, len(silos))
	for _, s := range silos {
		if err := insertSilo(ctx, tx, s); err != nil {
			return nil, err
		}
		out = append(out, types.ToRow(s))
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies patch to the stored silo. The last_updated column is set to the
// current time unless the patch carries one.
func (r *repositoryImpl) Update(ctx context.Context, id string, patch types.Patch) (types.Row, error) {
	if err := patch.Validate(); err != nil {
		return types.Row{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Row{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getSilo(ctx, tx, id)
	if err != nil {
		return types.Row{}, err
	}
	if patch.LastUpdated == nil {
		now := r.now().UTC()
		patch.LastUpdated = &now
	}
	next := patch.Apply(current)

	if _, err := tx.ExecContext(ctx, updateSiloSQL,
		next.Name, next.GrainType, next.GrainAmount, next.Capacity, string(next.Status),
		next.Sensors.Temperature, next.Sensors.Humidity, string(next.Sensors.PestActivity),
		nullFloat(next.Sensors.CO2Level), types.FormatTimestamp(next.LastUpdated), nullString(next.OwnerPhone),
		id,
	); err != nil {
		return types.Row{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Row{}, err
	}
	return types.ToRow(next), nil
}

// Delete removes the silo and returns the row as it was.
func (r *repositoryImpl) Delete(ctx context.Context, id string) (types.Row, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Row{}, err
	}
	defer func() { _ = tx.Rollback() }()

	old, err := getSilo(ctx, tx, id)
	if err != nil {
		return types.Row{}, err
	}
	if _, err := tx.ExecContext(ctx, deleteSiloSQL, id); err != nil {
		return types.Row{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Row{}, err
	}
	return types.ToRow(old), nil
}

func (r *repositoryImpl) InsertAction(ctx context.Context, action types.Action) (types.Action, error) {
	if strings.TrimSpace(action.SiloID) == "" {
		return types.Action{}, errors.New("silo_id is required")
	}
	kind, err := types.ParseActionKind(string(action.Action))
	if err != nil {
		return types.Action{}, err
	}
	action.Action = kind
	if action.PerformedAt.IsZero() {
		action.PerformedAt = r.now()
	}
	action.PerformedAt = action.PerformedAt.UTC()

	res, err := r.db.ExecContext(ctx, insertActionSQL,
		action.SiloID, string(action.Action), types.FormatTimestamp(action.PerformedAt))
	if err != nil {
		return types.Action{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Action{}, err
	}
	action.ID = id
	return action, nil
}

func (r *repositoryImpl) ListActions(ctx context.Context, siloID string, limit int) ([]types.Action, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listActionsSQL, siloID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close silo_actions rows", "error", err)
		}
	}()
	out := []types.Action{}
	for rows.Next() {
		var (
			a           types.Action
			kind, atStr string
		)
		if err := rows.Scan(&a.ID, &a.SiloID, &kind, &atStr); err != nil {
			return nil, err
		}
		a.Action = types.ActionKind(kind)
		at, err := types.ParseTimestamp(atStr)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", a.ID, err)
		}
		a.PerformedAt = at
		out = append(out, a)
	}
	return out, rows.Err()
}

// prepareInsert assigns an id when the row has none and validates the result.
func (r *repositoryImpl) prepareInsert(row types.Row) (types.Silo, error) {
	if strings.TrimSpace(row.ID) == "" {
		row.ID = uuid.NewString()
	}
	s, err := types.DecodeRow(row)
	if err != nil {
		return types.Silo{}, err
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = r.now().UTC()
	}
	return s, nil
}

func insertSilo(ctx context.Context, q querier, s types.Silo) error {
	_, err := q.ExecContext(ctx, insertSiloSQL,
		s.ID, s.Name, s.Lat, s.Lng, s.GrainType, s.GrainAmount, s.Capacity, string(s.Status),
		s.Sensors.Temperature, s.Sensors.Humidity, string(s.Sensors.PestActivity),
		nullFloat(s.Sensors.CO2Level), types.FormatTimestamp(s.LastUpdated), nullString(s.OwnerPhone),
	)
	if isPrimaryKeyViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
	}
	return err
}

func getSilo(ctx context.Context, q querier, id string) (types.Silo, error) {
	s, err := scanSilo(q.QueryRowContext(ctx, getSiloSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Silo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSilo(sc scanner) (types.Silo, error) {
	var (
		s            types.Silo
		status, pest string
		co2          sql.NullFloat64
		lastUpdated  string
		phone        sql.NullString
	)
	if err := sc.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.GrainType, &s.GrainAmount, &s.Capacity, &status,
		&s.Sensors.Temperature, &s.Sensors.Humidity, &pest, &co2, &lastUpdated, &phone); err != nil {
		return types.Silo{}, err
	}
	s.Status = types.Status(status)
	s.Sensors.PestActivity = types.PestActivity(pest)
	if co2.Valid {
		v := co2.Float64
		s.Sensors.CO2Level = &v
	}
	if phone.Valid {
		s.OwnerPhone = phone.String
	}
	t, err := types.ParseTimestamp(lastUpdated)
	if err != nil {
		return types.Silo{}, fmt.Errorf("silo %s: %w", s.ID, err)
	}
	s.LastUpdated = t
	return s, nil
}

func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
