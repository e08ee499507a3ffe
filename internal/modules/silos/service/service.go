// Package service is the table side of the silos module: repository writes
// followed by one change event per committed row.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/repository"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

// Publisher receives change events after their write has committed.
type Publisher interface {
	Publish(ev feed.Event)
}

type Service struct {
	repository repository.SiloRepository
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(repository repository.SiloRepository, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repository: repository, publisher: publisher, logger: logger, now: time.Now}
}

func (s *Service) List(ctx context.Context) ([]types.Row, error) {
	return s.repository.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (types.Row, error) {
	return s.repository.Get(ctx, id)
}

func (s *Service) Insert(ctx context.Context, row types.Row) (types.Row, error) {
	out, err := s.repository.Insert(ctx, row)
	if err != nil {
		return types.Row{}, err
	}
	s.publish(feed.NewInsert(out, s.now()))
	return out, nil
}

// InsertMany writes all rows in one transaction and then publishes one insert
// event per row.
func (s *Service) InsertMany(ctx context.Context, rows []types.Row) ([]types.Row, error) {
	out, err := s.repository.InsertMany(ctx, rows)
	if err != nil {
		return nil, err
	}
	at := s.now()
	for _, r := range out {
		s.publish(feed.NewInsert(r, at))
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, id string, patch types.Patch) (types.Row, error) {
	out, err := s.repository.Update(ctx, id, patch)
	if err != nil {
		return types.Row{}, err
	}
	s.publish(feed.NewUpdate(out, s.now()))
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	old, err := s.repository.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(feed.NewDelete(old, s.now()))
	return nil
}

// InsertAction records a ventilate/treat action. Actions are not part of the
// change feed.
func (s *Service) InsertAction(ctx context.Context, action types.Action) (types.Action, error) {
	return s.repository.InsertAction(ctx, action)
}

func (s *Service) ListActions(ctx context.Context, siloID string, limit int) ([]types.Action, error) {
	return s.repository.ListActions(ctx, siloID, limit)
}

func (s *Service) publish(ev feed.Event) {
	if s.publisher == nil {
		return
	}
	s.logger.Debug("publishing change event", "type", ev.Type, "id", ev.RowID())
	s.publisher.Publish(ev)
}
