package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"piperoute-system/internal/domain"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

var ErrNotFound = errors.New("not found")

type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.SimulationRun) error
	GetRun(ctx context.Context, id string) (*domain.SimulationRun, error)
	UpdateRun(ctx context.Context, id string, updates map[string]any) error
	ListRuns(ctx context.Context, limit int) ([]domain.SimulationRun, error)
}

type rethinkRunRepository struct {
	session r.QueryExecutor
	table   string
}

func NewRunRepository(session r.QueryExecutor, table string) RunRepository {
	return &rethinkRunRepository{
		session: session,
		table:   table,
	}
}

func (repo *rethinkRunRepository) CreateRun(ctx context.Context, run *domain.SimulationRun) error {
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now

	result, err := r.Table(repo.table).Insert(run).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	if len(result.GeneratedKeys) > 0 {
		run.ID = result.GeneratedKeys[0]
	}

	return nil
}

func (repo *rethinkRunRepository) GetRun(ctx context.Context, id string) (*domain.SimulationRun, error) {
	cursor, err := r.Table(repo.table).Get(id).Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	var run domain.SimulationRun
	if err := cursor.One(&run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}

	return &run, nil
}

func (repo *rethinkRunRepository) UpdateRun(ctx context.Context, id string, updates map[string]any) error {
	updates["updated_at"] = time.Now()

	_, err := r.Table(repo.table).Get(id).Update(updates).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

func (repo *rethinkRunRepository) ListRuns(ctx context.Context, limit int) ([]domain.SimulationRun, error) {
	cursor, err := r.Table(repo.table).
		OrderBy(r.Desc("created_at")).
		Limit(limit).
		Without([]string{"pipes", "csv"}).
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close()

	var runs []domain.SimulationRun
	if err := cursor.All(&runs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}

	return runs, nil
}
