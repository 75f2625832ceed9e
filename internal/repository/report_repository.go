package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"piperoute-system/internal/domain"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

type ReportRepository interface {
	CreateReport(ctx context.Context, report *domain.StoredReport) error
	GetReportByRun(ctx context.Context, runID string) (*domain.StoredReport, error)
	ListReports(ctx context.Context, limit int) ([]domain.StoredReport, error)
}

type rethinkReportRepository struct {
	session r.QueryExecutor
	table   string
}

func NewReportRepository(session r.QueryExecutor, table string) ReportRepository {
	return &rethinkReportRepository{
		session: session,
		table:   table,
	}
}

func (repo *rethinkReportRepository) CreateReport(ctx context.Context, rep *domain.StoredReport) error {
	rep.CreatedAt = time.Now()

	result, err := r.Table(repo.table).Insert(rep).RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	if len(result.GeneratedKeys) > 0 {
		rep.ID = result.GeneratedKeys[0]
	}

	return nil
}

func (repo *rethinkReportRepository) GetReportByRun(ctx context.Context, runID string) (*domain.StoredReport, error) {
	cursor, err := r.Table(repo.table).
		Filter(r.Row.Field("run_id").Eq(runID)).
		OrderBy(r.Desc("created_at")).
		Limit(1).
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	defer cursor.Close()

	if cursor.IsNil() {
		return nil, fmt.Errorf("report for run %s: %w", runID, ErrNotFound)
	}

	var rep domain.StoredReport
	if err := cursor.One(&rep); err != nil {
		if errors.Is(err, r.ErrEmptyResult) {
			return nil, fmt.Errorf("report for run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	return &rep, nil
}

func (repo *rethinkReportRepository) ListReports(ctx context.Context, limit int) ([]domain.StoredReport, error) {
	cursor, err := r.Table(repo.table).
		OrderBy(r.Desc("created_at")).
		Limit(limit).
		Without([]string{"pipes"}).
		Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer cursor.Close()

	var reports []domain.StoredReport
	if err := cursor.All(&reports); err != nil {
		return nil, fmt.Errorf("failed to decode reports: %w", err)
	}

	return reports, nil
}
