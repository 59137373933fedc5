package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// Schema creates the analysis_jobs table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	id              TEXT PRIMARY KEY,
	fingerprint     TEXT NOT NULL,
	industry_code   TEXT NOT NULL,
	resume_ref      TEXT NOT NULL,
	resume_text     TEXT NOT NULL,
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	attempt_history JSONB NOT NULL DEFAULT '{}'::jsonb,
	stage_results   JSONB NOT NULL DEFAULT '[]'::jsonb,
	aggregate       JSONB,
	error_kind      TEXT,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	terminal_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS analysis_jobs_status_created_idx ON analysis_jobs (status, created_at);
CREATE INDEX IF NOT EXISTS analysis_jobs_fingerprint_idx ON analysis_jobs (fingerprint);
`

const selectJobColumns = `
	SELECT id, fingerprint, industry_code, resume_ref, resume_text, status, attempts,
		attempt_history, stage_results, aggregate, error_kind, error_message,
		created_at, updated_at, terminal_at
	FROM analysis_jobs`

type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(ctx context.Context, databaseURL string) (*PostgresJobStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, apperr.Wrap(err, "create pg pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(err, "ping pg")
	}
	return &PostgresJobStore{pool: pool}, nil
}

func (s *PostgresJobStore) Close() {
	s.pool.Close()
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return apperr.Wrap(err, "apply analysis_jobs schema")
	}
	return nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job *domain.AnalysisJob) error {
	if err := checkCreate(job); err != nil {
		return err
	}
	now := time.Now().UTC()
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	history, err := json.Marshal(nonNilHistory(job.AttemptHistory))
	if err != nil {
		return apperr.Wrap(err, "encode attempt history")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (
			id, fingerprint, industry_code, resume_ref, resume_text, status,
			attempts, attempt_history, stage_results, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'[]'::jsonb,$9,$9)
	`,
		job.ID,
		job.Fingerprint,
		string(job.IndustryCode),
		job.ResumeRef,
		job.ResumeText,
		string(job.Status),
		job.Attempts,
		history,
		createdAt,
	)
	if err != nil {
		return apperr.Wrapf(err, "insert job %s", job.ID)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1`, jobID))
	if apperr.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job %s not found", jobID)
	}
	if err != nil {
		return nil, apperr.Wrapf(err, "query job %s", jobID)
	}
	return job, nil
}

func (s *PostgresJobStore) AppendStageResult(ctx context.Context, jobID string, result domain.StageResult) error {
	_, err := s.mutate(ctx, jobID, func(job *domain.AnalysisJob, now time.Time) error {
		if err := checkAppend(job, result); err != nil {
			return err
		}
		job.StageResults = append(job.StageResults, result.Clone())
		job.UpdatedAt = now
		return nil
	})
	return err
}

func (s *PostgresJobStore) Transition(
	ctx context.Context,
	jobID string,
	from, to domain.JobStatus,
	extra TransitionExtra,
) (*domain.AnalysisJob, error) {
	return s.mutate(ctx, jobID, func(job *domain.AnalysisJob, now time.Time) error {
		if err := checkTransition(job, from, to, extra); err != nil {
			return err
		}
		applyTransition(job, to, extra, now)
		return nil
	})
}

func (s *PostgresJobStore) RecordAttempt(ctx context.Context, jobID string, attempts int) error {
	_, err := s.mutate(ctx, jobID, func(job *domain.AnalysisJob, now time.Time) error {
		if err := checkRecordAttempt(job, attempts); err != nil {
			return err
		}
		job.Attempts = attempts
		job.UpdatedAt = now
		return nil
	})
	return err
}

func (s *PostgresJobStore) ListByStatus(
	ctx context.Context,
	statuses []domain.JobStatus,
	limit int,
) ([]*domain.AnalysisJob, error) {
	if limit <= 0 {
		limit = 1000
	}
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}

	rows, err := s.pool.Query(ctx, selectJobColumns+`
		WHERE status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2`, names, limit)
	if err != nil {
		return nil, apperr.Wrap(err, "list jobs by status")
	}
	defer rows.Close()

	items := make([]*domain.AnalysisJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(err, "scan job")
		}
		items = append(items, job)
	}
	if rows.Err() != nil {
		return nil, apperr.Wrap(rows.Err(), "iterate jobs")
	}
	return items, nil
}

// mutate locks the row, applies fn and writes it back guarded by the status it
// was read with, so a concurrent writer can never be overwritten.
func (s *PostgresJobStore) mutate(
	ctx context.Context,
	jobID string,
	fn func(job *domain.AnalysisJob, now time.Time) error,
) (*domain.AnalysisJob, error) {
	var updated *domain.AnalysisJob
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		job, err := scanJob(tx.QueryRow(ctx, selectJobColumns+` WHERE id = $1 FOR UPDATE`, jobID))
		if apperr.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("job %s not found", jobID)
		}
		if err != nil {
			return apperr.Wrapf(err, "lock job %s", jobID)
		}

		readStatus := job.Status
		if err := fn(job, time.Now().UTC()); err != nil {
			return err
		}
		if err := writeJob(ctx, tx, job, readStatus); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func writeJob(ctx context.Context, tx pgx.Tx, job *domain.AnalysisJob, expected domain.JobStatus) error {
	history, err := json.Marshal(nonNilHistory(job.AttemptHistory))
	if err != nil {
		return apperr.Wrap(err, "encode attempt history")
	}
	results := job.StageResults
	if results == nil {
		results = []domain.StageResult{}
	}
	encodedResults, err := json.Marshal(results)
	if err != nil {
		return apperr.Wrap(err, "encode stage results")
	}
	var encodedAggregate []byte
	if job.Aggregate != nil {
		if encodedAggregate, err = json.Marshal(job.Aggregate); err != nil {
			return apperr.Wrap(err, "encode aggregate")
		}
	}
	var errorKind, errorMessage *string
	if job.Error != nil {
		kind := string(job.Error.Kind)
		errorKind = &kind
		errorMessage = &job.Error.Message
	}

	command, err := tx.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $3,
			attempts = $4,
			attempt_history = $5,
			stage_results = $6,
			aggregate = $7,
			error_kind = $8,
			error_message = $9,
			updated_at = $10,
			terminal_at = $11
		WHERE id = $1 AND status = $2
	`,
		job.ID,
		string(expected),
		string(job.Status),
		job.Attempts,
		history,
		encodedResults,
		encodedAggregate,
		errorKind,
		errorMessage,
		job.UpdatedAt,
		job.TerminalAt,
	)
	if err != nil {
		return apperr.Wrapf(err, "update job %s", job.ID)
	}
	if command.RowsAffected() == 0 {
		return apperr.StatusConflict("job %s changed status concurrently", job.ID)
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.AnalysisJob, error) {
	var (
		job          domain.AnalysisJob
		industry     string
		status       string
		history      []byte
		results      []byte
		aggregate    []byte
		errorKind    *string
		errorMessage *string
	)
	err := row.Scan(
		&job.ID,
		&job.Fingerprint,
		&industry,
		&job.ResumeRef,
		&job.ResumeText,
		&status,
		&job.Attempts,
		&history,
		&results,
		&aggregate,
		&errorKind,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.TerminalAt,
	)
	if err != nil {
		return nil, err
	}

	job.IndustryCode = domain.IndustryCode(industry)
	job.Status = domain.JobStatus(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &job.AttemptHistory); err != nil {
			return nil, apperr.Wrap(err, "decode attempt history")
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &job.StageResults); err != nil {
			return nil, apperr.Wrap(err, "decode stage results")
		}
	}
	if len(aggregate) > 0 {
		job.Aggregate = &domain.Aggregate{}
		if err := json.Unmarshal(aggregate, job.Aggregate); err != nil {
			return nil, apperr.Wrap(err, "decode aggregate")
		}
	}
	if errorKind != nil {
		job.Error = &domain.JobError{Kind: apperr.Kind(*errorKind)}
		if errorMessage != nil {
			job.Error.Message = *errorMessage
		}
	}
	return &job, nil
}

func nonNilHistory(history map[domain.StageKind]int) map[domain.StageKind]int {
	if history == nil {
		return map[domain.StageKind]int{}
	}
	return history
}
