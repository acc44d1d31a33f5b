package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/punchamoorthee/atelierops/internal/queue"
)

// Publisher dispatches work items to the external compute workers.
type Publisher interface {
	PublishGeneration(ctx context.Context, task queue.GenerationTask) error
	PublishTraining(ctx context.Context, task queue.TrainingTask) error
}

// GenerationService drives the job state machine:
// queued -> processing -> completed | failed. Terminal states are final.
// The orchestrator never retries generation itself; it guarantees exactly
// one debit on submit and at most one refund per job, no matter how many
// duplicate callbacks the workers emit.
type GenerationService struct {
	db        *pgxpool.Pool
	ledger    *Ledger
	notify    *Notifier
	publisher Publisher
	logger    *slog.Logger
}

func NewGenerationService(db *pgxpool.Pool, ledger *Ledger, notify *Notifier, publisher Publisher, logger *slog.Logger) *GenerationService {
	return &GenerationService{db: db, ledger: ledger, notify: notify, publisher: publisher, logger: logger}
}

// SubmitRequest carries a generation order.
type SubmitRequest struct {
	RequesterID int64    `json:"requester_id"`
	StyleID     int64    `json:"style_id"`
	PromptTags  []string `json:"prompt_tags"`
	AspectRatio string   `json:"aspect_ratio"`
}

// Submit debits the requester and creates the job in one transaction, then
// publishes the work item. The debit is the point of no return: it commits
// before any network dispatch, and a publish failure is compensated by
// driving the job to failed and refunding, so tokens are never captured
// without dispatched work.
func (s *GenerationService) Submit(ctx context.Context, req SubmitRequest) (*domain.GenerationJob, error) {
	if _, ok := domain.AspectRatios[req.AspectRatio]; !ok {
		return nil, domain.ErrBadAspectRatio
	}
	if len(req.PromptTags) == 0 {
		return nil, fmt.Errorf("submit: prompt tags required")
	}

	job, style, err := s.submitTx(ctx, req)
	if err != nil {
		return nil, err
	}

	task := queue.GenerationTask{
		JobID:       job.ID,
		StyleID:     style.ID,
		RequesterID: req.RequesterID,
		ModelRef:    style.ModelRef,
		PromptTags:  req.PromptTags,
		AspectRatio: req.AspectRatio,
	}
	if pubErr := s.publisher.PublishGeneration(ctx, task); pubErr != nil {
		dispatchFailuresTotal.Inc()
		s.logger.Error("generation dispatch failed, compensating",
			"job_id", job.ID, "error", pubErr)
		if failErr := s.Fail(ctx, job.ID, "DISPATCH_FAILED", pubErr.Error()); failErr != nil {
			// Tokens are captured with no dispatched work; the reconciliation
			// sweep re-enters through the same Fail path.
			s.logger.Error("compensation failed after dispatch error",
				"job_id", job.ID, "error", failErr)
			return nil, fmt.Errorf("dispatch and compensation both failed: %w", failErr)
		}
		return nil, domain.ErrDispatchFailed
	}

	return job, nil
}

// submitTx holds the atomic part of Submit: style check, debit, job row.
func (s *GenerationService) submitTx(ctx context.Context, req SubmitRequest) (*domain.GenerationJob, *domain.Style, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var style domain.Style
	err = tx.QueryRow(ctx, `
		SELECT id, artist_id, name, generation_cost, training_status, COALESCE(model_ref, '')
		FROM styles WHERE id = $1`, req.StyleID,
	).Scan(&style.ID, &style.ArtistID, &style.Name, &style.GenerationCost,
		&style.TrainingStatus, &style.ModelRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrStyleNotFound
		}
		return nil, nil, fmt.Errorf("style lookup failed: %w", err)
	}
	if style.TrainingStatus != domain.StyleCompleted || style.ModelRef == "" {
		return nil, nil, domain.ErrStyleNotReady
	}

	cost, _ := domain.JobCost(&style, req.AspectRatio)

	// Debit requester -> artist. Locks both accounts in ascending id order.
	debit, err := s.ledger.debitAndCreditTx(ctx, tx, req.RequesterID, &style.ArtistID,
		cost, &style.ID, nil,
		fmt.Sprintf("generation using style %q", style.Name))
	if err != nil {
		return nil, nil, err
	}

	progress, err := json.Marshal(map[string]any{"prompt_tags": req.PromptTags})
	if err != nil {
		return nil, nil, fmt.Errorf("progress marshal failed: %w", err)
	}

	job := &domain.GenerationJob{
		RequesterID:    req.RequesterID,
		StyleID:        style.ID,
		AspectRatio:    req.AspectRatio,
		ConsumedTokens: cost,
		Status:         domain.JobQueued,
		Progress:       progress,
		DebitTxID:      debit.ID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO generation_jobs (requester_id, style_id, aspect_ratio,
		                             consumed_tokens, progress, debit_tx_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		req.RequesterID, style.ID, req.AspectRatio, cost, progress, debit.ID,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("job insert failed: %w", err)
	}

	// Backfill the debit's job reference now that the job id exists.
	if _, err := tx.Exec(ctx,
		"UPDATE transactions SET related_job_id = $1 WHERE id = $2",
		job.ID, debit.ID); err != nil {
		return nil, nil, fmt.Errorf("debit link failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return job, &style, nil
}

// Progress handles a worker progress callback. The first call moves
// queued -> processing; repeats while processing only refresh the payload;
// calls on a terminal job are logged and ignored, never surfaced as errors,
// to avoid poison-retry loops on the worker side.
func (s *GenerationService) Progress(ctx context.Context, jobID int64, percent float64, stage string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, err := lockJobStatus(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		s.ignoreStale(jobID, status, "progress")
		return nil
	}

	payload, err := json.Marshal(map[string]any{"percent": percent, "stage": stage})
	if err != nil {
		return fmt.Errorf("progress marshal failed: %w", err)
	}

	if status == domain.JobQueued {
		_, err = tx.Exec(ctx,
			"UPDATE generation_jobs SET status = 'processing', progress = $1 WHERE id = $2",
			payload, jobID)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE generation_jobs SET progress = $1 WHERE id = $2",
			payload, jobID)
	}
	if err != nil {
		return fmt.Errorf("progress update failed: %w", err)
	}
	return tx.Commit(ctx)
}

// Complete handles a worker success callback. Duplicates return the prior
// result; a completion arriving after failed is rejected as stale, because
// the refund has already been issued and the job cannot flip.
func (s *GenerationService) Complete(ctx context.Context, jobID int64, resultRef string) (*domain.GenerationJob, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, err := lockJobStatus(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	if !status.CanTransitionTo(domain.JobCompleted) {
		// Idempotent replay of a completion, or a late completion racing a
		// committed failure; either way the stored state stands.
		s.ignoreStale(jobID, status, "complete")
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("tx commit failed: %w", err)
		}
		return s.getJob(ctx, jobID)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE generation_jobs
		SET status = 'completed', result_ref = $1, progress = NULL, completed_at = $2
		WHERE id = $3`, resultRef, now, jobID); err != nil {
		return nil, fmt.Errorf("complete update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.notify.Emit(ctx, job.RequesterID, nil, domain.NotifyGenerationComplete, "generation", job.ID)
	return job, nil
}

// Fail handles a worker failure callback (and the dispatch-failure
// compensation path). The transition to failed and the refund of the
// original debit commit in the same transaction, so "failed" and "refunded"
// can never diverge. Calls on a terminal job are no-ops.
func (s *GenerationService) Fail(ctx context.Context, jobID int64, errorCode, errorMessage string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, err := lockJobStatus(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if !status.CanTransitionTo(domain.JobFailed) {
		s.ignoreStale(jobID, status, "fail")
		return nil
	}

	var debitTxID, requesterID int64
	err = tx.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = 'failed', error_code = $1, error_message = $2,
		    progress = NULL, completed_at = now()
		WHERE id = $3
		RETURNING debit_tx_id, requester_id`, errorCode, errorMessage, jobID,
	).Scan(&debitTxID, &requesterID)
	if err != nil {
		return fmt.Errorf("fail update failed: %w", err)
	}

	if _, err := s.ledger.refundTx(ctx, tx, debitTxID); err != nil {
		// ErrAlreadyRefunded here would mean a failed job re-entered the
		// non-terminal branch, which the row lock excludes; treat any refund
		// error as fatal and roll the whole unit back.
		return fmt.Errorf("refund for job %d: %w", jobID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}

	s.notify.Emit(ctx, requesterID, nil, domain.NotifyGenerationFailed, "generation", jobID)
	return nil
}

func (s *GenerationService) ignoreStale(jobID int64, status domain.JobStatus, callback string) {
	staleCallbacksTotal.WithLabelValues(callback).Inc()
	s.logger.Debug("stale job callback ignored",
		"job_id", jobID, "status", status, "callback", callback)
}

func (s *GenerationService) getJob(ctx context.Context, id int64) (*domain.GenerationJob, error) {
	var j domain.GenerationJob
	err := s.db.QueryRow(ctx, `
		SELECT id, requester_id, style_id, aspect_ratio, consumed_tokens, status,
		       result_ref, progress, debit_tx_id, error_code, error_message,
		       created_at, completed_at
		FROM generation_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.RequesterID, &j.StyleID, &j.AspectRatio, &j.ConsumedTokens,
		&j.Status, &j.ResultRef, &j.Progress, &j.DebitTxID, &j.ErrorCode,
		&j.ErrorMessage, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

// lockJobStatus pins the job row and returns its current status. The job row
// lock is always taken before any account locks in the same transaction,
// keeping the global lock order consistent.
func lockJobStatus(ctx context.Context, tx pgx.Tx, jobID int64) (domain.JobStatus, error) {
	var status domain.JobStatus
	err := tx.QueryRow(ctx,
		"SELECT status FROM generation_jobs WHERE id = $1 FOR UPDATE", jobID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("job lock failed: %w", err)
	}
	return status, nil
}
