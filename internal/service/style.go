package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/punchamoorthee/atelierops/internal/queue"
)

// StyleService runs the style training lifecycle:
// pending -> training -> completed | failed, with the same terminal rules as
// generation jobs. No tokens move during training, so there is nothing to
// compensate when a training dispatch fails.
type StyleService struct {
	db        *pgxpool.Pool
	notify    *Notifier
	publisher Publisher
	logger    *slog.Logger
}

func NewStyleService(db *pgxpool.Pool, notify *Notifier, publisher Publisher, logger *slog.Logger) *StyleService {
	return &StyleService{db: db, notify: notify, publisher: publisher, logger: logger}
}

// Create registers a style and dispatches its training task.
func (s *StyleService) Create(ctx context.Context, artistID int64, name string, generationCost int64) (*domain.Style, error) {
	if generationCost <= 0 {
		return nil, domain.ErrNonPositiveAmount
	}
	role, err := getAccountRole(ctx, s.db, artistID)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleArtist {
		return nil, domain.ErrArtistRequired
	}

	st := &domain.Style{
		ArtistID:       artistID,
		Name:           name,
		GenerationCost: generationCost,
		TrainingStatus: domain.StylePending,
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO styles (artist_id, name, generation_cost)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		artistID, name, generationCost,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("style insert failed: %w", err)
	}

	task := queue.TrainingTask{StyleID: st.ID, ArtistID: artistID}
	if pubErr := s.publisher.PublishTraining(ctx, task); pubErr != nil {
		dispatchFailuresTotal.Inc()
		s.logger.Error("training dispatch failed", "style_id", st.ID, "error", pubErr)
		if _, err := s.db.Exec(ctx,
			"UPDATE styles SET training_status = 'failed', updated_at = now() WHERE id = $1",
			st.ID); err != nil {
			s.logger.Error("failed to mark style failed after dispatch error",
				"style_id", st.ID, "error", err)
		}
		return nil, domain.ErrDispatchFailed
	}

	return st, nil
}

// TrainingProgress records worker progress; first call moves the style from
// pending to training. Terminal styles ignore the callback.
func (s *StyleService) TrainingProgress(ctx context.Context, styleID int64, percent float64, stage string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, err := lockStyleStatus(ctx, tx, styleID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		s.ignoreStale(styleID, status, "training_progress")
		return nil
	}

	payload, err := json.Marshal(map[string]any{"percent": percent, "stage": stage})
	if err != nil {
		return fmt.Errorf("progress marshal failed: %w", err)
	}

	if status == domain.StylePending {
		_, err = tx.Exec(ctx,
			"UPDATE styles SET training_status = 'training', training_progress = $1, updated_at = now() WHERE id = $2",
			payload, styleID)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE styles SET training_progress = $1, updated_at = now() WHERE id = $2",
			payload, styleID)
	}
	if err != nil {
		return fmt.Errorf("training progress update failed: %w", err)
	}
	return tx.Commit(ctx)
}

// TrainingComplete stores the trained model reference and notifies the
// artist. Late or duplicate completions against a terminal style are ignored.
func (s *StyleService) TrainingComplete(ctx context.Context, styleID int64, modelRef string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, err := lockStyleStatus(ctx, tx, styleID)
	if err != nil {
		return err
	}
	if !status.CanTransitionTo(domain.StyleCompleted) {
		s.ignoreStale(styleID, status, "training_complete")
		return nil
	}

	var artistID int64
	err = tx.QueryRow(ctx, `
		UPDATE styles
		SET training_status = 'completed', model_ref = $1, training_progress = NULL, updated_at = now()
		WHERE id = $2
		RETURNING artist_id`, modelRef, styleID,
	).Scan(&artistID)
	if err != nil {
		return fmt.Errorf("training complete update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}

	s.notify.Emit(ctx, artistID, nil, domain.NotifyTrainingComplete, "style", styleID)
	return nil
}

// TrainingFailed marks the style failed and notifies the artist.
func (s *StyleService) TrainingFailed(ctx context.Context, styleID int64, errorCode, errorMessage string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status, err := lockStyleStatus(ctx, tx, styleID)
	if err != nil {
		return err
	}
	if !status.CanTransitionTo(domain.StyleFailed) {
		s.ignoreStale(styleID, status, "training_failed")
		return nil
	}

	var artistID int64
	err = tx.QueryRow(ctx, `
		UPDATE styles
		SET training_status = 'failed', training_progress = NULL, updated_at = now()
		WHERE id = $1
		RETURNING artist_id`, styleID,
	).Scan(&artistID)
	if err != nil {
		return fmt.Errorf("training failed update failed: %w", err)
	}

	s.logger.Info("style training failed",
		"style_id", styleID, "error_code", errorCode, "error_message", errorMessage)

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}

	s.notify.Emit(ctx, artistID, nil, domain.NotifyTrainingFailed, "style", styleID)
	return nil
}

func (s *StyleService) ignoreStale(styleID int64, status domain.StyleStatus, callback string) {
	staleCallbacksTotal.WithLabelValues(callback).Inc()
	s.logger.Debug("stale training callback ignored",
		"style_id", styleID, "status", status, "callback", callback)
}

func lockStyleStatus(ctx context.Context, tx pgx.Tx, styleID int64) (domain.StyleStatus, error) {
	var status domain.StyleStatus
	err := tx.QueryRow(ctx,
		"SELECT training_status FROM styles WHERE id = $1 FOR UPDATE", styleID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrStyleNotFound
		}
		return "", fmt.Errorf("style lock failed: %w", err)
	}
	return status, nil
}
