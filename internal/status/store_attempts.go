package status

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/database"
	"pubpipe/internal/logging"
	"pubpipe/internal/stage"
)

// CreateOption customises a new attempt.
type CreateOption func(*Attempt)

// WithPublishOn records the calendar date the release is scheduled to go live.
func WithPublishOn(date time.Time) CreateOption {
	return func(a *Attempt) {
		d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		a.PublishOn = &d
	}
}

// WithAttemptID fixes the attempt identifier instead of generating one.
func WithAttemptID(id uuid.UUID) CreateOption {
	return func(a *Attempt) {
		a.AttemptID = id
	}
}

// Create starts a new attempt for a release version. Any attempt of the same
// release version that is still open is moved to superseded in the same
// transaction and is never mutated afterwards.
func (s *Store) Create(ctx context.Context, releaseVersionID uuid.UUID, immediate bool, opts ...CreateOption) (uuid.UUID, error) {
	now := s.now()
	attempt := &Attempt{
		ReleaseVersionID: releaseVersionID,
		AttemptID:        uuid.New(),
		Stages: map[stage.Stage]StageStatus{
			stage.Content:    {State: stage.Pending},
			stage.Files:      {State: stage.Pending},
			stage.Publishing: {State: stage.Pending},
		},
		Overall:   stage.Pending,
		Immediate: immediate,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(attempt)
	}
	message := "attempt created"
	if immediate {
		message = "attempt created for immediate publication"
	} else if attempt.PublishOn != nil {
		message = "attempt created for publication on " + attempt.PublishOn.Format(dateLayout)
	}
	attempt.Log = []LogMessage{{Timestamp: now, Message: message}}
	logJSON, err := encodeLog(attempt.Log)
	if err != nil {
		return uuid.Nil, err
	}

	var superseded int64
	for try := 0; ; try++ {
		err = s.db.InTx(ctx, func(tx *database.Tx) error {
			res, err := tx.ExecContext(ctx, `UPDATE publishing_attempts
				SET overall_stage = ?, version = version + 1, updated_at = ?
				WHERE release_version_id = ? AND overall_stage IN (?, ?, ?)`,
				append([]any{string(stage.Superseded), formatTime(now), releaseVersionID.String()}, openStates...)...)
			if err != nil {
				return fmt.Errorf("supersede open attempts: %w", err)
			}
			superseded, _ = res.RowsAffected()

			_, err = tx.ExecContext(ctx, `INSERT INTO publishing_attempts (
				release_version_id, attempt_id, content_stage, files_stage, publishing_stage,
				overall_stage, log_messages, immediate, publish_on, event_raised, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)`,
				releaseVersionID.String(), attempt.AttemptID.String(),
				string(stage.Pending), string(stage.Pending), string(stage.Pending),
				string(stage.Pending), logJSON, boolToInt(immediate), nullableDate(attempt.PublishOn),
				formatTime(now), formatTime(now),
			)
			if err != nil {
				return fmt.Errorf("insert attempt: %w", err)
			}
			return nil
		})
		// A concurrent Create committed its open attempt first; supersede it on the next pass.
		if err != nil && database.IsUniqueViolation(err) && try < maxVersionRetries {
			continue
		}
		break
	}
	if err != nil {
		return uuid.Nil, err
	}
	if superseded > 0 {
		s.logger.Info("superseded open attempts",
			logging.String(logging.FieldReleaseVersionID, releaseVersionID.String()),
			logging.String(logging.FieldAttemptID, attempt.AttemptID.String()),
			logging.Int64("superseded", superseded),
			logging.String(logging.FieldEventType, "attempt_superseded"),
		)
	}
	return attempt.AttemptID, nil
}

// Get returns one attempt or ErrNotFound.
func (s *Store) Get(ctx context.Context, releaseVersionID, attemptID uuid.UUID) (*Attempt, error) {
	var attempt *Attempt
	err := s.db.Query(ctx,
		"SELECT "+attemptColumns+" FROM publishing_attempts WHERE release_version_id = ? AND attempt_id = ?",
		[]any{releaseVersionID.String(), attemptID.String()},
		func(rows *sql.Rows) error {
			a, err := scanAttempt(rows)
			attempt = a
			return err
		})
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt == nil {
		return nil, fmt.Errorf("%w: release version %s attempt %s", ErrNotFound, releaseVersionID, attemptID)
	}
	return attempt, nil
}

// GetLatest returns the most recently created attempt for a release version,
// or nil when none exists.
func (s *Store) GetLatest(ctx context.Context, releaseVersionID uuid.UUID) (*Attempt, error) {
	attempts, err := s.list(ctx,
		"SELECT "+attemptColumns+` FROM publishing_attempts WHERE release_version_id = ?
			ORDER BY created_at DESC,
				CASE WHEN overall_stage IN (?, ?, ?) THEN 0 ELSE 1 END
			LIMIT 1`,
		append([]any{releaseVersionID.String()}, openStates...)...)
	if err != nil {
		return nil, fmt.Errorf("get latest attempt: %w", err)
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return attempts[0], nil
}

// History returns every attempt of a release version, oldest first.
func (s *Store) History(ctx context.Context, releaseVersionID uuid.UUID) ([]*Attempt, error) {
	attempts, err := s.list(ctx,
		"SELECT "+attemptColumns+" FROM publishing_attempts WHERE release_version_id = ? ORDER BY created_at",
		releaseVersionID.String())
	if err != nil {
		return nil, fmt.Errorf("attempt history: %w", err)
	}
	return attempts, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Attempt, error) {
	var attempts []*Attempt
	err := s.db.Query(ctx, query, args, func(rows *sql.Rows) error {
		a, err := scanAttempt(rows)
		if err != nil {
			return err
		}
		attempts = append(attempts, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
