package status

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/logging"
	"pubpipe/internal/stage"
)

// TransitionStage atomically moves one stage from the expected state to the
// next one and optionally appends a log entry. A stale expectation returns a
// *ConflictError (errors.Is ErrConcurrencyConflict); a terminal attempt returns
// ErrAttemptClosed. Row-version races with writes to other fields are retried
// here by re-reading.
func (s *Store) TransitionStage(ctx context.Context, releaseVersionID, attemptID uuid.UUID, st stage.Stage, from, to stage.State, logMessage string) (*Attempt, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("transition stage: unknown stage %q", st)
	}
	if !stage.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, st, from, to)
	}

	for try := 0; try < maxVersionRetries; try++ {
		current, err := s.Get(ctx, releaseVersionID, attemptID)
		if err != nil {
			return nil, err
		}
		if !current.IsOpen() {
			return current, fmt.Errorf("%w: attempt %s is %s", ErrAttemptClosed, attemptID, current.Overall)
		}
		status := current.Stage(st)
		if status.State != from {
			return current, &ConflictError{Stage: st, Expected: from, Actual: status.State}
		}

		now := s.now()
		next := current.clone()
		status.State = to
		switch to {
		case stage.Started:
			started := now
			status.StartedAt = &started
		case stage.Scheduled:
			if from == stage.Started {
				status.Retries++
			}
			status.StartedAt = nil
		}
		next.Stages[st] = status
		if logMessage != "" {
			next.Log = append(next.Log, LogMessage{Stage: st, Timestamp: now, Message: logMessage})
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		logJSON, err := encodeLog(next.Log)
		if err != nil {
			return nil, err
		}
		col := st.Column()
		res, err := s.db.ExecContext(ctx, `UPDATE publishing_attempts SET
				`+col+`_stage = ?, `+col+`_retries = ?, `+col+`_started_at = ?,
				log_messages = ?, version = ?, updated_at = ?
			WHERE release_version_id = ? AND attempt_id = ? AND version = ?`,
			string(status.State), status.Retries, nullableTime(status.StartedAt),
			logJSON, next.Version, formatTime(now),
			releaseVersionID.String(), attemptID.String(), current.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("transition %s stage: %w", st, err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return next, nil
		}
		s.logger.Debug("attempt version moved during stage transition; re-reading",
			logging.String(logging.FieldAttemptID, attemptID.String()),
			logging.String(logging.FieldStage, string(st)),
			logging.Int("try", try+1),
		)
	}
	return nil, fmt.Errorf("%w: %s stage of attempt %s kept changing", ErrConcurrencyConflict, st, attemptID)
}

// ReclaimStage restarts the clock of a stage that has been started since
// before startedBefore, recording now as its new start time. It reports false
// when the stage has since moved on, was already reclaimed, or the attempt is
// closed, so concurrent sweeps reclaim a stage once.
func (s *Store) ReclaimStage(ctx context.Context, releaseVersionID, attemptID uuid.UUID, st stage.Stage, startedBefore, now time.Time) (bool, error) {
	if !st.Valid() {
		return false, fmt.Errorf("reclaim stage: unknown stage %q", st)
	}
	for try := 0; try < maxVersionRetries; try++ {
		current, err := s.Get(ctx, releaseVersionID, attemptID)
		if err != nil {
			return false, err
		}
		status := current.Stage(st)
		if !current.IsOpen() || status.State != stage.Started || status.StartedAt == nil || status.StartedAt.After(startedBefore) {
			return false, nil
		}

		next := current.clone()
		started := now
		status.StartedAt = &started
		next.Stages[st] = status
		next.Log = append(next.Log, LogMessage{Stage: st, Timestamp: now,
			Message: fmt.Sprintf("%s stage restarted after running past its grace period", st)})
		next.Version = current.Version + 1
		next.UpdatedAt = now

		logJSON, err := encodeLog(next.Log)
		if err != nil {
			return false, err
		}
		col := st.Column()
		res, err := s.db.ExecContext(ctx, `UPDATE publishing_attempts SET
				`+col+`_started_at = ?, log_messages = ?, version = ?, updated_at = ?
			WHERE release_version_id = ? AND attempt_id = ? AND version = ?`,
			nullableTime(status.StartedAt), logJSON, next.Version, formatTime(now),
			releaseVersionID.String(), attemptID.String(), current.Version,
		)
		if err != nil {
			return false, fmt.Errorf("reclaim %s stage: %w", st, err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s stage of attempt %s kept changing", ErrConcurrencyConflict, st, attemptID)
}

// OverallUpdate is the completion coordinator's decision for one evaluation.
type OverallUpdate struct {
	Overall    stage.State
	ClaimEvent bool
	LogMessage string
}

// UpdateOverallStage atomically applies decide to the current record. decide
// returns false when no write is needed. It is retried against fresh state on
// version conflicts, so the returned flag tells the caller whether its own
// decision was the one persisted. Only the completion coordinator calls this.
func (s *Store) UpdateOverallStage(ctx context.Context, releaseVersionID, attemptID uuid.UUID, decide func(*Attempt) (OverallUpdate, bool)) (*Attempt, OverallUpdate, bool, error) {
	for try := 0; try < maxVersionRetries; try++ {
		current, err := s.Get(ctx, releaseVersionID, attemptID)
		if err != nil {
			return nil, OverallUpdate{}, false, err
		}
		update, ok := decide(current.clone())
		if !ok {
			return current, OverallUpdate{}, false, nil
		}

		now := s.now()
		next := current.clone()
		next.Overall = update.Overall
		next.EventRaised = current.EventRaised || update.ClaimEvent
		if update.LogMessage != "" {
			next.Log = append(next.Log, LogMessage{Timestamp: now, Message: update.LogMessage})
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		logJSON, err := encodeLog(next.Log)
		if err != nil {
			return nil, OverallUpdate{}, false, err
		}
		res, err := s.db.ExecContext(ctx, `UPDATE publishing_attempts SET
				overall_stage = ?, event_raised = ?, log_messages = ?, version = ?, updated_at = ?
			WHERE release_version_id = ? AND attempt_id = ? AND version = ?`,
			string(next.Overall), boolToInt(next.EventRaised), logJSON, next.Version, formatTime(now),
			releaseVersionID.String(), attemptID.String(), current.Version,
		)
		if err != nil {
			return nil, OverallUpdate{}, false, fmt.Errorf("update overall stage: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return next, update, true, nil
		}
	}
	return nil, OverallUpdate{}, false, fmt.Errorf("%w: overall stage of attempt %s kept changing", ErrConcurrencyConflict, attemptID)
}
