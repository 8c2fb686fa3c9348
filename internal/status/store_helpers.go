package status

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/database"
	"pubpipe/internal/stage"
)

const dateLayout = database.DateLayout

const attemptColumns = `release_version_id, attempt_id,
	content_stage, files_stage, publishing_stage,
	content_retries, files_retries, publishing_retries,
	content_started_at, files_started_at, publishing_started_at,
	overall_stage, log_messages, immediate, publish_on, event_raised,
	version, created_at, updated_at`

var openStates = []any{string(stage.Pending), string(stage.Scheduled), string(stage.Started)}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(scanner rowScanner) (*Attempt, error) {
	var (
		releaseID, attemptID                     string
		contentState, filesState, publishState   string
		contentRetries, filesRetries, pubRetries int
		contentStarted, filesStarted, pubStarted sql.NullString
		overall, logJSON                         string
		immediate, eventRaised                   int
		publishOn                                sql.NullString
		version                                  int64
		createdAt, updatedAt                     string
	)
	if err := scanner.Scan(
		&releaseID, &attemptID,
		&contentState, &filesState, &publishState,
		&contentRetries, &filesRetries, &pubRetries,
		&contentStarted, &filesStarted, &pubStarted,
		&overall, &logJSON, &immediate, &publishOn, &eventRaised,
		&version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	a := &Attempt{
		Stages:      make(map[stage.Stage]StageStatus, len(stage.All)),
		Overall:     stage.State(overall),
		Immediate:   immediate != 0,
		EventRaised: eventRaised != 0,
		Version:     version,
		CreatedAt:   parseTime(createdAt),
		UpdatedAt:   parseTime(updatedAt),
	}
	var err error
	if a.ReleaseVersionID, err = uuid.Parse(releaseID); err != nil {
		return nil, fmt.Errorf("parse release_version_id: %w", err)
	}
	if a.AttemptID, err = uuid.Parse(attemptID); err != nil {
		return nil, fmt.Errorf("parse attempt_id: %w", err)
	}
	a.Stages[stage.Content] = StageStatus{State: stage.State(contentState), Retries: contentRetries, StartedAt: parseNullableTime(contentStarted)}
	a.Stages[stage.Files] = StageStatus{State: stage.State(filesState), Retries: filesRetries, StartedAt: parseNullableTime(filesStarted)}
	a.Stages[stage.Publishing] = StageStatus{State: stage.State(publishState), Retries: pubRetries, StartedAt: parseNullableTime(pubStarted)}
	if publishOn.Valid && strings.TrimSpace(publishOn.String) != "" {
		if d, err := time.Parse(dateLayout, publishOn.String); err == nil {
			a.PublishOn = &d
		}
	}
	if strings.TrimSpace(logJSON) != "" {
		if err := json.Unmarshal([]byte(logJSON), &a.Log); err != nil {
			return nil, fmt.Errorf("decode log_messages: %w", err)
		}
	}
	return a, nil
}

func formatTime(t time.Time) string { return database.FormatTime(t) }

func parseTime(value string) time.Time { return database.ParseTime(value) }

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseTime(value.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func encodeLog(entries []LogMessage) (string, error) {
	if entries == nil {
		entries = []LogMessage{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode log_messages: %w", err)
	}
	return string(data), nil
}
