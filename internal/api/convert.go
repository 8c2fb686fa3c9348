package api

import (
	"time"

	"pubpipe/internal/database"
	"pubpipe/internal/stage"
	"pubpipe/internal/status"
)

// FromAttempt converts a status.Attempt into its API representation.
func FromAttempt(att *status.Attempt) Attempt {
	if att == nil {
		return Attempt{}
	}
	out := Attempt{
		ReleaseVersionID: att.ReleaseVersionID.String(),
		AttemptID:        att.AttemptID.String(),
		Overall:          string(att.Overall),
		Stages:           make(map[string]StageStatus, len(stage.All)),
		Immediate:        att.Immediate,
		EventRaised:      att.EventRaised,
		Log:              make([]LogEntry, 0, len(att.Log)),
		CreatedAt:        formatTime(att.CreatedAt),
		UpdatedAt:        formatTime(att.UpdatedAt),
	}
	if att.PublishOn != nil {
		out.PublishOn = att.PublishOn.Format(database.DateLayout)
	}
	for _, s := range stage.All {
		st := att.Stage(s)
		dto := StageStatus{State: string(st.State), Retries: st.Retries}
		if st.StartedAt != nil {
			dto.StartedAt = formatTime(*st.StartedAt)
		}
		out.Stages[string(s)] = dto
	}
	for _, entry := range att.Log {
		out.Log = append(out.Log, LogEntry{
			Stage:     string(entry.Stage),
			Timestamp: formatTime(entry.Timestamp),
			Message:   entry.Message,
		})
	}
	return out
}

// FromAttempts converts a list of attempts, newest first.
func FromAttempts(attempts []*status.Attempt) []Attempt {
	out := make([]Attempt, 0, len(attempts))
	for _, att := range attempts {
		out = append(out, FromAttempt(att))
	}
	return SortAttemptsNewestFirst(out)
}

// FromHealth converts collaborator health records.
func FromHealth(records []stage.Health) HealthResponse {
	resp := HealthResponse{Ready: stage.AllReady(records), Checks: make([]HealthCheck, 0, len(records))}
	for _, h := range records {
		resp.Checks = append(resp.Checks, HealthCheck{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
