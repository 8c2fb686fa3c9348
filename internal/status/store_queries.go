package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pubpipe/internal/database"
	"pubpipe/internal/stage"
)

// DueToday returns open attempts that are immediate or whose publish date is
// on or before the calendar day of now.
func (s *Store) DueToday(ctx context.Context, now time.Time) ([]*Attempt, error) {
	today := now.Format(dateLayout)
	attempts, err := s.list(ctx,
		"SELECT "+attemptColumns+` FROM publishing_attempts
			WHERE overall_stage IN (?, ?, ?)
			  AND (immediate = 1 OR (publish_on IS NOT NULL AND publish_on <= ?))
			ORDER BY created_at`,
		append(append([]any{}, openStates...), today)...)
	if err != nil {
		return nil, fmt.Errorf("due today: %w", err)
	}
	return attempts, nil
}

// Filter selects attempts by stage combination.
type Filter struct {
	// Overall restricts the aggregate state; empty means any.
	Overall []stage.State
	// Stage and States restrict one stage's state.
	Stage  stage.Stage
	States []stage.State
	// StartedBefore keeps only attempts whose Stage started before this instant.
	StartedBefore time.Time
	Limit         int
}

// ListByStages returns attempts matching the filter, oldest first.
func (s *Store) ListByStages(ctx context.Context, f Filter) ([]*Attempt, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Overall) > 0 {
		where = append(where, "overall_stage IN ("+database.MakePlaceholders(len(f.Overall))+")")
		for _, st := range f.Overall {
			args = append(args, string(st))
		}
	}
	if f.Stage != "" {
		if !f.Stage.Valid() {
			return nil, fmt.Errorf("list attempts: unknown stage %q", f.Stage)
		}
		col := f.Stage.Column()
		if len(f.States) > 0 {
			where = append(where, col+"_stage IN ("+database.MakePlaceholders(len(f.States))+")")
			for _, st := range f.States {
				args = append(args, string(st))
			}
		}
		if !f.StartedBefore.IsZero() {
			where = append(where, col+"_started_at IS NOT NULL AND "+col+"_started_at <= ?")
			args = append(args, formatTime(f.StartedBefore))
		}
	}

	query := "SELECT " + attemptColumns + " FROM publishing_attempts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	attempts, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}
