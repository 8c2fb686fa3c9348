package database

import (
	"context"

	"pubpipe/internal/stage"
)

// HealthCheck pings the database.
func (d *DB) HealthCheck(ctx context.Context) stage.Health {
	name := "store (" + d.dialect.String() + ")"
	if err := d.db.PingContext(ctx); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}
