package stage

import "context"

// Health summarizes the readiness of a pipeline collaborator.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthChecker is implemented by collaborators that can report readiness.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// CheckAll runs every checker in order.
func CheckAll(ctx context.Context, checks []HealthChecker) []Health {
	records := make([]Health, 0, len(checks))
	for _, check := range checks {
		if check == nil {
			continue
		}
		records = append(records, check.HealthCheck(ctx))
	}
	return records
}

// AllReady reports whether every record is ready. An empty set is ready.
func AllReady(records []Health) bool {
	for _, h := range records {
		if !h.Ready {
			return false
		}
	}
	return true
}
