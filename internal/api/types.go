package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StageStatus is the progress of one stage.
type StageStatus struct {
	State     string `json:"state"`
	Retries   int    `json:"retries"`
	StartedAt string `json:"startedAt,omitempty"`
}

// LogEntry is one line of an attempt's diagnostic log.
type LogEntry struct {
	Stage     string `json:"stage,omitempty"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// Attempt describes a publishing attempt in a transport-friendly format.
type Attempt struct {
	ReleaseVersionID string                 `json:"releaseVersionId"`
	AttemptID        string                 `json:"attemptId"`
	Overall          string                 `json:"overall"`
	Stages           map[string]StageStatus `json:"stages"`
	Immediate        bool                   `json:"immediate"`
	PublishOn        string                 `json:"publishOn,omitempty"`
	EventRaised      bool                   `json:"eventRaised"`
	Log              []LogEntry             `json:"log"`
	CreatedAt        string                 `json:"createdAt,omitempty"`
	UpdatedAt        string                 `json:"updatedAt,omitempty"`
}

// AttemptResponse wraps a single attempt.
type AttemptResponse struct {
	Attempt Attempt `json:"attempt"`
}

// AttemptListResponse wraps the attempt history of a release version.
type AttemptListResponse struct {
	Attempts []Attempt `json:"attempts"`
}

// HealthCheck mirrors readiness reporting for one dependency.
type HealthCheck struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse aggregates readiness for the daemon.
type HealthResponse struct {
	Ready  bool          `json:"ready"`
	Checks []HealthCheck `json:"checks"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
