// Package api serves the read-only status HTTP API and defines its wire
// types.
//
// Routes:
//
//	GET /healthz                                   readiness of the store and collaborators
//	GET /metrics                                   Prometheus exposition
//	GET /release-versions/{id}/attempts/latest     newest attempt of a release version
//	GET /release-versions/{id}/attempts            every attempt, newest first
//
// DTOs use camelCase JSON tags. Stage and overall states are lowercase
// strings and timestamps are RFC3339 with milliseconds.
package api
