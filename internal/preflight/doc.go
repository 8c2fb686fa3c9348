// Package preflight provides readiness checks for the collaborators and
// filesystem paths the publishing pipeline depends on.
//
// These checks run in two contexts:
//   - The daemon registers them with the status API so /healthz reports
//     collaborator readiness next to the store.
//   - The CLI "pubpipe status" command runs RunAll to display service health.
//
// Each check is gated by its config selection: unused backends are skipped.
package preflight
