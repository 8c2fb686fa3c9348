// Package notifications pushes release-publishing milestones to subscribers
// and operators.
//
// The default implementation publishes to ntfy using the topic configured in
// the notifications section and degrades to a no-op when no topic is set.
// Each event kind can be switched off independently. Callers depend only on
// the Service interface.
package notifications
