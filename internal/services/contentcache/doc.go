// Package contentcache refreshes the publicly cached representation of a
// release version once its content stage runs.
//
// The Redis backend writes a JSON snapshot of the release under a
// slug-derived key and points the publication's "latest" key at it. Writes are
// plain SETs, so refreshing the same release twice is harmless.
package contentcache
