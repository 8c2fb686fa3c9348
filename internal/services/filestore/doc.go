// Package filestore promotes a release version's staged files to public
// storage and removes the artifacts of superseded versions.
//
// Files live under <staging>/<release version id>/ until promotion copies them
// to <public>/<release version id>/. Both operations are safe to repeat: a
// second promotion overwrites identical objects and deleting a version that is
// already gone succeeds.
package filestore
