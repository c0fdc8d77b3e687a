// Package mutator applies file changes transactionally.
//
// Every mutation follows the same envelope:
//
//	lock(path) → backup → write → validate → [smoke test] → prune backups
//
// A syntax regression or a failed smoke test restores the file from the
// backup taken at the start of the call, so a call returns with the file
// either unchanged or syntactically valid.
//
// # Locking
//
// Writers to the same path are serialized through a sharded lock map. Locks
// are created lazily and kept for the lifetime of the Mutator.
//
// # Backups
//
// Backups live beside the original as
//
//	{stem}.bak.{timestamp}.{sequence}{suffix}
//
// with owner-only permissions. Sequence numbers per path are strictly
// increasing (they resume from the highest backup found on disk) and only
// the newest MaxBackups files are kept.
//
// # Validation
//
// Syntax validators are selected by file extension (Go, JSON, YAML, TOML,
// Python). Linters run afterwards and only ever produce warnings.
package mutator
