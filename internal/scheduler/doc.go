// Package scheduler runs batches of issues through confidence-ranked fix
// strategies.
//
// Each issue follows the same protocol: the candidate strategies for its type
// are tried in order, skipping any that report a confidence below
// ConfidenceThreshold, until one succeeds. When a full pass over the
// candidates fails the pass is repeated, up to MaxRetries extra passes.
// Issues whose type has no candidates are skipped without retry.
//
// In parallel mode every issue runs on its own goroutine and the batch waits
// for all of them; one failure never cancels the others. Results keep the
// submission order in both modes.
package scheduler
