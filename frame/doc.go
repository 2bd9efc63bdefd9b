// Package frame orchestrates per-frame command recording and submission.
//
// The orchestrator cycles a small fixed set of frame slots, each carrying a
// fence, a transient uniform ring, and the pipelines its frame references.
// Per frame it groups draw requests by (material, vertex layout, state),
// fans the groups out across a fixed worker pool for parallel recording,
// and merges the recorded batches back in draw-group submission order, so
// the final command stream is deterministic regardless of worker timing.
//
// A slot is never reused before its previous fence has signaled, and both
// the fence wait and the worker join are bounded; a timeout on either is
// treated as a lost device. Recoverable recording failures drop the whole
// frame rather than submitting it partially.
package frame
