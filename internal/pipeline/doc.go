// Package pipeline runs the per-frame indexing loop for a video: detect,
// filter to the classes of interest, track identities, aggregate events and
// hand finalized events to the background committer.
//
// The frame loop is single-threaded. The only state shared with the
// committer goroutine is the persist.Queue. Detection, decoding and storage
// are collaborators behind the interfaces in this package, so the loop can
// be driven by gocv in production and by fakes in tests.
package pipeline
