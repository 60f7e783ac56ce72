package driver

import "github.com/go-completio/completio/op"

// Observer receives per-op lifecycle events from a Driver. It is the
// completion-I/O analogue of a block device's read/write/flush observer:
// the event shape here is keyed by op.Code rather than a fixed operation
// set, since the catalog spans file, socket, and timer opcodes rather than
// a single device's I/O verbs.
type Observer interface {
	// ObserveSubmit is called when an op accepted into the submission ring
	// (TryPush/TryPushDyn success, or backlog admission) is handed to the
	// backend without error. An op whose Submit fails is not observed here.
	ObserveSubmit(code op.Code)

	// ObserveComplete is called when a backend reports an op's outcome.
	// latencyNs measures queued-to-completed wall time.
	ObserveComplete(code op.Code, n int, latencyNs uint64, err error)

	// ObserveCancel is called when TryCancel successfully marks an op
	// cancelled (regardless of the result it eventually completes with).
	ObserveCancel(code op.Code)

	// ObserveQueueFullReject is called when TryPush/TryPushDyn reject an op
	// because the submission ring is at capacity.
	ObserveQueueFullReject(code op.Code)

	// ObserveQueueDepth is called after each submit_and_wait_completed call
	// with the number of ops left in flight.
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver discards every event. It is the Driver's default Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(op.Code)                      {}
func (NoOpObserver) ObserveComplete(op.Code, int, uint64, error) {}
func (NoOpObserver) ObserveCancel(op.Code)                      {}
func (NoOpObserver) ObserveQueueFullReject(op.Code)             {}
func (NoOpObserver) ObserveQueueDepth(uint32)                   {}
