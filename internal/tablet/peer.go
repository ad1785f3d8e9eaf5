package tablet

import (
	"context"
	"time"

	"tabletdb/internal/quorum"
)

// QuorumChangeEvent is emitted by a peer whenever its quorum configuration
// changes, carrying the new configuration and this peer's role in it.
type QuorumChangeEvent struct {
	TabletID string
	Quorum   quorum.Quorum
	Role     quorum.Role
}

// WriteResult is the outcome of one replicated write batch.
type WriteResult struct {
	RowErrors []RowError
}

// Peer is the consensus-replicated write executor for one tablet: it
// submits a batch to the replicated log, waits for durable commit and
// application, and reports per-row outcomes. Implementations emit quorum
// change events to registered subscribers; callbacks run synchronously on
// the peer's apply path and must not block.
type Peer interface {
	TabletID() string

	// SubmitWrite replicates one batch and blocks until it is durably
	// committed and applied, or the context expires.
	SubmitWrite(ctx context.Context, ops []RowOp) (*WriteResult, error)

	// WaitUntilConsensusRunning blocks until the underlying consensus is
	// serving, returning TimedOut when the bound elapses first.
	WaitUntilConsensusRunning(timeout time.Duration) error

	// RegisterQuorumChangeCallback subscribes to configuration changes.
	RegisterQuorumChangeCallback(cb func(QuorumChangeEvent))

	// Role reports this peer's current role in the committed quorum.
	Role() quorum.Role

	// Store exposes the applied row state for scans.
	Store() *Store

	Shutdown()
}
