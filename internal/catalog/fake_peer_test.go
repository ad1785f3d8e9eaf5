package catalog

import (
	"context"
	"sync"
	"time"

	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/util/threadpool"
)

// fakePeer applies writes straight to the store, skipping replication. It
// records submissions so tests can assert on batch shapes.
type fakePeer struct {
	tabletID string
	store    *tablet.Store
	quorum   quorum.Quorum
	role     quorum.Role

	mu        sync.Mutex
	submitted [][]tablet.RowOp
	callbacks []func(tablet.QuorumChangeEvent)

	failNext error
	running  bool
}

func newFakePeer(store *tablet.Store, q quorum.Quorum) *fakePeer {
	return &fakePeer{
		tabletID: TabletID,
		store:    store,
		quorum:   q,
		role:     quorum.RoleLeader,
		running:  true,
	}
}

func (p *fakePeer) TabletID() string { return p.tabletID }

func (p *fakePeer) SubmitWrite(_ context.Context, ops []tablet.RowOp) (*tablet.WriteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return nil, err
	}
	p.submitted = append(p.submitted, ops)
	return &tablet.WriteResult{RowErrors: p.store.ApplyBatch(ops)}, nil
}

func (p *fakePeer) WaitUntilConsensusRunning(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	return status.TimedOut("not running")
}

func (p *fakePeer) RegisterQuorumChangeCallback(cb func(tablet.QuorumChangeEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

func (p *fakePeer) emit(role quorum.Role) {
	p.mu.Lock()
	p.role = role
	cbs := append([]func(tablet.QuorumChangeEvent){}, p.callbacks...)
	ev := tablet.QuorumChangeEvent{TabletID: p.tabletID, Quorum: p.quorum, Role: role}
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (p *fakePeer) Role() quorum.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

func (p *fakePeer) Store() *tablet.Store { return p.store }

func (p *fakePeer) Shutdown() {}

// fakePeerFactory returns the factory plus a handle on the peer it builds.
func fakePeerFactory() (PeerFactory, **fakePeer) {
	handle := new(*fakePeer)
	factory := func(meta *tablet.Meta, q quorum.Quorum, store *tablet.Store,
		_, _ *threadpool.Pool) (tablet.Peer, error) {
		p := newFakePeer(store, q)
		*handle = p
		return p, nil
	}
	return factory, handle
}
