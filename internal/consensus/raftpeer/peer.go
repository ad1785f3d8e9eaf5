package raftpeer

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/etcd/pkg/v3/wait"
	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"

	"tabletdb/internal/metrics"
	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/util/threadpool"
)

// MessageSender ships raft messages to remote peers, addressed by their
// permanent uuid. A nil sender is valid for local (single-peer) quorums.
type MessageSender interface {
	Send(peerUUID string, msgs []raftpb.Message)
}

// Config assembles a peer. LeaderApply and ReplicaApply run the
// committed-batch application; either may be nil to apply inline.
type Config struct {
	TabletID  string
	LocalUUID string
	Quorum    quorum.Quorum
	WALDir    string
	NoSync    bool
	Store     *tablet.Store

	LeaderApply  *threadpool.Pool
	ReplicaApply *threadpool.Pool
	Transport    MessageSender

	TickInterval  time.Duration
	ElectionTick  int
	HeartbeatTick int
}

type proposal struct {
	Proposer uint64         `json:"proposer"`
	ID       uint64         `json:"id"`
	Ops      []tablet.RowOp `json:"ops"`
}

// Peer is the raft-backed implementation of tablet.Peer.
type Peer struct {
	cfg     Config
	localID uint64

	node    etcdraft.Node
	storage *Storage

	uuidByID map[uint64]string

	applied atomic.Uint64
	nextID  atomic.Uint64
	waiters wait.Wait

	mu        sync.RWMutex
	role      quorum.Role
	callbacks []func(tablet.QuorumChangeEvent)

	stepInbox chan raftpb.Message
	stopCh    chan struct{}
	stoppedWg sync.WaitGroup
	stopOnce  sync.Once
}

// NodeID derives the stable raft id for a permanent uuid.
func NodeID(uuid string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(uuid))
	id := h.Sum64()
	if id == 0 {
		id = 1
	}
	return id
}

// Start opens the log, starts (or restarts) the raft node and launches the
// ready loop.
func Start(cfg Config) (*Peer, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.ElectionTick <= 0 {
		cfg.ElectionTick = 10
	}
	if cfg.HeartbeatTick <= 0 {
		cfg.HeartbeatTick = 1
	}

	storage, appliedIdx, err := OpenStorage(cfg.WALDir, cfg.NoSync)
	if err != nil {
		return nil, status.Wrap(status.CodeIOError, err, "opening consensus log for tablet %s",
			cfg.TabletID)
	}

	p := &Peer{
		cfg:       cfg,
		localID:   NodeID(cfg.LocalUUID),
		storage:   storage,
		uuidByID:  make(map[uint64]string, len(cfg.Quorum.Peers)),
		waiters:   wait.New(),
		role:      quorum.RoleFollower,
		stepInbox: make(chan raftpb.Message, 256),
		stopCh:    make(chan struct{}),
	}
	for _, qp := range cfg.Quorum.Peers {
		p.uuidByID[NodeID(qp.PermanentUUID)] = qp.PermanentUUID
	}

	rc := &etcdraft.Config{
		ID:              p.localID,
		ElectionTick:    cfg.ElectionTick,
		HeartbeatTick:   cfg.HeartbeatTick,
		Storage:         storage.RaftStorage(),
		MaxSizePerMsg:   1024 * 1024,
		MaxInflightMsgs: 256,
		Logger:          newRaftLogger(cfg.TabletID),
		Applied:         appliedIdx,
	}

	empty, err := storage.IsEmpty()
	if err != nil {
		storage.Close()
		return nil, status.Wrap(status.CodeIOError, err, "checking consensus log for tablet %s",
			cfg.TabletID)
	}
	if empty {
		peers := make([]etcdraft.Peer, 0, len(cfg.Quorum.Peers))
		for _, qp := range cfg.Quorum.Peers {
			peers = append(peers, etcdraft.Peer{
				ID:      NodeID(qp.PermanentUUID),
				Context: []byte(qp.LastKnownAddr.String()),
			})
		}
		p.node = etcdraft.StartNode(rc, peers)
		slog.Info("started consensus node", "tablet", cfg.TabletID,
			"id", p.localID, "peers", len(peers), "local", cfg.Quorum.Local)
	} else {
		p.node = etcdraft.RestartNode(rc)
		slog.Info("restarted consensus node from saved state",
			"tablet", cfg.TabletID, "id", p.localID, "applied", appliedIdx)
	}

	// Rebuild applied state before serving.
	if err := p.recoverStore(appliedIdx); err != nil {
		p.node.Stop()
		storage.Close()
		return nil, err
	}
	p.applied.Store(appliedIdx)

	p.stoppedWg.Add(1)
	go p.runLoop()
	return p, nil
}

func (p *Peer) recoverStore(appliedIdx uint64) error {
	if data := p.storage.SnapshotData(); len(data) > 0 {
		if err := p.cfg.Store.Restore(data); err != nil {
			return status.Wrap(status.CodeCorruption, err,
				"restoring tablet %s from snapshot", p.cfg.TabletID)
		}
	}
	entries, err := p.storage.EntriesAfter(p.storage.SnapshotIndex())
	if err != nil {
		return status.Wrap(status.CodeCorruption, err,
			"reading committed entries for tablet %s", p.cfg.TabletID)
	}
	replayed := 0
	for _, e := range entries {
		if e.Type != raftpb.EntryNormal || len(e.Data) == 0 {
			continue
		}
		var prop proposal
		if err := json.Unmarshal(e.Data, &prop); err != nil {
			return status.Wrap(status.CodeCorruption, err,
				"decoding entry %d for tablet %s", e.Index, p.cfg.TabletID)
		}
		p.cfg.Store.ApplyBatch(prop.Ops)
		replayed++
	}
	if replayed > 0 {
		slog.Info("replayed committed batches into tablet store",
			"tablet", p.cfg.TabletID, "batches", replayed, "applied", appliedIdx)
	}
	return nil
}

func (p *Peer) TabletID() string { return p.cfg.TabletID }

func (p *Peer) Store() *tablet.Store { return p.cfg.Store }

func (p *Peer) Role() quorum.Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

// CommittedQuorum returns the bootstrap-time quorum configuration.
func (p *Peer) CommittedQuorum() quorum.Quorum { return p.cfg.Quorum }

func (p *Peer) RegisterQuorumChangeCallback(cb func(tablet.QuorumChangeEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// Step feeds a raft message received from a remote peer into the node.
func (p *Peer) Step(ctx context.Context, msg raftpb.Message) error {
	select {
	case p.stepInbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return status.IllegalState("peer for tablet %s is shut down", p.cfg.TabletID)
	}
}

// SubmitWrite replicates ops as a single log entry and waits for the batch
// to be durably committed and applied on this peer.
func (p *Peer) SubmitWrite(ctx context.Context, ops []tablet.RowOp) (*tablet.WriteResult, error) {
	id := p.nextID.Add(1)
	data, err := json.Marshal(proposal{Proposer: p.localID, ID: id, Ops: ops})
	if err != nil {
		return nil, status.Wrap(status.CodeCorruption, err,
			"encoding write batch for tablet %s", p.cfg.TabletID)
	}

	ch := p.waiters.Register(id)
	if err := p.node.Propose(ctx, data); err != nil {
		p.waiters.Trigger(id, nil)
		return nil, status.Wrap(status.CodeNetworkError, err,
			"proposing write to tablet %s", p.cfg.TabletID)
	}

	select {
	case res := <-ch:
		result, ok := res.(*tablet.WriteResult)
		if !ok || result == nil {
			return nil, status.Aborted("write to tablet %s was abandoned", p.cfg.TabletID)
		}
		return result, nil
	case <-ctx.Done():
		p.waiters.Trigger(id, nil)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, status.TimedOut("write to tablet %s timed out", p.cfg.TabletID)
		}
		return nil, status.Aborted("write to tablet %s canceled", p.cfg.TabletID)
	}
}

// WaitUntilConsensusRunning blocks until the quorum has a live leader.
func (p *Peer) WaitUntilConsensusRunning(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := p.node.Status()
		if st.Lead != etcdraft.None {
			return nil
		}
		if time.Now().After(deadline) {
			return status.TimedOut("consensus for tablet %s has no leader after %s",
				p.cfg.TabletID, timeout)
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-p.stopCh:
			return status.IllegalState("peer for tablet %s is shut down", p.cfg.TabletID)
		}
	}
}

func (p *Peer) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.stoppedWg.Wait()
		p.node.Stop()
		if err := p.storage.Close(); err != nil {
			slog.Error("closing consensus storage", "tablet", p.cfg.TabletID, "error", err)
		}
		slog.Info("consensus peer stopped", "tablet", p.cfg.TabletID)
	})
}

func (p *Peer) runLoop() {
	defer p.stoppedWg.Done()

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return

		case <-ticker.C:
			p.node.Tick()

		case msg := <-p.stepInbox:
			if err := p.node.Step(context.Background(), msg); err != nil {
				slog.Warn("step failed", "tablet", p.cfg.TabletID,
					"from", msg.From, "type", msg.Type.String(), "error", err)
			}

		case rd := <-p.node.Ready():
			if err := p.processReady(rd); err != nil {
				slog.Error("processing consensus ready failed",
					"tablet", p.cfg.TabletID, "error", err)
				return
			}
		}
	}
}

func (p *Peer) processReady(rd etcdraft.Ready) error {
	if err := p.storage.SaveReady(rd); err != nil {
		return err
	}
	metrics.ConsensusLogWrites.Add(float64(len(rd.Entries)))

	p.sendMessages(rd.Messages)

	if rd.SoftState != nil {
		p.onSoftState(rd.SoftState)
	}

	for _, e := range rd.CommittedEntries {
		if err := p.applyEntry(e); err != nil {
			return err
		}
		p.applied.Store(e.Index)
	}

	p.node.Advance()
	return nil
}

func (p *Peer) sendMessages(msgs []raftpb.Message) {
	if len(msgs) == 0 {
		return
	}
	if p.cfg.Transport == nil {
		// Local quorum: nothing to ship.
		return
	}
	byPeer := make(map[uint64][]raftpb.Message)
	for _, m := range msgs {
		byPeer[m.To] = append(byPeer[m.To], m)
	}
	for to, batch := range byPeer {
		uuid, ok := p.uuidByID[to]
		if !ok {
			slog.Warn("dropping messages to unknown peer", "tablet", p.cfg.TabletID, "to", to)
			continue
		}
		p.cfg.Transport.Send(uuid, batch)
	}
}

func (p *Peer) onSoftState(ss *etcdraft.SoftState) {
	var newRole quorum.Role
	switch ss.RaftState {
	case etcdraft.StateLeader:
		newRole = quorum.RoleLeader
	case etcdraft.StateCandidate, etcdraft.StatePreCandidate:
		newRole = quorum.RoleCandidate
	default:
		newRole = quorum.RoleFollower
	}

	p.mu.Lock()
	changed := newRole != p.role
	p.role = newRole
	cbs := p.callbacks
	p.mu.Unlock()

	if !changed {
		return
	}
	if newRole == quorum.RoleLeader {
		metrics.ConsensusIsLeader.Set(1)
	} else {
		metrics.ConsensusIsLeader.Set(0)
	}
	slog.Info("consensus role changed", "tablet", p.cfg.TabletID, "role", string(newRole))

	ev := tablet.QuorumChangeEvent{
		TabletID: p.cfg.TabletID,
		Quorum:   p.cfg.Quorum,
		Role:     newRole,
	}
	for _, cb := range cbs {
		cb(ev)
	}
}

func (p *Peer) applyEntry(e raftpb.Entry) error {
	switch e.Type {
	case raftpb.EntryConfChange:
		var cc raftpb.ConfChange
		if err := cc.Unmarshal(e.Data); err != nil {
			return status.Wrap(status.CodeCorruption, err,
				"decoding conf change at %d for tablet %s", e.Index, p.cfg.TabletID)
		}
		cs := p.node.ApplyConfChange(cc)
		if err := p.storage.SaveConfState(*cs); err != nil {
			return err
		}
		return nil

	case raftpb.EntryNormal:
		if len(e.Data) == 0 {
			return nil
		}
		var prop proposal
		if err := json.Unmarshal(e.Data, &prop); err != nil {
			return status.Wrap(status.CodeCorruption, err,
				"decoding entry %d for tablet %s", e.Index, p.cfg.TabletID)
		}
		p.applyBatch(prop)
		return nil

	default:
		slog.Warn("skipping unknown entry type", "tablet", p.cfg.TabletID,
			"index", e.Index, "type", e.Type.String())
		return nil
	}
}

// applyBatch runs the batch on the role-appropriate apply pool, blocking
// until done so entries apply in log order.
func (p *Peer) applyBatch(prop proposal) {
	pool := p.cfg.ReplicaApply
	if p.Role() == quorum.RoleLeader {
		pool = p.cfg.LeaderApply
	}

	run := func() *tablet.WriteResult {
		errs := p.cfg.Store.ApplyBatch(prop.Ops)
		return &tablet.WriteResult{RowErrors: errs}
	}

	var result *tablet.WriteResult
	if pool == nil {
		result = run()
	} else {
		done := make(chan *tablet.WriteResult, 1)
		if err := pool.Submit(func() { done <- run() }); err != nil {
			// Queue exhaustion on the apply path stalls the log instead of
			// dropping a committed batch.
			result = run()
		} else {
			result = <-done
		}
	}
	metrics.TabletBatchesApplied.Inc()

	if prop.Proposer == p.localID {
		p.waiters.Trigger(prop.ID, result)
	}
}
