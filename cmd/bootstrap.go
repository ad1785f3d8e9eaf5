package main

import (
	"context"

	"tabletdb/internal/catalog"
	"tabletdb/internal/config"
	"tabletdb/internal/consensus/raftpeer"
	"tabletdb/internal/fs"
	"tabletdb/internal/master"
	"tabletdb/internal/metrics"
	"tabletdb/internal/quorum"
	"tabletdb/internal/transport"
)

// Services holds everything the master process runs.
type Services struct {
	FS        *fs.Manager
	Master    *master.Master
	Messenger *transport.Messenger
	RPC       *transport.Server
	Metrics   *metrics.Server
}

// NewServices wires the master: fs root, messenger, catalog-backed master,
// RPC server and metrics listener.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	fsm, err := fs.Open(cfg.Master.FSRoot)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.Master.CatalogOptions()
	if err != nil {
		return nil, err
	}

	messenger := transport.NewMessenger()

	senderFor := func(q quorum.Quorum) raftpeer.MessageSender {
		return transport.NewRaftTransport(messenger, catalog.TabletID, fsm.UUID(), q)
	}
	m, err := master.Init(ctx, master.Config{
		FS:          fsm,
		Options:     opts,
		Resolver:    messenger,
		PeerFactory: catalog.RaftPeerFactory(fsm, senderFor),
	})
	if err != nil {
		messenger.Close()
		return nil, err
	}

	rpc := transport.NewServer(cfg.Master.RPCAddress, m, m, &raftInbox{m: m})
	return &Services{
		FS:        fsm,
		Master:    m,
		Messenger: messenger,
		RPC:       rpc,
		Metrics:   metrics.NewServer(cfg.Master.MetricsAddress),
	}, nil
}

// Stop tears the services down in reverse start order.
func (s *Services) Stop() {
	s.RPC.Stop()
	s.Metrics.Stop()
	s.Master.Shutdown()
	s.Messenger.Close()
}

// raftInbox routes received consensus batches into the catalog peer.
type raftInbox struct {
	m *master.Master
}

func (r *raftInbox) StepMessages(ctx context.Context, batch *transport.RaftMessageBatch) (*transport.RaftMessageAck, error) {
	if batch.TabletID != catalog.TabletID {
		return &transport.RaftMessageAck{}, nil
	}
	for _, msg := range transport.DecodeMessages(batch) {
		if err := r.m.StepConsensus(ctx, msg); err != nil {
			return nil, err
		}
	}
	return &transport.RaftMessageAck{}, nil
}
