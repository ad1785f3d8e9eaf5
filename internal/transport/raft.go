package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/etcd/pkg/v3/pbutil"
	"go.etcd.io/raft/v3/raftpb"

	"tabletdb/internal/quorum"
)

// RaftTransport ships a tablet peer's outbound consensus messages to the
// remote peers of its quorum, addressed by permanent uuid. Implements
// raftpeer.MessageSender.
type RaftTransport struct {
	messenger *Messenger
	tabletID  string
	localUUID string
	timeout   time.Duration

	mu         sync.RWMutex
	addrByUUID map[string]quorum.HostPort
}

func NewRaftTransport(messenger *Messenger, tabletID, localUUID string, q quorum.Quorum) *RaftTransport {
	t := &RaftTransport{
		messenger:  messenger,
		tabletID:   tabletID,
		localUUID:  localUUID,
		timeout:    5 * time.Second,
		addrByUUID: make(map[string]quorum.HostPort, len(q.Peers)),
	}
	for _, p := range q.Peers {
		t.addrByUUID[p.PermanentUUID] = p.LastKnownAddr
	}
	return t
}

// Send marshals and ships msgs to the peer, asynchronously; consensus
// tolerates message loss, so failures are logged and dropped.
func (t *RaftTransport) Send(peerUUID string, msgs []raftpb.Message) {
	t.mu.RLock()
	addr, ok := t.addrByUUID[peerUUID]
	t.mu.RUnlock()
	if !ok {
		slog.Warn("no address for consensus peer", "tablet", t.tabletID, "peer", peerUUID)
		return
	}

	batch := &RaftMessageBatch{
		TabletID: t.tabletID,
		FromUUID: t.localUUID,
		Messages: make([][]byte, len(msgs)),
	}
	for i := range msgs {
		batch.Messages[i] = pbutil.MustMarshal(&msgs[i])
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.messenger.StepMessages(ctx, addr, batch); err != nil {
			slog.Debug("consensus message send failed",
				"tablet", t.tabletID, "peer", peerUUID, "error", err)
		}
	}()
}

// DecodeMessages unpacks a received batch back into raftpb messages.
func DecodeMessages(batch *RaftMessageBatch) []raftpb.Message {
	msgs := make([]raftpb.Message, len(batch.Messages))
	for i, data := range batch.Messages {
		pbutil.MustUnmarshal(&msgs[i], data)
	}
	return msgs
}
