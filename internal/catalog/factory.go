package catalog

import (
	"tabletdb/internal/consensus/raftpeer"
	"tabletdb/internal/fs"
	"tabletdb/internal/quorum"
	"tabletdb/internal/tablet"
	"tabletdb/internal/util/threadpool"
)

// RaftPeerFactory wires the production raft-backed peer over the fs
// manager's WAL layout. senderFor builds the outbound message transport
// for a committed quorum; nil (or a nil result) is valid for local
// quorums, which replicate nowhere.
func RaftPeerFactory(fsm *fs.Manager,
	senderFor func(q quorum.Quorum) raftpeer.MessageSender) PeerFactory {
	return func(meta *tablet.Meta, q quorum.Quorum, store *tablet.Store,
		leaderApply, replicaApply *threadpool.Pool) (tablet.Peer, error) {
		var sender raftpeer.MessageSender
		if senderFor != nil && !q.Local {
			sender = senderFor(q)
		}
		return raftpeer.Start(raftpeer.Config{
			TabletID:     meta.TabletID,
			LocalUUID:    fsm.UUID(),
			Quorum:       q,
			WALDir:       fsm.WALDir(meta.TabletID),
			Store:        store,
			LeaderApply:  leaderApply,
			ReplicaApply: replicaApply,
			Transport:    sender,
		})
	}
}
