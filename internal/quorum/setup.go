package quorum

import (
	"context"
	"log/slog"

	"tabletdb/internal/status"
)

// UUIDResolver looks up the permanent uuid of a remote server. The
// transport messenger implements this over RPC.
type UUIDResolver interface {
	ResolvePeerUUID(ctx context.Context, addr HostPort) (string, error)
}

// DistributedOptions is the quorum-relevant slice of the master options.
type DistributedOptions struct {
	Leader            bool
	FollowerAddresses []HostPort
	LeaderAddress     HostPort
	LocalAddress      HostPort
}

// SetupDistributed builds, resolves and verifies the quorum for a
// distributed master. Peers are enumerated from the options, every peer
// lacking a permanent uuid is resolved through the resolver, and the result
// is checked against the structural invariants before being returned with
// the given seqno.
func SetupDistributed(ctx context.Context, opts DistributedOptions, seqno int64, resolver UUIDResolver) (Quorum, error) {
	q := Quorum{SeqNo: seqno, Local: false}

	for _, addr := range opts.FollowerAddresses {
		q.Peers = append(q.Peers, Peer{LastKnownAddr: addr, Role: RoleFollower})
	}

	localRole := RoleFollower
	if opts.Leader {
		localRole = RoleLeader
	}
	q.Peers = append(q.Peers, Peer{LastKnownAddr: opts.LocalAddress, Role: localRole})

	if !opts.Leader {
		q.Peers = append(q.Peers, Peer{LastKnownAddr: opts.LeaderAddress, Role: RoleCandidate})
	}

	resolved := make([]Peer, 0, len(q.Peers))
	for _, p := range q.Peers {
		if p.PermanentUUID != "" {
			resolved = append(resolved, p)
			continue
		}
		slog.Info("peer has no permanent uuid, resolving", "peer", p.String())
		uuid, err := resolver.ResolvePeerUUID(ctx, p.LastKnownAddr)
		if err != nil {
			return Quorum{}, status.Wrap(status.CodeNetworkError, err,
				"unable to resolve uuid for peer %s", p)
		}
		p.PermanentUUID = uuid
		resolved = append(resolved, p)
	}
	q.Peers = resolved

	if err := q.Verify(); err != nil {
		return Quorum{}, err
	}
	slog.Info("distributed quorum configured", "seqno", q.SeqNo, "peers", len(q.Peers))
	return q, nil
}
