// Package quorum models the replicated-log peer set for one tablet and the
// startup-time construction of a distributed quorum from master options.
package quorum

import (
	"fmt"
	"net"
	"strconv"

	"tabletdb/internal/status"
)

type Role string

const (
	RoleLeader    Role = "LEADER"
	RoleFollower  Role = "FOLLOWER"
	RoleCandidate Role = "CANDIDATE"
)

// HostPort is a resolvable network address.
type HostPort struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (hp HostPort) String() string {
	return net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
}

func (hp HostPort) IsSet() bool { return hp.Host != "" && hp.Port > 0 }

// ParseHostPort splits "host:port" into a HostPort.
func ParseHostPort(s string) (HostPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return HostPort{}, status.InvalidArgument("bad host:port %q: %v", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return HostPort{}, status.InvalidArgument("bad port in %q", s)
	}
	return HostPort{Host: host, Port: port}, nil
}

// Peer is one member of a replicated group. The permanent uuid may be empty
// until resolved against the remote server.
type Peer struct {
	PermanentUUID string   `json:"permanent_uuid,omitempty"`
	LastKnownAddr HostPort `json:"last_known_addr,omitempty"`
	Role          Role     `json:"role"`
}

func (p Peer) String() string {
	return fmt.Sprintf("{uuid=%q addr=%s role=%s}", p.PermanentUUID, p.LastKnownAddr, p.Role)
}

// Quorum is the ordered peer set plus the per-tablet sequence number. A
// local quorum has a single leader peer and replicates nowhere.
type Quorum struct {
	SeqNo int64  `json:"seqno"`
	Local bool   `json:"local"`
	Peers []Peer `json:"peers"`
}

// NewLocal builds the single-peer quorum used by standalone masters.
func NewLocal(seqno int64, localUUID string) Quorum {
	return Quorum{
		SeqNo: seqno,
		Local: true,
		Peers: []Peer{{PermanentUUID: localUUID, Role: RoleLeader}},
	}
}

// PeerByUUID returns the peer with the given uuid, if present.
func (q Quorum) PeerByUUID(uuid string) (Peer, bool) {
	for _, p := range q.Peers {
		if p.PermanentUUID == uuid {
			return p, true
		}
	}
	return Peer{}, false
}

// Verify checks the structural invariants of a committed quorum: unique
// non-empty uuids, role counts consistent with the local flag, at least one
// leader or candidate, and well-formed addresses on every remote peer.
func (q Quorum) Verify() error {
	if len(q.Peers) == 0 {
		return status.InvalidArgument("quorum has no peers")
	}

	seen := make(map[string]struct{}, len(q.Peers))
	leaders, candidates := 0, 0
	for i, p := range q.Peers {
		if p.PermanentUUID == "" {
			return status.InvalidArgument("peer %d %s has no permanent uuid", i, p)
		}
		if _, dup := seen[p.PermanentUUID]; dup {
			return status.InvalidArgument("duplicate peer uuid %q", p.PermanentUUID)
		}
		seen[p.PermanentUUID] = struct{}{}

		switch p.Role {
		case RoleLeader:
			leaders++
		case RoleCandidate:
			candidates++
		case RoleFollower:
		default:
			return status.InvalidArgument("peer %d has unknown role %q", i, p.Role)
		}

		if !q.Local && !p.LastKnownAddr.IsSet() {
			return status.InvalidArgument("peer %d %s has no address", i, p)
		}
	}

	if q.Local {
		if len(q.Peers) != 1 || q.Peers[0].Role != RoleLeader {
			return status.InvalidArgument(
				"local quorum must have exactly one LEADER peer, have %d peers, %d leaders",
				len(q.Peers), leaders)
		}
		return nil
	}

	if leaders > 1 {
		return status.InvalidArgument("quorum has %d leaders", leaders)
	}
	if leaders+candidates == 0 {
		return status.InvalidArgument("quorum has neither a LEADER nor a CANDIDATE")
	}
	return nil
}
