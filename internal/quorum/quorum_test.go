package quorum

import (
	"testing"

	"tabletdb/internal/status"
)

func TestVerifyLocal(t *testing.T) {
	q := NewLocal(0, "abc123")
	if err := q.Verify(); err != nil {
		t.Fatalf("local quorum should verify: %v", err)
	}

	q.Peers[0].Role = RoleFollower
	if err := q.Verify(); !status.IsInvalidArgument(err) {
		t.Fatalf("local quorum without a leader must fail, got %v", err)
	}
}

func TestVerifyRejectsDuplicateUUIDs(t *testing.T) {
	q := Quorum{
		SeqNo: 1,
		Peers: []Peer{
			{PermanentUUID: "a", LastKnownAddr: HostPort{Host: "h1", Port: 1}, Role: RoleLeader},
			{PermanentUUID: "a", LastKnownAddr: HostPort{Host: "h2", Port: 2}, Role: RoleFollower},
		},
	}
	if err := q.Verify(); !status.IsInvalidArgument(err) {
		t.Fatalf("duplicate uuids must fail, got %v", err)
	}
}

func TestVerifyRejectsEmptyUUID(t *testing.T) {
	q := Quorum{
		Peers: []Peer{{LastKnownAddr: HostPort{Host: "h", Port: 1}, Role: RoleLeader}},
	}
	if err := q.Verify(); !status.IsInvalidArgument(err) {
		t.Fatalf("empty uuid must fail, got %v", err)
	}
}

func TestVerifyNeedsLeaderOrCandidate(t *testing.T) {
	q := Quorum{
		Peers: []Peer{
			{PermanentUUID: "a", LastKnownAddr: HostPort{Host: "h1", Port: 1}, Role: RoleFollower},
			{PermanentUUID: "b", LastKnownAddr: HostPort{Host: "h2", Port: 2}, Role: RoleFollower},
		},
	}
	if err := q.Verify(); !status.IsInvalidArgument(err) {
		t.Fatalf("quorum without leader or candidate must fail, got %v", err)
	}

	q.Peers[1].Role = RoleCandidate
	if err := q.Verify(); err != nil {
		t.Fatalf("candidate should satisfy the leadership requirement: %v", err)
	}
}

func TestVerifyRejectsTwoLeaders(t *testing.T) {
	q := Quorum{
		Peers: []Peer{
			{PermanentUUID: "a", LastKnownAddr: HostPort{Host: "h1", Port: 1}, Role: RoleLeader},
			{PermanentUUID: "b", LastKnownAddr: HostPort{Host: "h2", Port: 2}, Role: RoleLeader},
		},
	}
	if err := q.Verify(); !status.IsInvalidArgument(err) {
		t.Fatalf("two leaders must fail, got %v", err)
	}
}

func TestParseHostPort(t *testing.T) {
	hp, err := ParseHostPort("master-1:7051")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hp.Host != "master-1" || hp.Port != 7051 {
		t.Fatalf("unexpected %v", hp)
	}
	if _, err := ParseHostPort("no-port"); !status.IsInvalidArgument(err) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}
