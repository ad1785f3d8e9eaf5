package raftpeer

import (
	"testing"

	"github.com/stretchr/testify/require"
	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

func TestStorageReplayRestoresEntriesAndHardState(t *testing.T) {
	dir := t.TempDir()

	s, applied, err := OpenStorage(dir, true)
	require.NoError(t, err)
	require.EqualValues(t, 0, applied)

	rd := etcdraft.Ready{
		Entries: []raftpb.Entry{
			{Index: 1, Term: 1, Type: raftpb.EntryNormal, Data: []byte("one")},
			{Index: 2, Term: 1, Type: raftpb.EntryNormal, Data: []byte("two")},
		},
		HardState: raftpb.HardState{Term: 1, Vote: 1, Commit: 2},
		MustSync:  true,
	}
	require.NoError(t, s.SaveReady(rd))
	require.NoError(t, s.Close())

	s2, applied, err := OpenStorage(dir, true)
	require.NoError(t, err)
	defer s2.Close()
	require.EqualValues(t, 2, applied, "applied index tracks the committed hardstate")

	entries, err := s2.EntriesAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("one"), entries[0].Data)
	require.Equal(t, []byte("two"), entries[1].Data)
}

func TestStorageSnapshotSupersedesEntries(t *testing.T) {
	dir := t.TempDir()

	s, _, err := OpenStorage(dir, true)
	require.NoError(t, err)

	rd := etcdraft.Ready{
		Entries: []raftpb.Entry{
			{Index: 1, Term: 1, Type: raftpb.EntryNormal, Data: []byte("old")},
		},
		HardState: raftpb.HardState{Term: 1, Commit: 1},
		MustSync:  true,
	}
	require.NoError(t, s.SaveReady(rd))

	snap := raftpb.Snapshot{
		Data: []byte("snapshot-state"),
		Metadata: raftpb.SnapshotMetadata{
			Index:     1,
			Term:      1,
			ConfState: raftpb.ConfState{Voters: []uint64{1}},
		},
	}
	require.NoError(t, s.SaveReady(etcdraft.Ready{Snapshot: snap, MustSync: true}))
	require.NoError(t, s.Close())

	s2, applied, err := OpenStorage(dir, true)
	require.NoError(t, err)
	defer s2.Close()

	require.EqualValues(t, 1, applied)
	require.Equal(t, []byte("snapshot-state"), s2.SnapshotData())
	require.EqualValues(t, 1, s2.SnapshotIndex())

	entries, err := s2.EntriesAfter(s2.SnapshotIndex())
	require.NoError(t, err)
	require.Empty(t, entries, "entries at or below the snapshot are superseded")
}

func TestStorageConfStateSurvivesReplay(t *testing.T) {
	dir := t.TempDir()

	s, _, err := OpenStorage(dir, true)
	require.NoError(t, err)
	require.NoError(t, s.SaveConfState(raftpb.ConfState{Voters: []uint64{7, 8}}))
	require.NoError(t, s.Close())

	s2, _, err := OpenStorage(dir, true)
	require.NoError(t, err)
	defer s2.Close()
	require.Equal(t, []uint64{7, 8}, s2.ConfState().Voters)
}
