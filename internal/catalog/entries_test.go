package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tabletdb/internal/quorum"
)

func TestTableInfoDirtyCommittedStaging(t *testing.T) {
	info := NewTableInfo("t1", &TableMetadata{Name: "users", State: TableRunning})
	require.Nil(t, info.Committed(), "nothing committed before the catalog write")
	require.NotNil(t, info.Dirty())

	info.CommitDirty()
	require.Nil(t, info.Dirty())
	require.Equal(t, "users", info.Committed().Name)

	// Staged edits are invisible until the next commit.
	md, err := info.StartMutation()
	require.NoError(t, err)
	md.Version = 1
	md.State = TableRemoved
	require.EqualValues(t, 0, info.Committed().Version)

	info.CommitDirty()
	require.EqualValues(t, 1, info.Committed().Version)
	require.Equal(t, TableRemoved, info.Committed().State)
}

func TestStartMutationIsADeepCopy(t *testing.T) {
	info := NewTabletInfo("p1", &TabletMetadata{
		TableID:  "t1",
		StartKey: []byte("a"),
		Replicas: []quorum.HostPort{{Host: "ts1", Port: 7050}},
		State:    TabletRunning,
	})
	info.CommitDirty()

	md, err := info.StartMutation()
	require.NoError(t, err)
	md.StartKey[0] = 'z'
	md.Replicas[0].Port = 9999

	committed := info.Committed()
	require.Equal(t, []byte("a"), committed.StartKey, "committed side must not alias dirty slices")
	require.Equal(t, 7050, committed.Replicas[0].Port)
}

func TestAbortDirty(t *testing.T) {
	info := NewTableInfo("t1", &TableMetadata{Name: "users", State: TableRunning})
	info.CommitDirty()

	md, err := info.StartMutation()
	require.NoError(t, err)
	md.Name = "renamed"
	info.AbortDirty()

	require.Nil(t, info.Dirty())
	require.Equal(t, "users", info.Committed().Name)
}

func TestStartMutationRequiresCommitted(t *testing.T) {
	info := NewTableInfo("t1", &TableMetadata{Name: "users"})
	_, err := info.StartMutation()
	require.Error(t, err, "cannot stage from nothing")
}
