package tablet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tabletdb/internal/fs"
	"tabletdb/internal/status"
)

func TestMetaRoundTrip(t *testing.T) {
	fsm, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	schema := testSchema(t)
	created, err := CreateNewMeta(fsm, "00000000000000000000000000000000", "catalog",
		schema, []string{"0", "1"}, StateRemoteBootstrapDone)
	require.NoError(t, err)

	loaded, err := LoadMeta(fsm, "00000000000000000000000000000000")
	require.NoError(t, err)
	require.True(t, loaded.Schema.Equals(created.Schema))
	require.Equal(t, StateRemoteBootstrapDone, loaded.State)
	require.Equal(t, []string{"0", "1"}, loaded.BlockIDs)
}

func TestLoadMetaMissing(t *testing.T) {
	fsm, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	_, err = LoadMeta(fsm, "deadbeef")
	require.True(t, status.IsNotFound(err), "got %v", err)
}

func TestMetaStateTransitionPersists(t *testing.T) {
	fsm, err := fs.Open(t.TempDir())
	require.NoError(t, err)

	m, err := CreateNewMeta(fsm, "t1", "tbl", testSchema(t), nil, StateNew)
	require.NoError(t, err)

	m.State = StateBootstrapping
	require.NoError(t, m.Flush())

	loaded, err := LoadMeta(fsm, "t1")
	require.NoError(t, err)
	require.Equal(t, StateBootstrapping, loaded.State)
}
