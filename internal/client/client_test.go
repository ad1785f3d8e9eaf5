package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tabletdb/internal/status"
)

func TestNewRequiresMasterAddr(t *testing.T) {
	_, err := New(Options{}, &fakeMessenger{})
	require.True(t, status.IsInvalidArgument(err), "got %v", err)

	_, err = New(Options{MasterAddr: "not-an-addr"}, &fakeMessenger{})
	require.True(t, status.IsInvalidArgument(err), "got %v", err)
}

func TestOpenTableValidation(t *testing.T) {
	c, _, _ := newFakeCluster()

	_, err := c.OpenTable("", clientTestSchema())
	require.True(t, status.IsInvalidArgument(err), "got %v", err)

	tbl, err := c.OpenTable("users", clientTestSchema())
	require.NoError(t, err)
	require.Equal(t, "users", tbl.Name())
}

func TestCloseRefusesWithOpenSessions(t *testing.T) {
	c, _, _ := newFakeCluster()
	s := c.NewSession()

	err := c.Close()
	require.True(t, status.IsIllegalState(err), "got %v", err)

	require.NoError(t, s.Close())
	require.NoError(t, c.Close())
}

func TestTabletProxyLookup(t *testing.T) {
	c, ts, _ := newFakeCluster()

	proxy, err := c.TabletProxy("p1")
	require.NoError(t, err)
	require.NotNil(t, proxy)
	_ = ts
}

func TestSessionsAreIndependent(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)

	s1 := c.NewSession()
	s2 := c.NewSession()
	require.NoError(t, s1.SetFlushMode(ManualFlush))

	// s2's sync write transmits alone; s1's buffered op stays put.
	require.NoError(t, s1.Apply(newInsert(t, tbl, "buffered", 10)))
	require.NoError(t, s2.Apply(newInsert(t, tbl, "inline", 10)))

	require.Equal(t, 1, ts.requestCount(), "sessions must never co-batch")
	ts.mu.Lock()
	require.Len(t, ts.requests[0].Ops, 1)
	ts.mu.Unlock()

	require.NoError(t, s1.Flush())
	require.NoError(t, s1.Close())
	require.NoError(t, s2.Close())
}
