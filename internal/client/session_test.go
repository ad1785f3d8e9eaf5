package client

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/wire"
)

func newInsert(t *testing.T, tbl *Table, key string, valSize int) *Op {
	t.Helper()
	op := tbl.NewInsert()
	require.NoError(t, op.SetString("key", key))
	require.NoError(t, op.SetBytes("val", make([]byte, valSize)))
	return op
}

func openUsers(t *testing.T, c *Client) *Table {
	t.Helper()
	tbl, err := c.OpenTable("users", clientTestSchema())
	require.NoError(t, err)
	return tbl
}

func TestSyncApply(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()

	require.NoError(t, s.Apply(newInsert(t, tbl, "row1", 10)))
	require.False(t, s.HasPendingOperations())
	require.Equal(t, 1, ts.requestCount())

	// The server's precise status surfaces inline.
	ts.responder = func(req *wire.WriteRequest) (*wire.WriteResponse, error) {
		return &wire.WriteResponse{PerRowErrors: []tablet.RowError{{
			RowIndex: 0,
			Code:     status.CodeAlreadyPresent.String(),
			Message:  "key already present",
		}}}, nil
	}
	err := s.Apply(newInsert(t, tbl, "row1", 10))
	require.True(t, status.IsAlreadyPresent(err), "got %v", err)

	require.NoError(t, s.Close())
}

func TestApplyValidation(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()

	// Missing key column never reaches the wire.
	op := tbl.NewInsert()
	require.NoError(t, op.SetBytes("val", []byte("x")))
	err := s.Apply(op)
	require.True(t, status.IsInvalidArgument(err), "got %v", err)
	require.Equal(t, 0, ts.requestCount())

	// Unknown column is rejected at set time.
	require.Error(t, op.SetString("nope", "x"))

	// DELETE with a value column is rejected.
	del := tbl.NewDelete()
	require.NoError(t, del.SetString("key", "k"))
	require.NoError(t, del.SetBytes("val", []byte("x")))
	err = s.Apply(del)
	require.True(t, status.IsInvalidArgument(err), "got %v", err)
}

func TestManualFlush(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(ManualFlush))

	require.NoError(t, s.Apply(newInsert(t, tbl, "a", 10)))
	require.NoError(t, s.Apply(newInsert(t, tbl, "b", 10)))
	require.True(t, s.HasPendingOperations())
	require.Equal(t, 0, ts.requestCount(), "nothing transmits before Flush")

	require.NoError(t, s.Flush())
	require.False(t, s.HasPendingOperations())
	require.Equal(t, 1, ts.requestCount(), "one batched write per tablet")

	ts.mu.Lock()
	require.Len(t, ts.requests[0].Ops, 2)
	ts.mu.Unlock()

	require.NoError(t, s.Close())
}

func TestManualFlushBufferFull(t *testing.T) {
	c, _, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(ManualFlush))
	s.SetMutationBufferSpace(4 * 1024)

	require.NoError(t, s.Apply(newInsert(t, tbl, "a", 3*1024)))
	err := s.Apply(newInsert(t, tbl, "b", 2*1024))
	require.True(t, status.IsServiceUnavailable(err), "got %v", err)

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}

func TestBackgroundApplyBlocksWhenFull(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(AutoFlushBackground))
	s.SetMutationBufferSpace(4 * 1024)

	gate := make(chan struct{})
	ts.gate = gate

	require.NoError(t, s.Apply(newInsert(t, tbl, "a", 3*1024)))

	// The second apply exceeds the buffer; it must block until the first
	// batch's flush completes.
	applied := make(chan error, 1)
	go func() { applied <- s.Apply(newInsert(t, tbl, "b", 2*1024)) }()

	select {
	case err := <-applied:
		t.Fatalf("second apply should have blocked, returned %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-applied:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("second apply never unblocked")
	}

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}

func TestBackgroundFlushDeliversAndAccumulatesErrors(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(AutoFlushBackground))

	ts.responder = func(req *wire.WriteRequest) (*wire.WriteResponse, error) {
		var errs []tablet.RowError
		for i := range req.Ops {
			errs = append(errs, tablet.RowError{
				RowIndex: i,
				Code:     status.CodeNotFound.String(),
				Message:  "key not found",
			})
		}
		return &wire.WriteResponse{PerRowErrors: errs}, nil
	}

	op := tbl.NewUpdate()
	require.NoError(t, op.SetString("key", "missing"))
	require.NoError(t, op.SetBytes("val", []byte("v")))
	require.NoError(t, s.Apply(op))

	err := s.Flush()
	require.Error(t, err, "flush must summarize failures")

	require.Equal(t, 1, s.CountPendingErrors())
	errs, overflowed := s.GetPendingErrors()
	require.False(t, overflowed)
	require.Len(t, errs, 1)
	require.Equal(t, status.CodeNotFound, errs[0].Code)
	require.Same(t, op, errs[0].Op)
	require.Equal(t, 0, s.CountPendingErrors(), "drain empties the list")

	require.NoError(t, s.Close())
}

func TestErrorOverflowSignal(t *testing.T) {
	col := newErrorCollector(2)
	for i := 0; i < 3; i++ {
		col.Add(PendingError{Code: status.CodeTimedOut, Message: fmt.Sprintf("e%d", i)})
	}
	require.Equal(t, 2, col.Count())

	errs, overflowed := col.Drain()
	require.True(t, overflowed, "drops must be signaled")
	require.Len(t, errs, 2)
	// Drop-oldest: e0 is gone.
	require.Equal(t, "e1", errs[0].Message)
	require.Equal(t, "e2", errs[1].Message)

	// The signal resets after retrieval.
	col.Add(PendingError{Code: status.CodeTimedOut, Message: "e3"})
	_, overflowed = col.Drain()
	require.False(t, overflowed)
}

func TestSetFlushModeRequiresIdleSession(t *testing.T) {
	c, _, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(ManualFlush))

	require.NoError(t, s.Apply(newInsert(t, tbl, "a", 10)))
	err := s.SetFlushMode(AutoFlushSync)
	require.True(t, status.IsInvalidArgument(err), "got %v", err)

	require.NoError(t, s.Flush())
	require.NoError(t, s.SetFlushMode(AutoFlushSync))
	// Idempotent: repeating the same mode is fine.
	require.NoError(t, s.SetFlushMode(AutoFlushSync))
	require.NoError(t, s.Close())
}

func TestCloseWithPendingOperations(t *testing.T) {
	c, _, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(ManualFlush))

	require.NoError(t, s.Apply(newInsert(t, tbl, "a", 10)))
	err := s.Close()
	require.True(t, status.IsIllegalState(err), "got %v", err)

	// The session stays usable: flush then close.
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}

func TestApplyAsync(t *testing.T) {
	c, _, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()

	done := make(chan error, 1)
	s.ApplyAsync(newInsert(t, tbl, "a", 10), func(err error) { done <- err })
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("callback never fired")
	}
	require.NoError(t, s.Close())
}

func TestFlushAsync(t *testing.T) {
	c, _, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(ManualFlush))
	require.NoError(t, s.Apply(newInsert(t, tbl, "a", 10)))

	done := make(chan error, 1)
	s.FlushAsync(func(err error) { done <- err })
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("flush callback never fired")
	}
	require.NoError(t, s.Close())
}

func TestTimeoutSurfacesAsTimedOut(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	s.SetTimeoutMillis(50)

	ts.gate = make(chan struct{}) // never released

	err := s.Apply(newInsert(t, tbl, "a", 10))
	require.True(t, status.IsTimedOut(err), "got %v", err)
	require.NoError(t, s.Close())
}

func TestBackgroundTimerFlushes(t *testing.T) {
	c, ts, _ := newFakeCluster()
	tbl := openUsers(t, c)
	s := c.NewSession()
	require.NoError(t, s.SetFlushMode(AutoFlushBackground))

	var acked atomic.Int32
	s.ApplyAsync(newInsert(t, tbl, "a", 10), func(err error) {
		if err == nil {
			acked.Add(1)
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for acked.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background flusher never transmitted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, ts.requestCount())
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}
