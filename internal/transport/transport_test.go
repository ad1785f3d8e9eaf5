package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/wire"
)

// echoMaster answers with canned data so the test can verify the codec and
// routing end to end.
type echoMaster struct{}

func (echoMaster) ResolvePeer(context.Context, *wire.ResolvePeerRequest) (*wire.ResolvePeerResponse, error) {
	return &wire.ResolvePeerResponse{PermanentUUID: "uuid-under-test"}, nil
}

func (echoMaster) GetTableLocations(_ context.Context, req *wire.GetTableLocationsRequest) (*wire.GetTableLocationsResponse, error) {
	if req.TableName != "users" {
		return nil, status.NotFound("table %s", req.TableName)
	}
	return &wire.GetTableLocationsResponse{
		TableID: "t1",
		Tablets: []wire.TabletLocation{{
			TabletID: "p1",
			EndKey:   []byte("m"),
			Replicas: []quorum.HostPort{{Host: "ts1", Port: 7050}},
		}},
	}, nil
}

func (echoMaster) GetTabletLocations(_ context.Context, req *wire.GetTabletLocationsRequest) (*wire.GetTabletLocationsResponse, error) {
	return &wire.GetTabletLocationsResponse{Location: wire.TabletLocation{TabletID: req.TabletID}}, nil
}

type echoTablets struct {
	lastWrite *wire.WriteRequest
}

func (ts *echoTablets) Write(_ context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error) {
	ts.lastWrite = req
	return &wire.WriteResponse{PerRowErrors: []tablet.RowError{{
		RowIndex: 0,
		Code:     status.CodeAlreadyPresent.String(),
		Message:  "dup",
	}}}, nil
}

func startLoopback(t *testing.T) (*Server, *Messenger, quorum.HostPort, *echoTablets) {
	t.Helper()
	tablets := &echoTablets{}
	srv := NewServer("127.0.0.1:0", echoMaster{}, tablets, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	addr, err := quorum.ParseHostPort(srv.Addr())
	require.NoError(t, err)

	messenger := NewMessenger()
	t.Cleanup(func() { messenger.Close() })
	return srv, messenger, addr, tablets
}

func TestResolvePeerOverLoopback(t *testing.T) {
	_, messenger, addr, _ := startLoopback(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uuid, err := messenger.ResolvePeerUUID(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, "uuid-under-test", uuid)
}

func TestMasterProxyOverLoopback(t *testing.T) {
	_, messenger, addr, _ := startLoopback(t)

	proxy, err := messenger.MasterProxy(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := proxy.GetTableLocations(ctx, &wire.GetTableLocationsRequest{TableName: "users"})
	require.NoError(t, err)
	require.Equal(t, "t1", resp.TableID)
	require.Len(t, resp.Tablets, 1)
	require.Equal(t, []byte("m"), resp.Tablets[0].EndKey)
	require.Equal(t, "ts1:7050", resp.Tablets[0].Replicas[0].String())

	_, err = proxy.GetTableLocations(ctx, &wire.GetTableLocationsRequest{TableName: "ghost"})
	require.Error(t, err)
}

func TestTabletWriteOverLoopback(t *testing.T) {
	_, messenger, addr, tablets := startLoopback(t)

	proxy, err := messenger.TabletProxy(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &wire.WriteRequest{
		TabletID: "p1",
		Ops: []tablet.RowOp{{
			Type:  tablet.OpInsert,
			Cells: map[int][]byte{0: []byte("k"), 1: []byte("v")},
		}},
	}
	resp, err := proxy.Write(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.PerRowErrors, 1)
	require.Equal(t, status.CodeAlreadyPresent.String(), resp.PerRowErrors[0].Code)

	// The JSON codec round-trips cell maps intact.
	require.NotNil(t, tablets.lastWrite)
	require.Equal(t, []byte("k"), tablets.lastWrite.Ops[0].Cells[0])
}

func TestResolverPassesLiteralIPs(t *testing.T) {
	r := NewDNSResolver()
	addrs, err := r.Resolve(context.Background(), quorum.HostPort{Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"127.0.0.1"}, addrs)
}
