package client

import (
	"context"
	"sync"

	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/wire"
)

// fakeMaster serves location lookups from a static map.
type fakeMaster struct {
	mu      sync.Mutex
	tables  map[string]*wire.GetTableLocationsResponse
	lookups int
}

func (m *fakeMaster) GetTableLocations(_ context.Context, req *wire.GetTableLocationsRequest) (*wire.GetTableLocationsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	resp, ok := m.tables[req.TableName]
	if !ok {
		return nil, status.NotFound("table %s", req.TableName)
	}
	return resp, nil
}

func (m *fakeMaster) GetTabletLocations(_ context.Context, req *wire.GetTabletLocationsRequest) (*wire.GetTabletLocationsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, resp := range m.tables {
		for _, loc := range resp.Tablets {
			if loc.TabletID == req.TabletID {
				return &wire.GetTabletLocationsResponse{Location: loc}, nil
			}
		}
	}
	return nil, status.NotFound("tablet %s", req.TabletID)
}

// fakeTabletServer records writes and answers via a pluggable responder.
// A non-nil gate makes Write block until the gate closes.
type fakeTabletServer struct {
	mu        sync.Mutex
	requests  []*wire.WriteRequest
	responder func(req *wire.WriteRequest) (*wire.WriteResponse, error)
	gate      chan struct{}
}

func (ts *fakeTabletServer) Write(ctx context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error) {
	ts.mu.Lock()
	ts.requests = append(ts.requests, req)
	gate := ts.gate
	responder := ts.responder
	ts.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if responder != nil {
		return responder(req)
	}
	return &wire.WriteResponse{}, nil
}

func (ts *fakeTabletServer) requestCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.requests)
}

type fakeMessenger struct {
	master  *fakeMaster
	servers map[string]*fakeTabletServer
}

func (m *fakeMessenger) MasterProxy(quorum.HostPort) (MasterProxy, error) {
	return m.master, nil
}

func (m *fakeMessenger) TabletProxy(addr quorum.HostPort) (TabletProxy, error) {
	ts, ok := m.servers[addr.String()]
	if !ok {
		return nil, status.NetworkError("no server at %s", addr)
	}
	return ts, nil
}

func (m *fakeMessenger) Close() error { return nil }

// newFakeCluster builds a client over one table with one tablet hosted on
// one fake server.
func newFakeCluster() (*Client, *fakeTabletServer, *fakeMaster) {
	ts := &fakeTabletServer{}
	master := &fakeMaster{tables: map[string]*wire.GetTableLocationsResponse{
		"users": {
			TableID: "t1",
			Tablets: []wire.TabletLocation{{
				TabletID: "p1",
				Replicas: []quorum.HostPort{{Host: "ts1", Port: 7050}},
			}},
		},
	}}
	messenger := &fakeMessenger{
		master:  master,
		servers: map[string]*fakeTabletServer{"ts1:7050": ts},
	}
	c, err := New(Options{MasterAddr: "master:7051"}, messenger)
	if err != nil {
		panic(err)
	}
	return c, ts, master
}

func clientTestSchema() tablet.Schema {
	s, err := tablet.NewSchema([]tablet.ColumnSchema{
		{Name: "key", Type: tablet.TypeString},
		{Name: "val", Type: tablet.TypeBytes},
	}, 1)
	if err != nil {
		panic(err)
	}
	return s
}
