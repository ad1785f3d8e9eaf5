package client

import (
	"context"

	"tabletdb/internal/quorum"
	"tabletdb/internal/wire"
)

// MasterProxy is the client's view of the master service.
type MasterProxy interface {
	GetTableLocations(ctx context.Context, req *wire.GetTableLocationsRequest) (*wire.GetTableLocationsResponse, error)
	GetTabletLocations(ctx context.Context, req *wire.GetTabletLocationsRequest) (*wire.GetTabletLocationsResponse, error)
}

// TabletProxy is the client's view of one tablet server.
type TabletProxy interface {
	Write(ctx context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error)
}

// Messenger pools RPC connections and hands out proxies. Each client owns
// exactly one; different clients never share connections.
type Messenger interface {
	MasterProxy(addr quorum.HostPort) (MasterProxy, error)
	TabletProxy(addr quorum.HostPort) (TabletProxy, error)
	Close() error
}
