package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"tabletdb/internal/client"
	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/wire"
)

// Messenger pools one grpc connection per remote address and hands out
// typed proxies over it. It also implements quorum.UUIDResolver for the
// master's distributed bootstrap. Thread-safe; each messenger's
// connections are private to it.
type Messenger struct {
	resolver *DNSResolver

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewMessenger() *Messenger {
	return &Messenger{
		resolver: NewDNSResolver(),
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// Resolver exposes the messenger's DNS resolver.
func (m *Messenger) Resolver() *DNSResolver { return m.resolver }

func (m *Messenger) conn(addr quorum.HostPort) (*grpc.ClientConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cc, ok := m.conns[addr.String()]; ok {
		return cc, nil
	}

	target := addr.String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if addrs, err := m.resolver.Resolve(ctx, addr); err == nil && len(addrs) > 0 {
		target = quorum.HostPort{Host: addrs[0], Port: addr.Port}.String()
	}
	cancel()

	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, status.Wrap(status.CodeNetworkError, err, "connecting to %s", addr)
	}
	m.conns[addr.String()] = cc
	return cc, nil
}

// MasterProxy returns a durable proxy to the master at addr.
func (m *Messenger) MasterProxy(addr quorum.HostPort) (client.MasterProxy, error) {
	cc, err := m.conn(addr)
	if err != nil {
		return nil, err
	}
	return &masterProxy{cc: cc}, nil
}

// TabletProxy returns a proxy to the tablet server at addr.
func (m *Messenger) TabletProxy(addr quorum.HostPort) (client.TabletProxy, error) {
	cc, err := m.conn(addr)
	if err != nil {
		return nil, err
	}
	return &tabletProxy{cc: cc}, nil
}

// ResolvePeerUUID asks the server at addr for its permanent uuid,
// satisfying quorum.UUIDResolver for distributed bootstrap.
func (m *Messenger) ResolvePeerUUID(ctx context.Context, addr quorum.HostPort) (string, error) {
	cc, err := m.conn(addr)
	if err != nil {
		return "", err
	}
	resp := new(wire.ResolvePeerResponse)
	if err := cc.Invoke(ctx, "/"+masterServiceName+"/ResolvePeer",
		&wire.ResolvePeerRequest{}, resp); err != nil {
		return "", status.Wrap(status.CodeNetworkError, err, "resolving uuid of %s", addr)
	}
	return resp.PermanentUUID, nil
}

// StepMessages forwards a consensus message batch to the peer at addr.
func (m *Messenger) StepMessages(ctx context.Context, addr quorum.HostPort, batch *RaftMessageBatch) error {
	cc, err := m.conn(addr)
	if err != nil {
		return err
	}
	ack := new(RaftMessageAck)
	if err := cc.Invoke(ctx, "/"+raftServiceName+"/StepMessages", batch, ack); err != nil {
		return status.Wrap(status.CodeNetworkError, err, "stepping consensus messages to %s", addr)
	}
	return nil
}

// Close tears every pooled connection down.
func (m *Messenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, cc := range m.conns {
		if err := cc.Close(); err != nil {
			slog.Warn("closing connection", "addr", addr, "error", err)
		}
	}
	m.conns = make(map[string]*grpc.ClientConn)
	return nil
}

type masterProxy struct {
	cc *grpc.ClientConn
}

func (p *masterProxy) GetTableLocations(ctx context.Context, req *wire.GetTableLocationsRequest) (*wire.GetTableLocationsResponse, error) {
	resp := new(wire.GetTableLocationsResponse)
	if err := p.cc.Invoke(ctx, "/"+masterServiceName+"/GetTableLocations", req, resp); err != nil {
		return nil, status.Wrap(status.CodeNetworkError, err, "GetTableLocations")
	}
	return resp, nil
}

func (p *masterProxy) GetTabletLocations(ctx context.Context, req *wire.GetTabletLocationsRequest) (*wire.GetTabletLocationsResponse, error) {
	resp := new(wire.GetTabletLocationsResponse)
	if err := p.cc.Invoke(ctx, "/"+masterServiceName+"/GetTabletLocations", req, resp); err != nil {
		return nil, status.Wrap(status.CodeNetworkError, err, "GetTabletLocations")
	}
	return resp, nil
}

type tabletProxy struct {
	cc *grpc.ClientConn
}

func (p *tabletProxy) Write(ctx context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error) {
	resp := new(wire.WriteResponse)
	if err := p.cc.Invoke(ctx, "/"+tabletServiceName+"/Write", req, resp); err != nil {
		return nil, status.Wrap(status.CodeNetworkError, err, "Write")
	}
	return resp, nil
}
