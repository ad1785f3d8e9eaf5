package transport

import (
	"context"

	"google.golang.org/grpc"

	"tabletdb/internal/wire"
)

const (
	masterServiceName = "tabletdb.MasterService"
	tabletServiceName = "tabletdb.TabletService"
	raftServiceName   = "tabletdb.ConsensusService"
)

// MasterServer is the handler side of the master service.
type MasterServer interface {
	ResolvePeer(ctx context.Context, req *wire.ResolvePeerRequest) (*wire.ResolvePeerResponse, error)
	GetTableLocations(ctx context.Context, req *wire.GetTableLocationsRequest) (*wire.GetTableLocationsResponse, error)
	GetTabletLocations(ctx context.Context, req *wire.GetTabletLocationsRequest) (*wire.GetTabletLocationsResponse, error)
}

// TabletServer is the handler side of the tablet write service.
type TabletServer interface {
	Write(ctx context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error)
}

// RaftServer receives consensus message batches from remote peers.
type RaftServer interface {
	StepMessages(ctx context.Context, req *RaftMessageBatch) (*RaftMessageAck, error)
}

// RaftMessageBatch carries marshaled raftpb messages for one tablet.
type RaftMessageBatch struct {
	TabletID string   `json:"tablet_id"`
	FromUUID string   `json:"from_uuid"`
	Messages [][]byte `json:"messages"`
}

type RaftMessageAck struct{}

func unaryHandler[Req any, Resp any](fullMethod string,
	call func(srv any, ctx context.Context, req *Req) (*Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error,
		interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		})
	}
}

var masterServiceDesc = grpc.ServiceDesc{
	ServiceName: masterServiceName,
	HandlerType: (*MasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ResolvePeer",
			Handler: unaryHandler("/"+masterServiceName+"/ResolvePeer",
				func(srv any, ctx context.Context, req *wire.ResolvePeerRequest) (*wire.ResolvePeerResponse, error) {
					return srv.(MasterServer).ResolvePeer(ctx, req)
				}),
		},
		{
			MethodName: "GetTableLocations",
			Handler: unaryHandler("/"+masterServiceName+"/GetTableLocations",
				func(srv any, ctx context.Context, req *wire.GetTableLocationsRequest) (*wire.GetTableLocationsResponse, error) {
					return srv.(MasterServer).GetTableLocations(ctx, req)
				}),
		},
		{
			MethodName: "GetTabletLocations",
			Handler: unaryHandler("/"+masterServiceName+"/GetTabletLocations",
				func(srv any, ctx context.Context, req *wire.GetTabletLocationsRequest) (*wire.GetTabletLocationsResponse, error) {
					return srv.(MasterServer).GetTabletLocations(ctx, req)
				}),
		},
	},
	Metadata: "tabletdb/master",
}

var tabletServiceDesc = grpc.ServiceDesc{
	ServiceName: tabletServiceName,
	HandlerType: (*TabletServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Write",
			Handler: unaryHandler("/"+tabletServiceName+"/Write",
				func(srv any, ctx context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error) {
					return srv.(TabletServer).Write(ctx, req)
				}),
		},
	},
	Metadata: "tabletdb/tablet",
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: raftServiceName,
	HandlerType: (*RaftServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StepMessages",
			Handler: unaryHandler("/"+raftServiceName+"/StepMessages",
				func(srv any, ctx context.Context, req *RaftMessageBatch) (*RaftMessageAck, error) {
					return srv.(RaftServer).StepMessages(ctx, req)
				}),
		},
	},
	Metadata: "tabletdb/consensus",
}
