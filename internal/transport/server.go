package transport

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"

	"tabletdb/internal/metrics"
	"tabletdb/internal/status"
)

// Server hosts the master, tablet and consensus services on one listener.
type Server struct {
	addr       string
	lis        net.Listener
	grpcServer *grpc.Server
}

func NewServer(addr string, master MasterServer, tablets TabletServer, raft RaftServer) *Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(metricsInterceptor))
	if master != nil {
		gs.RegisterService(&masterServiceDesc, master)
	}
	if tablets != nil {
		gs.RegisterService(&tabletServiceDesc, tablets)
	}
	if raft != nil {
		gs.RegisterService(&raftServiceDesc, raft)
	}
	return &Server{addr: addr, grpcServer: gs}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return status.Wrap(status.CodeNetworkError, err, "listening on %s", s.addr)
	}
	s.lis = lis
	slog.Info("rpc server listening", "addr", lis.Addr().String())
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			slog.Error("rpc server stopped", "error", err)
		}
	}()
	return nil
}

// Addr reports the bound listen address once started.
func (s *Server) Addr() string {
	if s.lis == nil {
		return s.addr
	}
	return s.lis.Addr().String()
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
	slog.Info("rpc server stopped")
}

func metricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	service, method := splitFullMethod(info.FullMethod)
	code := "OK"
	if err != nil {
		code = status.CodeOf(err).String()
	}
	metrics.RPCRequestsTotal.WithLabelValues(service, method, code).Inc()

	if err != nil {
		slog.Warn("rpc failed", "method", info.FullMethod,
			"duration", time.Since(start), "error", err)
	}
	return resp, err
}

func splitFullMethod(full string) (service, method string) {
	full = strings.TrimPrefix(full, "/")
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}
