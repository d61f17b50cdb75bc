package grpcclient

import (
	"context"
	"net"
	"testing"

	"github.com/wyfcoding/numbermarket/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func TestClientPropagatesRequestID(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	seen := make(chan string, 1)
	srv := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if v := md.Get("x-request-id"); len(v) > 0 {
			seen <- v[0]
		}
		return handler(ctx, req)
	}))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := NewClient(ClientConfig{Target: lis.Addr().String(), ConnTimeout: 2, RequestTimeout: 2, MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx := logger.WithRequestID(context.Background(), "req-7")
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status %v", resp.GetStatus())
	}
	select {
	case id := <-seen:
		if id != "req-7" {
			t.Fatalf("request id %q", id)
		}
	default:
		t.Fatal("request id not sent")
	}
}

func TestNewClientRequiresTarget(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClientAcceptsRetryPolicy(t *testing.T) {
	for _, delay := range []int{0, 100, 1250} {
		conn, err := NewClient(ClientConfig{Target: "127.0.0.1:1", MaxRetries: 3, RetryDelay: delay})
		if err != nil {
			t.Fatalf("retry delay %dms: %v", delay, err)
		}
		conn.Close()
	}
}
