package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/wyfcoding/numbermarket/pkg/config"
	"github.com/wyfcoding/numbermarket/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dial(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthFollowsDependencyChecks(t *testing.T) {
	dbErr := errors.New("connection refused")
	healthy := true
	s := NewServer(config.GRPCConfig{}, metrics.New("grpc_health_test"), nil, Check{
		Name: "database",
		Ping: func(context.Context) error {
			if healthy {
				return nil
			}
			return dbErr
		},
	})
	client := dial(t, s)
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatal(err)
		}
		return resp.GetStatus()
	}

	if st := check(); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("initial status %v", st)
	}

	healthy = false
	if err := s.CheckDependencies(ctx); !errors.Is(err, dbErr) {
		t.Fatalf("expected check error, got %v", err)
	}
	if st := check(); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after failed check %v", st)
	}

	healthy = true
	if err := s.CheckDependencies(ctx); err != nil {
		t.Fatal(err)
	}
	if st := check(); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status after recovery %v", st)
	}
}
