package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-call-orchestrator-service/internal/observability/metrics"
)

func TestUnaryServerInterceptor_RecordsCode(t *testing.T) {
	m, _ := metrics.NewUnregistered()
	intercept := UnaryServerInterceptor(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"ok", nil, codes.OK.String()},
		{"not found", status.Error(codes.NotFound, "unknown service"), codes.NotFound.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := intercept(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return "resp", tt.err
			})
			if err != tt.err {
				t.Errorf("expected handler error to pass through, got %v", err)
			}
			if resp != "resp" {
				t.Errorf("expected handler response, got %v", resp)
			}
			if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, tt.code)); got != 1 {
				t.Errorf("expected 1 request recorded with code %s, got %v", tt.code, got)
			}
		})
	}
}

func TestStreamServerInterceptor_RecordsCode(t *testing.T) {
	m, _ := metrics.NewUnregistered()
	intercept := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := intercept(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client went away")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if got := testutil.ToFloat64(m.GRPCRequests.WithLabelValues(info.FullMethod, codes.Canceled.String())); got != 1 {
		t.Errorf("expected 1 stream recorded, got %v", got)
	}
}
