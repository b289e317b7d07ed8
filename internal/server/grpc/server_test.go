package grpc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.address = "127.0.0.1:99999"

	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

func dialBufconn(t *testing.T, s *GRPCServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})
	return conn
}

func TestFieldCipher_EndToEnd(t *testing.T) {
	s := newTestServer(t)
	client := NewFieldCipherClient(dialBufconn(t, s))
	ctx := metadata.AppendToOutgoingContext(context.Background(),
		common.AccessTokenHeaderName, tokenFor(t, models.RoleAdmin, models.StatusActive))

	enc, err := client.Encrypt(ctx, "91234567-8")
	require.NoError(t, err)
	assert.Len(t, strings.Split(enc, ":"), 3)

	dec, err := client.Decrypt(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, "91234567-8", dec)

	_, err = client.Decrypt(ctx, "zz:zz:zz")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, "decryption failed", status.Convert(err).Message())

	empty, err := client.Encrypt(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFieldCipher_RequiresPrivilegedRole(t *testing.T) {
	s := newTestServer(t)
	client := NewFieldCipherClient(dialBufconn(t, s))

	_, err := client.Encrypt(context.Background(), "x")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(),
		common.AccessTokenHeaderName, tokenFor(t, models.RoleUser, models.StatusActive))
	_, err = client.Encrypt(ctx, "x")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	hc := healthpb.NewHealthClient(dialBufconn(t, s))

	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: fieldCipherServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
