// Package grpc exposes the field cipher to internal services over gRPC.
package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type GRPCServer struct {
	address   string
	cipher    *cryptox.FieldCipher
	logger    logging.Logger
	metrics   *obs.Metrics
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, c *cryptox.FieldCipher, m *obs.Metrics, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		cipher:    c,
		logger:    l.With("module", "grpc_server"),
		metrics:   m,
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	RegisterFieldCipherServer(srv, s)

	hs := health.NewServer()
	hs.SetServingStatus(fieldCipherServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

// Run listens on the configured address until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully when ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *GRPCServer) Encrypt(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	out, err := s.cipher.Encrypt(in.GetValue())
	if err != nil {
		s.logger.Error(ctx, "field encryption failed", "error", err)
		return nil, status.Error(codes.Internal, "encryption failed")
	}
	return wrapperspb.String(out), nil
}

func (s *GRPCServer) Decrypt(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	out, err := s.cipher.Decrypt(in.GetValue())
	if err != nil {
		if errors.Is(err, common.ErrDecryptionFailed) {
			s.metrics.DecryptFailure()
			s.logger.Warn(ctx, "field decryption failed", "error", err)
			return nil, status.Error(codes.InvalidArgument, "decryption failed")
		}
		s.logger.Error(ctx, "field decryption failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	return wrapperspb.String(out), nil
}
