package testutil

import (
	"context"
	"net"
	"testing"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type serverConfig struct {
	log         *zap.Logger
	services    []func(*grpc.Server)
	serverChain []grpc.UnaryServerInterceptor
}

// ServerOption configures the settings when creating a test server.
type ServerOption func(c *serverConfig)

// WithLogger replaces the development logger used by the server's logging
// interceptor.
func WithLogger(log *zap.Logger) ServerOption {
	return func(c *serverConfig) {
		c.log = log
	}
}

// WithService registers a function to be called in order to bind a service.
func WithService(register func(*grpc.Server)) ServerOption {
	return func(c *serverConfig) {
		c.services = append(c.services, register)
	}
}

// WithUnaryServerInterceptor appends i after the logging and recovery
// interceptors.
func WithUnaryServerInterceptor(i grpc.UnaryServerInterceptor) ServerOption {
	return func(c *serverConfig) {
		c.serverChain = append(c.serverChain, i)
	}
}

// RunGRPCServer serves the registered services on an in-memory listener,
// with the same logging and panic recovery chain as the real server, and
// returns a connected client. Everything is torn down with the test.
func RunGRPCServer(t *testing.T, opts ...ServerOption) grpc.ClientConnInterface {
	c := &serverConfig{log: zap.Must(zap.NewDevelopment())}
	for _, opt := range opts {
		opt(c)
	}

	chain := append([]grpc.UnaryServerInterceptor{
		grpc_zap.UnaryServerInterceptor(c.log),
		grpc_recovery.UnaryServerInterceptor(),
	}, c.serverChain...)

	serv := grpc.NewServer(grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(chain...)))
	for _, register := range c.services {
		register(serv)
	}

	lis := bufconn.Listen(bufSize)
	go func() {
		if err := serv.Serve(lis); err != nil {
			c.log.Warn("Test server stopped", zap.Error(err))
		}
	}()

	cc, err := grpc.NewClient(
		"passthrough:///bufconn",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cc.Close()
		serv.Stop()
		_ = lis.Close()
	})

	return cc
}
