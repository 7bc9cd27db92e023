package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/code-payments/receipt-validator/config"
	pg "github.com/code-payments/receipt-validator/database/postgres"
	"github.com/code-payments/receipt-validator/iap"
	"github.com/code-payments/receipt-validator/iap/memory"
	"github.com/code-payments/receipt-validator/iap/nats"
	"github.com/code-payments/receipt-validator/iap/postgres"
)

func newServeCommand(root *rootOpts) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the receipt validator over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, cfg, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, log, cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the postgres schema before serving")

	return cmd
}

func serve(ctx context.Context, log *zap.Logger, cfg *config.Config, migrate bool) error {
	records, closeStore, err := newStore(ctx, log, cfg, migrate)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := newPublisher(log, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	validator, closeValidator := newValidator(log, cfg)
	defer closeValidator()

	server := iap.NewServer(log, validator, records, publisher, cfg.SharedSecret)

	serv := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_zap.UnaryServerInterceptor(log),
			grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(func(p any) error {
				log.Error("Recovered from panic", zap.Any("panic", p))
				return status.Error(codes.Internal, "internal error")
			})),
		)),
	)
	iap.RegisterReceiptValidatorServer(serv, server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(iap.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(serv, healthServer)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", cfg.ListenAddr)
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		healthServer.Shutdown()
		serv.GracefulStop()
	}()

	log.Info("Serving", zap.String("addr", lis.Addr().String()), zap.Stringer("environment", cfg.InitialEnvironment()))
	return serv.Serve(lis)
}

func newStore(ctx context.Context, log *zap.Logger, cfg *config.Config, migrate bool) (iap.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("Using in-memory validation store")
		return memory.NewInMemory(), func() {}, nil
	}

	db, err := pg.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	if migrate {
		if err := postgres.CreateSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "failed to create schema")
		}
	}

	return postgres.NewInPostgres(db), func() { _ = db.Close() }, nil
}

func newPublisher(log *zap.Logger, cfg *config.Config) (iap.Publisher, func(), error) {
	if cfg.NatsURL == "" {
		log.Info("Using in-memory event publisher")
		return memory.NewPublisher(), func() {}, nil
	}

	pub, err := nats.Connect(log, cfg.NatsURL, cfg.NatsSubject)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}
