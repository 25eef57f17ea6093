package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	shutdownTimeout = 5 * time.Second
	probeInterval   = 15 * time.Second
)

// Probe reports whether a dependency (database, cache) is reachable.
type Probe func(ctx context.Context) error

type Servers struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	health     *health.Server
	conn       *grpc.ClientConn
	probes     map[string]Probe
	log        *logrus.Entry
}

// Run starts the gRPC health server and the HTTP server and blocks until ctx is cancelled
// or a server fails. HTTP serves /healthz through grpc-gateway and everything else through api.
func Run(ctx context.Context, cfg *config.Config, api http.Handler, probes map[string]Probe, logger *logrus.Logger) error {
	s, err := newServers(cfg, api, probes, logger)
	if err != nil {
		return err
	}
	defer s.conn.Close()

	lis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithField("addr", cfg.GRPC.Address).Info("gRPC server started")
		return s.grpcServer.Serve(lis)
	})

	g.Go(func() error {
		s.log.WithField("addr", cfg.HTTP.Address).Info("HTTP server started")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.watch(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.grpcServer.GracefulStop()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		s.log.Info("servers stopped")
		return nil
	})

	return g.Wait()
}

func newServers(cfg *config.Config, api http.Handler, probes map[string]Probe, logger *logrus.Logger) (*Servers, error) {
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	conn, err := grpc.NewClient(dialTarget(cfg.GRPC.Address), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create health client: %w", err)
	}

	gw := runtime.NewServeMux(runtime.WithHealthzEndpoint(healthpb.NewHealthClient(conn)))

	handler := http.NewServeMux()
	handler.Handle("/healthz", gw)
	handler.Handle("/", api)

	return &Servers{
		grpcServer: grpcSrv,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		health: healthSrv,
		conn:   conn,
		probes: probes,
		log:    logger.WithField("component", "bootstrap"),
	}, nil
}

// watch flips the overall health status whenever a probe starts or stops failing.
func (s *Servers) watch(ctx context.Context) {
	s.check(ctx)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Servers) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range s.probes {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := probe(probeCtx)
		cancel()
		if err != nil {
			s.log.WithError(err).WithField("probe", name).Warn("health probe failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
}

// dialTarget turns a listen address like ":9090" into something the client can dial.
func dialTarget(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
