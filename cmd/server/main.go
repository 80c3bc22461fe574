package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"storefront/cmd/server/config"
	"storefront/internal/events"
	"storefront/internal/httpapi"
	"storefront/internal/observability"
	"storefront/internal/orders"
	"storefront/internal/realtime"
	"storefront/internal/reconcile"

	gp "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService is the gRPC health service name reported for the storefront.
const healthService = "storefront.Payments"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	finCfg, err := config.LoadFinalizer()
	if err != nil {
		return err
	}
	mountCfg, err := config.LoadMounts()
	if err != nil {
		return err
	}
	kafkaCfg, err := config.LoadKafka()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	if err := metrics.RegisterPrometheus(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	stores, closeStores := orders.BuildStores(ctx, config.LoadDatabase().URL, log.Printf)
	defer closeStores()

	cartStore, closeCart, err := buildCartStore(ctx)
	if err != nil {
		return err
	}
	defer closeCart()

	feedSink, closeFeed, err := buildPublisher(kafkaCfg.Brokers, kafkaCfg.Topic)
	if err != nil {
		return err
	}
	defer closeFeed()
	notifier, closeNotifier, err := buildPublisher(kafkaCfg.Brokers, kafkaCfg.NotifyTopic)
	if err != nil {
		return err
	}
	defer closeNotifier()

	journal, closeJournal, err := openJournal(config.LoadJournal().Path)
	if err != nil {
		return err
	}
	defer closeJournal()

	hub := realtime.NewHub(originChecker(httpCfg.AllowedOrigins), log.Printf)

	backendURL := finCfg.URL
	if backendURL == "" {
		backendURL = selfFinalizeURL(httpCfg.Addr)
	}
	backend := orders.NewReliableBackend(
		orders.NewHTTPBackend(backendURL, &http.Client{Timeout: finCfg.Timeout}),
		orders.NewRateLimiter(finCfg.RateLimitInterval, finCfg.RateLimitBurst).OnWait(metrics.AddRateLimitWait),
		orders.NewCircuitBreaker(orders.CircuitBreakerConfig{
			MaxFailures:  finCfg.BreakerMaxFailures,
			ResetTimeout: finCfg.BreakerResetTimeout,
		}),
	)

	reconciler := reconcile.New(reconcile.Deps{
		Finalizer:      orders.NewFinalizer(backend, stores.Ledger, finCfg.Timeout, log.Printf),
		Cart:           cartStore,
		Publisher:      events.NewFanoutPublisher(events.NewMultiPublisher(journal, feedSink), hub),
		PublishTimeout: kafkaCfg.PublishTimeout,
		Recorder:       metrics,
	})

	api := httpapi.New(httpapi.Deps{
		Reconciler:     reconciler,
		Mounts:         reconcile.NewMountTable(mountCfg.TTL),
		Orders:         orders.NewService(stores.Orders, notifier, log.Printf),
		Cart:           cartStore,
		Feed:           hub,
		Metrics:        metrics,
		Limiter:        orders.NewRateLimiter(httpCfg.RateLimitInterval, httpCfg.RateLimitBurst).OnWait(metrics.AddRateLimitWait),
		HashSecret:     config.LoadVNPay().HashSecret,
		AllowedOrigins: httpCfg.AllowedOrigins,
		SecureCookies:  httpCfg.SecureCookies,
	})
	httpSrv := &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	obsSrv := buildObservabilityServer(metrics)

	grpcServer, healthServer := newGRPCServer()
	lis, err := net.Listen("tcp", config.LoadGRPC().Addr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("HTTP server running on %s (finalize backend %s)", httpCfg.Addr, backendURL)
		return serveHTTP(httpSrv)
	})
	if obsSrv != nil {
		g.Go(func() error {
			log.Printf("observability server running on %s", obsSrv.Addr)
			return serveHTTP(obsSrv)
		})
	}
	g.Go(func() error {
		log.Printf("gRPC health server running on %s", lis.Addr())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		metrics.MarkShutdown(metrics.InFlight())
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		grpcServer.GracefulStop()
		return err
	})
	return g.Wait()
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildObservabilityServer returns nil when OBS_ADDR is unset.
func buildObservabilityServer(metrics *observability.Metrics) *http.Server {
	cfg, err := config.LoadObservability()
	if err != nil {
		log.Printf("observability server disabled: %v", err)
		return nil
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           observability.NewMux(metrics, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.UnaryInterceptor(gp.UnaryServerInterceptor),
		grpc.StreamInterceptor(gp.StreamServerInterceptor),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	if env := os.Getenv("APP_ENV"); env != "production" {
		reflection.Register(server)
	}
	gp.Register(server)
	return server, healthServer
}

// buildPublisher returns a Kafka publisher for topic, or a log publisher
// when no brokers are configured.
func buildPublisher(brokers []string, topic string) (events.Publisher, func(), error) {
	if len(brokers) == 0 {
		return events.NewLogPublisher(log.Printf), func() {}, nil
	}
	pub, err := events.NewKafkaPublisher(brokers, topic)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Printf("close kafka publisher topic=%s: %v", topic, err)
		}
	}, nil
}

// openJournal opens the payments journal at path and logs how many events it
// already holds. An empty path disables journaling.
func openJournal(path string) (events.Publisher, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	count := 0
	if err := events.ReplayJournal(path, func(events.Event) error {
		count++
		return nil
	}); err != nil {
		return nil, nil, err
	}
	journal, err := events.OpenJournal(path)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("payments journal %s holds %d events", path, count)
	return journal, func() {
		if err := journal.Close(); err != nil {
			log.Printf("close journal: %v", err)
		}
	}, nil
}

// selfFinalizeURL points the finalizer at this process's own endpoint.
func selfFinalizeURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/api/orders/finalize"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/orders/finalize"
}

// originChecker allows websocket upgrades from the configured origins. With
// none configured the upgrader's same-origin check applies.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}
