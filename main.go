package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Rocket-Rescue-Node/credential-ledger/api"
	"github.com/Rocket-Rescue-Node/credential-ledger/database"
	"github.com/Rocket-Rescue-Node/credential-ledger/events"
	"github.com/Rocket-Rescue-Node/credential-ledger/ledger"
	"github.com/Rocket-Rescue-Node/credential-ledger/services"
	"github.com/Rocket-Rescue-Node/rescue-proxy/metrics"
	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.uber.org/zap"
)

func waitForTermination() {
	// Trap termination signals
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Block until a signal is received.
	<-c

	// Allow subsequent termination signals to quickly shut down by removing the trap.
	signal.Reset()
	close(c)
}

var logger *zap.Logger

// Logger initialization.
func initLogger(debug bool) error {
	var cfg zap.Config
	var err error

	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err = cfg.Build()
	return err
}

func main() {
	var cfg config
	var err error

	// Parse command line arguments.
	if cfg, err = parseArguments(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command-line arguments: %v\n", err)
		os.Exit(1)
	}

	// Initialize the logger.
	if err := initLogger(cfg.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	// Connect to the database and initialize the ledger schema, if necessary.
	var db *sql.DB
	db, err = database.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("Unable to open the database connection", zap.Error(err))
	}
	defer db.Close()

	l, err := ledger.NewSQLiteLedger(db)
	if err != nil {
		logger.Fatal("Unable to initialize the ledger", zap.Error(err))
	}
	defer l.Close()

	if _, err := metrics.Init("credential_ledger"); err != nil {
		logger.Fatal("Unable to initialize metrics", zap.Error(err))
	}
	defer metrics.Deinit()

	// Committed ledger events go to the log.
	bus := events.NewSimpleBus()
	bus.SubscribeAll(events.LogHandler(logger))

	// Clock
	clock := clockwork.NewRealClock()

	// Services contain the business logic and are used by the API handlers.
	svcCfg := &services.ServiceConfig{
		Ledger:       l,
		Events:       bus,
		RevokePolicy: cfg.RevokePolicy,
		VerifyPolicy: cfg.VerifyPolicy,
		Logger:       logger,
		Clock:        clock,
	}
	svc := services.NewService(svcCfg)
	if err := svc.Init(); err != nil {
		logger.Fatal("Unable to initialize the service layer", zap.Error(err))
	}

	for _, account := range cfg.GenesisIssuers {
		if err := svc.SeedIssuer(context.Background(), account); err != nil {
			logger.Fatal("Unable to seed genesis issuer", zap.String("account", account.Hex()), zap.Error(err))
		}
	}
	logger.Info("Ledger ready",
		zap.Int("genesis_issuers", len(cfg.GenesisIssuers)),
		zap.Stringer("revoke_policy", cfg.RevokePolicy),
		zap.Stringer("verify_policy", cfg.VerifyPolicy))

	// Create the API router.
	router := api.NewAPIRouter(&api.RouterConfig{
		Path:           "/ledger/v1",
		Service:        svc,
		Clock:          clock,
		RequestMaxAge:  cfg.RequestMaxAge,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	// Listen on the provided addresses.
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to listen on provided address %s\n%v\n", cfg.ListenAddr, err)
		os.Exit(1)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to listen on provided address %s\n%v\n", cfg.GRPCAddr, err)
		os.Exit(1)
	}

	// Spin up the HTTP and gRPC servers on different goroutines, since they block.
	server := http.Server{Handler: router}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var serverWaitGroup sync.WaitGroup
	serverWaitGroup.Add(2)
	go func() {
		logger.Info("Starting HTTP server", zap.String("url", cfg.ListenAddr))
		if err := server.Serve(listener); err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
		serverWaitGroup.Done()
	}()
	go func() {
		logger.Info("Starting gRPC health server", zap.String("url", cfg.GRPCAddr))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
		serverWaitGroup.Done()
	}()

	waitForTermination()

	// Shut down gracefully
	logger.Info("Received termination signal, shutting down...")
	healthServer.Shutdown()
	_ = server.Shutdown(context.Background())
	grpcServer.GracefulStop()

	// Wait for the servers to exit
	serverWaitGroup.Wait()

	logger.Info("Shutdown complete")

	_ = logger.Sync()
}
