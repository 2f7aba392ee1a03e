package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claraverse/pairing-api/internal/application/device"
	"github.com/claraverse/pairing-api/internal/application/pairing"
	"github.com/claraverse/pairing-api/internal/config"
	"github.com/claraverse/pairing-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/claraverse/pairing-api/internal/infrastructure/jwt"
	"github.com/claraverse/pairing-api/internal/infrastructure/memstore"
	"github.com/claraverse/pairing-api/internal/infrastructure/sns"
	transporthttp "github.com/claraverse/pairing-api/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// JWT provider signs the device credentials, so it is required.
	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("JWT provider: %v", err)
	}

	// Pairing-session backend: in-memory for a single node, DynamoDB for
	// multi-node deployments.
	var (
		pairingStore pairing.Store
		deviceRepo   device.Repo
		auditLog     pairing.AuditLog
	)
	switch cfg.PairingStore {
	case "dynamo":
		dynamoClient := dynamo.NewClient(cfg)
		dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)
		pairingStore = dynamo.NewPairingRepo(dynamoClient, cfg.DynamoTables.Pairings, cfg.RetentionWindow)
		deviceRepo = dynamo.NewDeviceRepo(dynamoClient, cfg.DynamoTables.Devices)
		auditLog = dynamo.NewAuditRepo(dynamoClient, cfg.DynamoTables.AuditEvents)
	case "memory":
		pairingStore = memstore.NewPairingStore()
		deviceRepo = memstore.NewDeviceRepo()
	default:
		log.Fatalf("unknown PAIRING_STORE %q (want memory or dynamo)", cfg.PairingStore)
	}

	// SNS event publisher (optional — disabled without a topic).
	var events sns.EventPublisher
	if cfg.SNSTopicARN != "" {
		if p, err := sns.NewPublisher(cfg); err == nil {
			events = p
		} else {
			log.Printf("WARN: SNS publisher not available: %v", err)
		}
	}

	reaper := pairing.NewReaper(pairingStore, cfg.ReapInterval, cfg.RetentionWindow)
	reaper.Start(context.Background())
	defer reaper.Stop()

	deps := &transporthttp.Deps{
		PairingStore: pairingStore,
		DeviceRepo:   deviceRepo,
		AuditLog:     auditLog,
		Events:       events,
		JWTProvider:  jwtProvider,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, store=%s)", cfg.AppPort, cfg.AppEnv, cfg.PairingStore)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
