package main

import (
	"database/sql"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/rwamarkets/settlecore/internal/auth"
	"github.com/rwamarkets/settlecore/internal/gateway"
	"github.com/rwamarkets/settlecore/pkg/messaging"
)

func main() {
	port := envOr("PORT", "8000")
	dbURL := os.Getenv("DATABASE_URL")
	natsURL := os.Getenv("NATS_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(natsURL, messaging.ClientOptions{
		Name:          "gateway",
		ReconnectWait: time.Second,
		MaxReconnects: 5,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Drain()

	authSvc := auth.NewService(db, jwtSecret, envDuration("TOKEN_TTL", auth.DefaultTokenTTL))

	gw := gateway.NewGateway(gateway.Config{
		Port:            port,
		OrdersURL:       envOr("ORDERS_URL", "http://localhost:8002"),
		DistributionURL: envOr("DISTRIBUTION_URL", "http://localhost:8003"),
		RegistryURL:     envOr("REGISTRY_URL", "http://localhost:8004"),
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: envDuration("RATE_LIMIT_WINDOW", time.Minute),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
	}, authSvc, natsClient)

	if err := gw.Start(":" + port); err != nil {
		log.Fatalf("gateway stopped: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
