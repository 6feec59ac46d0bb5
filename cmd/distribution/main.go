package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/rwamarkets/settlecore/internal/distribution"
	"github.com/rwamarkets/settlecore/internal/ledger"
	"github.com/rwamarkets/settlecore/internal/metrics"
	"github.com/rwamarkets/settlecore/pkg/messaging"
)

func main() {
	port := envOr("PORT", "8003")
	denom := envOr("SETTLEMENT_DENOM", "usd")
	dbURL := os.Getenv("DATABASE_URL")
	natsURL := os.Getenv("NATS_URL")
	etcdEndpoints := os.Getenv("ETCD_ENDPOINTS")

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	natsClient, err := messaging.NewClient(natsURL, messaging.ClientOptions{
		Name:          "distribution-service",
		ReconnectWait: time.Second,
		MaxReconnects: 5,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	recorder := influxRecorder()
	defer recorder.Close()

	// An etcd session serializes cranks across replicas. Without etcd the
	// in-process lock still serializes cranks within this replica, and the
	// ledger drain itself is atomic either way.
	var session *concurrency.Session
	if etcdEndpoints != "" {
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   strings.Split(etcdEndpoints, ","),
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcdClient.Close()

		session, err = concurrency.NewSession(etcdClient, concurrency.WithTTL(10))
		if err != nil {
			log.Fatalf("Failed to create etcd session: %v", err)
		}
		defer session.Close()
	}

	svc := distribution.NewService(
		distribution.NewPostgresStore(db),
		ledger.NewPostgres(db),
		denom,
		natsClient,
		recorder,
	)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.POST("/api/v1/distribution", func(c *gin.Context) {
		var req struct {
			Asset     string `json:"asset" binding:"required"`
			Authority string `json:"authority" binding:"required"`
			Issuer    string `json:"issuer" binding:"required"`
			Threshold int64  `json:"threshold"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cfg, err := svc.Initialize(c.Request.Context(), req.Asset, req.Authority, req.Issuer, req.Threshold)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, cfg)
	})

	r.GET("/api/v1/distribution/:asset", func(c *gin.Context) {
		cfg, err := svc.Get(c.Request.Context(), c.Param("asset"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cfg)
	})

	r.GET("/api/v1/distribution/:asset/vault", func(c *gin.Context) {
		balance, err := svc.VaultBalance(c.Request.Context(), c.Param("asset"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"asset": c.Param("asset"), "balance": balance})
	})

	r.POST("/api/v1/distribution/:asset/crank", func(c *gin.Context) {
		asset := c.Param("asset")
		caller := c.GetHeader("X-Principal")
		ctx := c.Request.Context()

		crank := func() (*distribution.Config, error) {
			return svc.DistributeToIssuer(ctx, asset, caller)
		}
		if session != nil {
			mu := concurrency.NewMutex(session, "/settlecore/crank/"+asset)
			if err := mu.Lock(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not acquire crank lock"})
				return
			}
			defer mu.Unlock(context.Background())
		}

		cfg, err := crank()
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cfg)
	})

	r.PUT("/api/v1/distribution/:asset/threshold", func(c *gin.Context) {
		var req struct {
			Authority string `json:"authority" binding:"required"`
			Threshold int64  `json:"threshold"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := svc.UpdateThreshold(c.Request.Context(), c.Param("asset"), req.Authority, req.Threshold); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	})

	r.PUT("/api/v1/distribution/:asset/issuer", func(c *gin.Context) {
		var req struct {
			Authority string `json:"authority" binding:"required"`
			Issuer    string `json:"issuer" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := svc.UpdateIssuer(c.Request.Context(), c.Param("asset"), req.Authority, req.Issuer); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	natsClient.Drain()
	db.Close()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, distribution.ErrInvalidThreshold),
		errors.Is(err, distribution.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, distribution.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, distribution.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, distribution.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, distribution.ErrThresholdNotMet):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func influxRecorder() metrics.Recorder {
	url := os.Getenv("INFLUX_URL")
	if url == "" {
		return metrics.Nop{}
	}
	return metrics.NewInflux(metrics.InfluxConfig{
		URL:    url,
		Token:  os.Getenv("INFLUX_TOKEN"),
		Org:    envOr("INFLUX_ORG", "settlecore"),
		Bucket: envOr("INFLUX_BUCKET", "settlement"),
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
