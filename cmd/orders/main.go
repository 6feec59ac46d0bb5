package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/rwamarkets/settlecore/internal/compliance"
	"github.com/rwamarkets/settlecore/internal/ledger"
	"github.com/rwamarkets/settlecore/internal/metrics"
	"github.com/rwamarkets/settlecore/internal/orders"
	"github.com/rwamarkets/settlecore/internal/registry"
	"github.com/rwamarkets/settlecore/pkg/messaging"
)

func main() {
	port := envOr("PORT", "8002")
	denom := envOr("SETTLEMENT_DENOM", "usd")
	dbURL := os.Getenv("DATABASE_URL")
	natsURL := os.Getenv("NATS_URL")
	redisURL := os.Getenv("REDIS_URL")
	complianceURL := os.Getenv("COMPLIANCE_URL")

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	natsClient, err := messaging.NewClient(natsURL, messaging.ClientOptions{
		Name:          "orders-service",
		ReconnectWait: time.Second,
		MaxReconnects: 5,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	var cache *redis.Client
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		cache = redis.NewClient(opts)
	}

	gate := compliance.NewClient(compliance.ClientConfig{
		BaseURL: complianceURL,
		Redis:   cache,
	})

	recorder := influxRecorder()
	defer recorder.Close()

	registrySvc := registry.NewService(registry.NewPostgresStore(db), natsClient)
	ordersSvc := orders.NewService(
		orders.NewPostgresStore(db),
		ledger.NewPostgres(db),
		registrySvc,
		gate,
		denom,
		natsClient,
		recorder,
	)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.POST("/api/v1/orders", func(c *gin.Context) {
		var req struct {
			Investor  string `json:"investor" binding:"required"`
			Asset     string `json:"asset" binding:"required"`
			Quantity  int64  `json:"quantity"`
			UnitPrice int64  `json:"unit_price"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		order, err := ordersSvc.Create(c.Request.Context(), orders.CreateRequest{
			Investor:  req.Investor,
			Asset:     req.Asset,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
		})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, order)
	})

	r.GET("/api/v1/orders/:id", func(c *gin.Context) {
		order, err := ordersSvc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.GET("/api/v1/orders", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		list, err := ordersSvc.List(c.Request.Context(), orders.ListFilter{
			Investor: c.Query("investor"),
			Asset:    c.Query("asset"),
			Status:   orders.Status(c.Query("status")),
			Limit:    limit,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.POST("/api/v1/orders/:id/approve", func(c *gin.Context) {
		order, err := ordersSvc.Approve(c.Request.Context(), orders.ApproveRequest{
			OrderID:  c.Param("id"),
			Approver: principal(c),
		})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.POST("/api/v1/orders/:id/reject", func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		order, err := ordersSvc.Reject(c.Request.Context(), c.Param("id"), principal(c), req.Reason)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.POST("/api/v1/orders/:id/cancel", func(c *gin.Context) {
		order, err := ordersSvc.Cancel(c.Request.Context(), c.Param("id"), principal(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, order)
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

// principal identifies the caller: the gateway forwards it in X-Principal.
func principal(c *gin.Context) string {
	return c.GetHeader("X-Principal")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, orders.ErrInvalidPrice),
		errors.Is(err, orders.ErrArithmeticOverflow),
		errors.Is(err, orders.ErrRejectReasonTooLong):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrDuplicateOrder),
		errors.Is(err, orders.ErrAlreadyProcessed),
		errors.Is(err, orders.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInsufficientFunds),
		errors.Is(err, orders.ErrComplianceRejected):
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
