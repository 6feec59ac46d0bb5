package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/rwamarkets/settlecore/internal/registry"
	"github.com/rwamarkets/settlecore/pkg/messaging"
)

func main() {
	port := envOr("PORT", "8004")
	dbURL := os.Getenv("DATABASE_URL")
	natsURL := os.Getenv("NATS_URL")

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	natsClient, err := messaging.NewClient(natsURL, messaging.ClientOptions{
		Name:          "registry-service",
		ReconnectWait: time.Second,
		MaxReconnects: 5,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	svc := registry.NewService(registry.NewPostgresStore(db), natsClient)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.POST("/api/v1/registry/init", func(c *gin.Context) {
		var req struct {
			Root string `json:"root" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := svc.Initialize(c.Request.Context(), req.Root); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"root": req.Root})
	})

	r.GET("/api/v1/registry/principals", func(c *gin.Context) {
		principals, err := svc.Principals(c.Request.Context())
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"principals": principals})
	})

	r.GET("/api/v1/registry/principals/:id", func(c *gin.Context) {
		ok, err := svc.IsAuthorized(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"principal": c.Param("id"), "authorized": ok})
	})

	r.POST("/api/v1/registry/principals", func(c *gin.Context) {
		var req struct {
			Principal string `json:"principal" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := svc.AddPrincipal(c.Request.Context(), c.GetHeader("X-Principal"), req.Principal); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"principal": req.Principal})
	})

	r.DELETE("/api/v1/registry/principals/:id", func(c *gin.Context) {
		if err := svc.RemovePrincipal(c.Request.Context(), c.GetHeader("X-Principal"), c.Param("id")); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
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
	case errors.Is(err, registry.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, registry.ErrCannotRemoveRoot):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrPrincipalNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
