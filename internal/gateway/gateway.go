package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/rwamarkets/settlecore/internal/auth"
	"github.com/rwamarkets/settlecore/pkg/circuit"
	"github.com/rwamarkets/settlecore/pkg/messaging"
)

// Config holds gateway configuration.
type Config struct {
	Port            string
	OrdersURL       string
	DistributionURL string
	RegistryURL     string
	RateLimitWindow time.Duration
	RateLimitMax    int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Gateway is the public edge in front of the settlement services. It
// authenticates operators, rate-limits by client IP, shields each backend
// with a circuit breaker, and streams settlement events over WebSocket.
type Gateway struct {
	router      *gin.Engine
	cfg         Config
	auth        *auth.Service
	msgClient   *messaging.Client
	breakers    *circuit.BreakerGroup
	httpClient  *http.Client
	rateLimiter *RateLimiter

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*WSClient
}

// WSClient is one event stream subscriber.
type WSClient struct {
	ID        uuid.UUID
	Principal string
	Conn      *websocket.Conn
	Send      chan []byte
	Done      chan struct{}

	mu       sync.Mutex
	subjects map[string]bool
}

// NewGateway wires the edge. msgClient may be nil; the event stream then
// delivers nothing but connections still work.
func NewGateway(cfg Config, authSvc *auth.Service, msgClient *messaging.Client) *Gateway {
	breakers := circuit.NewBreakerGroup(circuit.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	})

	g := &Gateway{
		router:      gin.Default(),
		cfg:         cfg,
		auth:        authSvc,
		msgClient:   msgClient,
		breakers:    breakers,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		wsClients:   make(map[uuid.UUID]*WSClient),
	}

	g.setupRoutes()
	g.subscribeEvents()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/auth/token", g.exchangeToken)

		orders := v1.Group("/orders", g.authMiddleware())
		{
			orders.POST("", g.proxyTo("orders", g.cfg.OrdersURL))
			orders.GET("", g.proxyTo("orders", g.cfg.OrdersURL))
			orders.GET("/:id", g.proxyTo("orders", g.cfg.OrdersURL))
			orders.POST("/:id/approve", g.proxyTo("orders", g.cfg.OrdersURL))
			orders.POST("/:id/reject", g.proxyTo("orders", g.cfg.OrdersURL))
			orders.POST("/:id/cancel", g.proxyTo("orders", g.cfg.OrdersURL))
		}

		dist := v1.Group("/distribution", g.authMiddleware())
		{
			dist.POST("", g.proxyTo("distribution", g.cfg.DistributionURL))
			dist.GET("/:asset", g.proxyTo("distribution", g.cfg.DistributionURL))
			dist.GET("/:asset/vault", g.proxyTo("distribution", g.cfg.DistributionURL))
			dist.POST("/:asset/crank", g.proxyTo("distribution", g.cfg.DistributionURL))
			dist.PUT("/:asset/threshold", g.proxyTo("distribution", g.cfg.DistributionURL))
			dist.PUT("/:asset/issuer", g.proxyTo("distribution", g.cfg.DistributionURL))
		}

		reg := v1.Group("/registry", g.authMiddleware())
		{
			reg.GET("/principals", g.proxyTo("registry", g.cfg.RegistryURL))
			reg.POST("/principals", g.proxyTo("registry", g.cfg.RegistryURL))
			reg.DELETE("/principals/:id", g.proxyTo("registry", g.cfg.RegistryURL))
		}

		v1.GET("/ws", g.authMiddleware(), g.handleWebSocket)
	}
}

// Start runs the gateway until the listener fails.
func (g *Gateway) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      g.router,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler exposes the router for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("principal", claims.Principal)
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "breakers": g.breakers.States()})
}

type tokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// exchangeToken trades a long-lived API key for a short-lived session token.
func (g *Gateway) exchangeToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	key, err := g.auth.VerifyAPIKey(c.Request.Context(), req.APIKey)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	token, err := g.auth.IssueToken(key.Principal, key.Perms)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "principal": key.Principal})
}

// proxyTo forwards the request to a backend behind a named circuit breaker.
// The /api/v1 prefix is preserved; backends serve the same paths.
func (g *Gateway) proxyTo(name, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		var (
			status  int
			payload []byte
			header  http.Header
		)
		err = g.breakers.Execute(c.Request.Context(), name, func() error {
			url := baseURL + c.Request.URL.Path
			if q := c.Request.URL.RawQuery; q != "" {
				url += "?" + q
			}
			req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
			req.Header.Set("X-Correlation-ID", c.GetString("correlation_id"))
			req.Header.Set("X-Principal", c.GetString("principal"))

			resp, err := g.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			payload, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			status = resp.StatusCode
			header = resp.Header
			return nil
		})
		if err != nil {
			if err == circuit.ErrCircuitOpen {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "backend unreachable"})
			return
		}

		contentType := header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(status, contentType, payload)
	}
}

// WebSocket event stream

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &WSClient{
		ID:        uuid.New(),
		Principal: c.GetString("principal"),
		Conn:      conn,
		Send:      make(chan []byte, 64),
		Done:      make(chan struct{}),
		subjects:  make(map[string]bool),
	}

	g.wsMu.Lock()
	g.wsClients[client.ID] = client
	g.wsMu.Unlock()

	go g.wsReadPump(client)
	go g.wsWritePump(client)
}

func (g *Gateway) wsReadPump(client *WSClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.ID)
		g.wsMu.Unlock()
		close(client.Done)
		client.Conn.Close()
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleWSMessage(client, message)
	}
}

func (g *Gateway) wsWritePump(client *WSClient) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

// WSMessage is a client control frame.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type subscribePayload struct {
	Subjects []string `json:"subjects"`
}

func (g *Gateway) handleWSMessage(client *WSClient, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	var p subscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	switch msg.Type {
	case "subscribe":
		for _, s := range p.Subjects {
			client.subjects[s] = true
		}
	case "unsubscribe":
		for _, s := range p.Subjects {
			delete(client.subjects, s)
		}
	}
}

// subscribeEvents bridges the settlement event subjects onto connected
// WebSocket clients.
func (g *Gateway) subscribeEvents() {
	if g.msgClient == nil || !g.msgClient.IsConnected() {
		return
	}

	subjects := []string{
		messaging.SubjectOrderCreated,
		messaging.SubjectOrderApproved,
		messaging.SubjectOrderRejected,
		messaging.SubjectOrderCancelled,
		messaging.SubjectSettlementRecorded,
		messaging.SubjectDistributionPayout,
		messaging.SubjectPrincipalAdded,
		messaging.SubjectPrincipalRemoved,
	}
	for _, subject := range subjects {
		subject := subject
		g.msgClient.Subscribe(subject, func(msg *nats.Msg) {
			g.broadcast(subject, msg.Data)
		})
	}
}

func (g *Gateway) broadcast(subject string, data []byte) {
	frame, err := json.Marshal(gin.H{"subject": subject, "event": json.RawMessage(data)})
	if err != nil {
		return
	}

	g.wsMu.RLock()
	defer g.wsMu.RUnlock()
	for _, client := range g.wsClients {
		client.mu.Lock()
		wants := len(client.subjects) == 0 || client.subjects[subject]
		client.mu.Unlock()
		if !wants {
			continue
		}
		select {
		case client.Send <- frame:
		default:
			// Slow consumer; drop the frame rather than block the bridge.
		}
	}
}
