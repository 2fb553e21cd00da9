package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/chatforwarder/internal/config"
	"github.com/energizer-project/chatforwarder/internal/db"
	"github.com/energizer-project/chatforwarder/internal/metrics"
	"github.com/energizer-project/chatforwarder/internal/network"
	"github.com/energizer-project/chatforwarder/internal/util"
)

// TranscriptReader reads back the session transcript.
type TranscriptReader interface {
	Recent(ctx context.Context, limit int) ([]db.Entry, error)
	Count(ctx context.Context, sessionID string) (int, error)
}

// Options holds the dependencies of the API server.
type Options struct {
	Config     config.APIConfig
	Network    config.NetworkConfig
	Sender     network.CommandSender
	Metrics    *metrics.Metrics
	History    *History
	Transcript TranscriptReader
	SessionID  string
	Debug      bool
}

// Server is the HTTP monitor API.
type Server struct {
	cfg        config.APIConfig
	network    config.NetworkConfig
	sender     network.CommandSender
	metrics    *metrics.Metrics
	history    *History
	transcript TranscriptReader
	session    string

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and its router.
func NewServer(opts Options) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.History == nil {
		opts.History = NewHistory(opts.Config.HistorySize)
	}

	s := &Server{
		cfg:        opts.Config,
		network:    opts.Network,
		sender:     opts.Sender,
		metrics:    opts.Metrics,
		history:    opts.History,
		transcript: opts.Transcript,
		session:    opts.SessionID,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if s.cfg.UseTLS {
		if err := util.EnsureCertificate(s.cfg.CertFile, s.cfg.KeyFile, s.certHosts()); err != nil {
			ln.Close()
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
	}

	log.Info().Str("addr", addr).Bool("tls", s.cfg.UseTLS).Msg("monitor API listening")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if s.cfg.UseTLS {
		err = s.httpServer.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// certHosts lists the names a generated certificate is valid for.
func (s *Server) certHosts() []string {
	hosts := []string{"localhost", "127.0.0.1"}
	bind := s.cfg.BindAddress
	switch ip := net.ParseIP(bind); {
	case bind == "", bind == "localhost":
	case ip != nil && (ip.IsLoopback() || ip.IsUnspecified()):
	default:
		hosts = append(hosts, bind)
	}
	return hosts
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// No origins configured means no CORS: browsers keep other sites out.
	if len(s.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
			AllowCredentials: false, // Must be false when AllowOrigins is "*"
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/stats", s.handleStats)
		monitor.GET("/system", s.handleSystem)
		monitor.GET("/messages", s.handleMessages)
		monitor.GET("/transcript", s.handleTranscript)
		monitor.POST("/send", s.handleSend)
	}

	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
