package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"solax-monitor/internal/collector"
	"solax-monitor/internal/manager"
	"solax-monitor/internal/solax"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// isoMillis matches JavaScript's Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

// RawFetcher returns the unmodified SolaX envelope for one inverter.
type RawFetcher interface {
	Realtime(ctx context.Context, serial string) (*solax.Response, error)
}

// ConnectionStatus reports whether an outbound connection is up.
type ConnectionStatus interface {
	IsConnected() bool
}

type Server struct {
	router      *gin.Engine
	server      *http.Server
	manager     *manager.Manager
	collector   *collector.Collector
	raw         RawFetcher
	gatherer    prometheus.Gatherer
	mqtt        ConnectionStatus
	port        int
	distPath    string
	publicPath  string
	corsOrigins []string
}

type ServerConfig struct {
	Port      int
	Manager   *manager.Manager
	Collector *collector.Collector
	// Raw and Gatherer are optional; their routes answer 404 when unset.
	Raw      RawFetcher
	Gatherer prometheus.Gatherer
	// MQTT is nil when publishing is disabled.
	MQTT        ConnectionStatus
	DistPath    string
	PublicPath  string
	CORSOrigins []string
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(recovery())

	distPath := cfg.DistPath
	if distPath == "" {
		distPath = "./dist"
	}
	publicPath := cfg.PublicPath
	if publicPath == "" {
		publicPath = "./public"
	}

	s := &Server{
		router:      router,
		manager:     cfg.Manager,
		collector:   cfg.Collector,
		raw:         cfg.Raw,
		gatherer:    cfg.Gatherer,
		mqtt:        cfg.MQTT,
		port:        cfg.Port,
		distPath:    distPath,
		publicPath:  publicPath,
		corsOrigins: cfg.CORSOrigins,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api/solax")
	{
		api.GET("/realtime", s.realtimeHandler)
		api.GET("/faults", s.faultsHandler)
		api.GET("/inverters/:id", s.inverterHandler)
		api.GET("/inverters/:id/analytics", s.analyticsHandler)
		api.GET("/inverters/:id/history", s.historyHandler)
		api.GET("/raw/:sn", s.rawHandler)
	}

	// Built dashboard, then public assets, then the SPA entry point
	s.router.NoRoute(s.staticHandler)
}

// Handler returns the router wrapped with CORS when origins are configured.
func (s *Server) Handler() http.Handler {
	if len(s.corsOrigins) == 0 {
		return s.router
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	}).Handler(s.router)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("API server starting on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// recovery turns handler panics into the {success:false} error body.
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf("Request %s %s panicked: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"exception": fmt.Sprint(recovered),
		})
	})
}

func (s *Server) realtimeHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	inverters := s.manager.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"timestamp": time.Now().UTC().Format(isoMillis),
		"total":     gin.H{},
		"inverters": inverters,
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	collecting := false
	configured := 0
	var lastCycle time.Time
	if s.collector != nil {
		collecting = s.collector.IsCollecting()
		configured = len(s.collector.Targets())
		lastCycle = s.collector.LastCycle()
	}

	body := gin.H{
		"status":     "healthy",
		"collecting": collecting,
		"configured": configured,
		"reporting":  len(s.manager.AllLatest()),
		"faults":     len(s.manager.Faults()),
		"last_cycle": lastCycle,
		"timestamp":  time.Now(),
	}
	if s.mqtt != nil {
		body["mqtt_connected"] = s.mqtt.IsConnected()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) faultsHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"faults":  s.manager.Faults(),
	})
}

func (s *Server) inverterHandler(c *gin.Context) {
	id := c.Param("id")
	reading, hasReading := s.manager.Latest(id)
	rec, hasFault := s.manager.Fault(id)
	if !hasReading && !hasFault {
		notFound(c, fmt.Sprintf("No data for inverter %s", id))
		return
	}

	body := gin.H{"success": true}
	if hasReading {
		body["reading"] = reading
		body["view"] = manager.NewView(id, reading)
	}
	if hasFault {
		body["fault"] = rec
	}
	if a, ok := s.manager.Analytics(id); ok {
		body["analytics"] = a
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, body)
}

func (s *Server) analyticsHandler(c *gin.Context) {
	id := c.Param("id")
	a, ok := s.manager.Analytics(id)
	if !ok {
		notFound(c, fmt.Sprintf("Not enough history for inverter %s", id))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"analytics": a,
	})
}

func (s *Server) historyHandler(c *gin.Context) {
	id := c.Param("id")
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"window_seconds": int(s.manager.HistoryWindow().Seconds()),
		"entries":        s.manager.History(id),
	})
}

func (s *Server) rawHandler(c *gin.Context) {
	sn := c.Param("sn")
	if s.raw == nil || s.collector == nil {
		notFound(c, "Raw passthrough is not available")
		return
	}
	if _, ok := s.collector.Target(sn); !ok {
		notFound(c, fmt.Sprintf("Inverter %s is not configured", sn))
		return
	}

	resp, err := s.raw.Realtime(c.Request.Context(), sn)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success":   false,
			"exception": err.Error(),
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) staticHandler(c *gin.Context) {
	method := c.Request.Method
	if method != http.MethodGet && method != http.MethodHead {
		notFound(c, "Not found")
		return
	}

	urlPath := c.Request.URL.Path
	if strings.HasPrefix(urlPath, "/api/") {
		notFound(c, "Not found")
		return
	}

	clean := filepath.FromSlash(path.Clean("/" + urlPath))
	for _, root := range []string{s.distPath, s.publicPath} {
		candidate := filepath.Join(root, clean)
		if isFile(candidate) {
			c.File(candidate)
			return
		}
	}

	index := filepath.Join(s.distPath, "index.html")
	if isFile(index) {
		c.File(index)
		return
	}
	notFound(c, "Not found")
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{
		"success":   false,
		"exception": message,
	})
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
