package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/netsentry/netsentry/pkg/analysis"
	"github.com/netsentry/netsentry/pkg/anomaly"
	"github.com/netsentry/netsentry/pkg/capture"
	"github.com/netsentry/netsentry/pkg/events"
	"github.com/netsentry/netsentry/pkg/nserrors"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/rs/zerolog"
)

// CaptureController drives the capture session from the API.
type CaptureController interface {
	Start(ifaceName string) error
	Stop() error
	Status() capture.Status
}

// PacketReader serves recent packet queries.
type PacketReader interface {
	FindRecentPackets(ctx context.Context, limit int) ([]packet.Packet, error)
}

// AnomalyReader serves persisted anomaly queries.
type AnomalyReader interface {
	FindAnomalies(ctx context.Context, limit int) ([]anomaly.Anomaly, error)
}

// AnomalyCache serves the bounded in-memory anomaly history.
type AnomalyCache interface {
	Recent() []anomaly.Anomaly
}

// ModelInfoProvider exposes inference service metadata.
type ModelInfoProvider interface {
	Available() bool
	ModelInfo(ctx context.Context) (map[string]interface{}, error)
}

// BusMetrics exposes event bus throughput counters.
type BusMetrics interface {
	GetMetrics() events.Metrics
}

// Server is the HTTP surface: REST routes for capture control and
// queries plus the websocket stream. It also subscribes to the analysis
// stream so the stats route can serve the latest report.
type Server struct {
	controller CaptureController
	packets    PacketReader
	anomalies  AnomalyReader
	cache      AnomalyCache
	model      ModelInfoProvider
	busMetrics BusMetrics
	hub        *Hub
	logger     zerolog.Logger

	mu         sync.RWMutex
	lastReport *analysis.Report
}

// NewServer wires the API surface. Any collaborator may be nil; its
// routes then answer 503.
func NewServer(
	controller CaptureController,
	packets PacketReader,
	anomalies AnomalyReader,
	cache AnomalyCache,
	model ModelInfoProvider,
	busMetrics BusMetrics,
	hub *Hub,
	logger zerolog.Logger,
) *Server {
	return &Server{
		controller: controller,
		packets:    packets,
		anomalies:  anomalies,
		cache:      cache,
		model:      model,
		busMetrics: busMetrics,
		hub:        hub,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// EventTypes subscribes the server to the analysis stream.
func (s *Server) EventTypes() []events.EventType {
	return []events.EventType{events.EventTrafficAnalysis}
}

// Handle caches the latest analysis report for the stats route.
func (s *Server) Handle(_ context.Context, event events.Event) error {
	report, ok := event.Data.(analysis.Report)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.lastReport = &report
	s.mu.Unlock()
	return nil
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware())

	router.GET("/healthz", s.handleHealth)

	apiGroup := router.Group("/api")
	{
		capGroup := apiGroup.Group("/capture")
		{
			capGroup.GET("/status", s.handleCaptureStatus)
			capGroup.POST("/start", s.handleCaptureStart)
			capGroup.POST("/stop", s.handleCaptureStop)
			capGroup.GET("/interfaces", s.handleInterfaces)
		}

		apiGroup.GET("/packets/recent", s.handleRecentPackets)
		apiGroup.GET("/anomalies", s.handleAnomalies)
		apiGroup.GET("/anomalies/recent", s.handleRecentAnomalies)
		apiGroup.GET("/stats", s.handleStats)
		apiGroup.GET("/model/info", s.handleModelInfo)
		apiGroup.GET("/events/metrics", s.handleBusMetrics)
	}

	if s.hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.model != nil {
		resp["mlService"] = s.model.Available()
	}
	if s.controller != nil {
		resp["capture"] = s.controller.Status().Running
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCaptureStatus(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture not configured"})
		return
	}
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) handleCaptureStart(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture not configured"})
		return
	}

	var body struct {
		Interface string `json:"interface"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if err := s.controller.Start(body.Interface); err != nil {
		s.captureError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) handleCaptureStop(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture not configured"})
		return
	}

	if err := s.controller.Stop(); err != nil {
		s.captureError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) captureError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, nserrors.ErrAlreadyRunning), errors.Is(err, nserrors.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, nserrors.ErrInterfaceRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Msg("Capture control failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// handleInterfaces lists the host's network interfaces so operators can
// pick a capture target.
func (s *Server) handleInterfaces(c *gin.Context) {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to enumerate interfaces")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enumerate interfaces"})
		return
	}

	type ifaceInfo struct {
		Name      string   `json:"name"`
		MTU       int      `json:"mtu"`
		Flags     []string `json:"flags"`
		Addresses []string `json:"addresses"`
	}

	out := make([]ifaceInfo, 0, len(interfaces))
	for _, iface := range interfaces {
		info := ifaceInfo{Name: iface.Name, MTU: iface.MTU, Flags: iface.Flags}
		for _, addr := range iface.Addrs {
			info.Addresses = append(info.Addresses, addr.Addr)
		}
		out = append(out, info)
	}

	c.JSON(http.StatusOK, gin.H{"interfaces": out})
}

func (s *Server) handleRecentPackets(c *gin.Context) {
	if s.packets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}

	limit := parseLimit(c.Query("limit"), 100, 1000)
	packets, err := s.packets.FindRecentPackets(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Recent packet query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "packet query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"packets": packets, "count": len(packets)})
}

func (s *Server) handleAnomalies(c *gin.Context) {
	if s.anomalies == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}

	limit := parseLimit(c.Query("limit"), 100, 1000)
	anomalies, err := s.anomalies.FindAnomalies(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Anomaly query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "anomaly query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies, "count": len(anomalies)})
}

func (s *Server) handleRecentAnomalies(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "anomaly cache not configured"})
		return
	}
	recent := s.cache.Recent()
	c.JSON(http.StatusOK, gin.H{"anomalies": recent, "count": len(recent)})
}

func (s *Server) handleStats(c *gin.Context) {
	s.mu.RLock()
	report := s.lastReport
	s.mu.RUnlock()

	if report == nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true, "report": report})
}

func (s *Server) handleModelInfo(c *gin.Context) {
	if s.model == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inference service not configured"})
		return
	}

	info, err := s.model.ModelInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleBusMetrics(c *gin.Context) {
	if s.busMetrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not configured"})
		return
	}
	c.JSON(http.StatusOK, s.busMetrics.GetMetrics())
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
