package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/Zachkp/about-me/internal/live"
	"github.com/Zachkp/about-me/internal/views"
)

const healthTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	tracker  *views.Tracker
	backend  pinger
	hub      *live.Hub
	identity *identityResolver
	registry *prometheus.Registry
}

func newRouter(s *server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), httpMetrics(s.registry))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	r.GET("/views", s.handleRecordVisit)
	r.POST("/views", s.handleForceIncrement)
	if s.hub != nil {
		r.GET("/views/live", s.handleLive)
	}

	return r
}

func (s *server) handleRecordVisit(c *gin.Context) {
	ctx := c.Request.Context()

	if s.identity.DoNotTrack(c.Request) {
		counts, err := s.tracker.Snapshot(ctx)
		if err != nil {
			respondError(c, "Failed to process view count")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"views":          counts.TotalViews,
			"uniqueVisitors": counts.UniqueVisitors,
			"isNewVisitor":   false,
			"success":        true,
		})
		return
	}

	identity := s.identity.Identity(c.Request)
	log.WithField("visitor", identity).Debug("view request")

	visit, err := s.tracker.RecordVisit(ctx, identity)
	if err != nil {
		respondError(c, "Failed to process view count")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"views":          visit.TotalViews,
		"uniqueVisitors": visit.UniqueVisitors,
		"isNewVisitor":   visit.IsNewVisitor,
		"success":        true,
	})
}

func (s *server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		log.WithError(err).Error("health check failed for view store")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	if _, err := s.tracker.Snapshot(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) handleLive(c *gin.Context) {
	counts, err := s.tracker.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to read view count")
		return
	}
	if err := s.hub.Serve(c.Writer, c.Request, counts); err != nil {
		log.WithError(err).Warn("live connection rejected")
	}
}

func respondError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   msg,
		"success": false,
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	}
}

func httpMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	requests := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})
	duration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		requests.WithLabelValues(c.Request.Method, path, status).Inc()
		duration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
