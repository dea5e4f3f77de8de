package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/agent"
	"agent-jury/backend/internal/attest"
	"agent-jury/backend/internal/engine"
	"agent-jury/backend/internal/metrics"
	"agent-jury/backend/internal/store"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	// MaxCaseTextLength bounds the accepted case text in characters.
	MaxCaseTextLength = 4000
)

// Config defines server dependencies.
type Config struct {
	DB     *store.Database
	Engine *engine.Engine
	// Signer is optional; a nil signer disables attestation.
	Signer          *attest.Signer
	Metrics         metrics.Recorder
	MetricsHandler  http.Handler
	AllowedOrigins  []string
	StoreCaseText   bool
	RetentionDays   int
	AutoRedactPII   bool
	TolerateAbsence bool
	PurgeInterval   time.Duration
}

// Server wires HTTP handlers with the evaluation engine and persistence.
type Server struct {
	db              *store.Database
	engine          *engine.Engine
	signer          *attest.Signer
	metrics         metrics.Recorder
	metricsHandler  http.Handler
	allowedOrigins  []string
	evalNotifier    *EvaluationNotifier
	storeCaseText   bool
	retentionDays   int
	autoRedactPII   bool
	tolerateAbsence bool
	purgeInterval   time.Duration
	now             func() time.Time
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DB == nil {
		return nil, errors.New("database required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("evaluation engine required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Hour
	}
	if cfg.Signer == nil {
		logrus.Info("attestation signing disabled - no private key configured")
	} else {
		logrus.WithField("attestor", cfg.Signer.Attestor()).Info("attestation signing enabled")
	}

	return &Server{
		db:              cfg.DB,
		engine:          cfg.Engine,
		signer:          cfg.Signer,
		metrics:         cfg.Metrics,
		metricsHandler:  cfg.MetricsHandler,
		allowedOrigins:  cfg.AllowedOrigins,
		evalNotifier:    NewEvaluationNotifier(),
		storeCaseText:   cfg.StoreCaseText,
		retentionDays:   cfg.RetentionDays,
		autoRedactPII:   cfg.AutoRedactPII,
		tolerateAbsence: cfg.TolerateAbsence,
		purgeInterval:   cfg.PurgeInterval,
		now:             time.Now,
	}, nil
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger())

	corsCfg := cors.DefaultConfig()
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}
	corsCfg.ExposeHeaders = []string{requestIDHeader, "Content-Disposition"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/metrics", gin.WrapH(s.metricsHandler))
	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.POST("/evaluate", s.handleEvaluate)
		api.GET("/evaluate/stream", s.handleEvaluateStream)
		api.GET("/evaluations", s.handleListEvaluations)
		api.GET("/evaluations/:id", s.handleGetEvaluation)
		api.DELETE("/evaluations/:id", s.handleDeleteEvaluation)
		api.POST("/evaluations/:id/redact", s.handleRedactEvaluation)
		api.POST("/evaluations/:id/export", s.handleExportEvaluation)
	}

	return r, nil
}

// RunRetentionPurge erases expired evaluations until ctx is done. It returns
// immediately when no retention period is configured.
func (s *Server) RunRetentionPurge(ctx context.Context) {
	if s.retentionDays <= 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"retention_days": s.retentionDays,
		"interval":       s.purgeInterval,
	}).Info("data retention purge enabled")

	ticker := time.NewTicker(s.purgeInterval)
	defer ticker.Stop()
	for {
		s.purgeExpired()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) purgeExpired() {
	n, err := s.db.PurgeExpired(s.now())
	if err != nil {
		logrus.WithError(err).Error("data retention purge failed")
		return
	}
	if n > 0 {
		logrus.WithField("purged", n).Info("data retention purge completed")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "agent-jury-backend"})
}

func (s *Server) handleConfig(c *gin.Context) {
	cfg := s.engine.Config()
	roles := make([]string, 0, len(cfg.Roles))
	for _, role := range cfg.Roles {
		roles = append(roles, role.Name)
	}
	var retention *int
	if s.retentionDays > 0 {
		days := s.retentionDays
		retention = &days
	}

	c.JSON(http.StatusOK, gin.H{
		"prompt_version":      agent.PromptVersion,
		"roles":               roles,
		"provider_chain":      cfg.ProviderChain,
		"temperature":         cfg.Temperature,
		"dual_pass":           cfg.DualPass,
		"inter_call_delay_ms": cfg.InterCallDelay.Milliseconds(),
		"scoring":             cfg.Scoring,
		"attestation_enabled": s.signer != nil,
		"data": gin.H{
			"store_case_text": s.storeCaseText,
			"retention_days":  retention,
			"auto_redact_pii": s.autoRedactPII,
		},
	})
}

func (s *Server) handleEvaluateStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.evalNotifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("evaluation websocket connected")
	defer s.evalNotifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("evaluation websocket closed")
			} else {
				logrus.WithError(err).Warn("evaluation websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	s.renderMessage(c, status, err.Error())
}

func (s *Server) renderMessage(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{Error: msg, RequestID: c.GetString(requestIDKey)})
}

// requestID propagates or assigns the X-Request-ID header.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"request_id":  c.GetString(requestIDKey),
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}).Debug("request handled")
	}
}
