// Package httpapi is the HTTP surface described in spec §6: /health,
// /register-client, /deregister-client, /embed, /status, plus /metrics
// added by SPEC_FULL.md §6 for Prometheus scraping. Route registration and
// middleware setup are grounded on the teacher's cmd/trace/main.go (gin.New
// + gin.Recovery + otelgin.Middleware + a route group), generalized from
// one /v1/trace group to this service's flat top-level routes.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vectorforge/embedcore/services/embed/config"
	"github.com/vectorforge/embedcore/services/embed/embedder"
	"github.com/vectorforge/embedcore/services/embed/metrics"
	"github.com/vectorforge/embedcore/services/embed/registry"
	"github.com/vectorforge/embedcore/services/embed/shutdown"
)

// PoolView is the slice of pool.Pool the HTTP layer needs for /status.
type PoolView interface {
	Ready() bool
	QueueDepth() int
}

// Server wires the facade, registry, and shutdown controller into a gin
// engine.
type Server struct {
	embedder    *embedder.Embedder
	registry    *registry.Registry
	pool        PoolView
	ctrl        *shutdown.Controller
	modelID     string
	dim         int
	workers     int
	start       time.Time
	logger      *slog.Logger
	metrics     *metrics.Collectors
	projectHash string
}

// New constructs a Server. Call Handler to get the gin.Engine to listen
// with. metrics may be nil (the /metrics route still mounts but counters
// are not updated). projectPath is the repository this daemon instance was
// started for (config.Config.ProjectPath); an incoming x-project-path
// header is compared against its hash so a misdirected client (talking to
// the wrong daemon's cache) is logged rather than silently served from the
// wrong repository's cache.
func New(e *embedder.Embedder, reg *registry.Registry, pool PoolView, ctrl *shutdown.Controller, modelID string, dim, workers int, logger *slog.Logger, mc *metrics.Collectors, projectPath string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		embedder:    e,
		registry:    reg,
		pool:        pool,
		ctrl:        ctrl,
		modelID:     modelID,
		dim:         dim,
		workers:     workers,
		start:       time.Now(),
		logger:      logger,
		metrics:     mc,
		projectHash: config.HashProjectPath(projectPath),
	}
}

// Handler builds the gin.Engine with every route registered.
func (s *Server) Handler(debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("embedcore"))
	router.Use(s.touchMiddleware())
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.POST("/register-client", s.handleRegisterClient)
	router.POST("/deregister-client", s.handleDeregisterClient)
	router.POST("/embed", s.handleEmbed)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// touchMiddleware bumps the registry's per-client activity and notifies the
// shutdown controller of request activity, mirroring spec §6's note that
// x-client-id and x-project-path are observed when present. A daemon
// instance is pinned to one repository's cache for its lifetime (spec §6's
// "Persisted state" is keyed by a single repository hash), so a
// x-project-path that doesn't hash to that repository is logged as a
// likely client misconfiguration rather than switching caches mid-request.
func (s *Server) touchMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader("x-client-id"); id != "" {
			s.registry.Touch(id)
		}
		if projectPath := c.GetHeader("x-project-path"); projectPath != "" {
			if hash := config.HashProjectPath(projectPath); hash != s.projectHash {
				s.logger.Warn("request's x-project-path does not match this daemon's cache",
					slog.String("x_project_path", projectPath))
			}
		}
		if s.ctrl != nil {
			s.ctrl.NotifyRequest()
		}
		c.Next()
	}
}
