package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/adaptation"
	"cv-adapter/internal/documents"
	"cv-adapter/internal/events"
	"cv-adapter/internal/review"
	"cv-adapter/internal/services/health"
	"cv-adapter/internal/shared/auth"
	"cv-adapter/internal/shared/config"
	"cv-adapter/internal/shared/metrics"
	"cv-adapter/internal/shared/server/middleware"
	"cv-adapter/internal/shared/server/respond"
	"cv-adapter/internal/tasks"
	"cv-adapter/internal/usage"
	"cv-adapter/internal/versions"
)

// Deps are the handlers the router mounts. Nil handlers are skipped.
type Deps struct {
	Health     *health.Service
	Documents  *documents.Handler
	Adaptation *adaptation.Handler
	Tasks      *tasks.Handler
	Review     *review.Handler
	Versions   *versions.Handler
	Events     *events.Handler
	Usage      *usage.Handler
}

type routeRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Rate limit groups.
const (
	rateDefault = "DEFAULT"
	ratePolling = "POLLING"
	rateAdapt   = "ADAPT"
	rateStream  = "STREAM"
)

var rateRules = map[string]middleware.RateLimitRule{
	rateDefault: {Rate: 5, Burst: 20},
	ratePolling: {Rate: 10, Burst: 40},
	rateAdapt:   {Rate: 0.2, Burst: 3},
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	r.GET("/health", healthHandler(deps.Health))
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1",
		middleware.Auth(cfg.Env, auth.NewVerifier(cfg.JWTSecret)),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateDefault,
			GroupFor:     rateGroup,
			Rules:        rateRules,
		}),
	)
	api.GET("/health", healthHandler(deps.Health))

	for _, h := range deps.registrars() {
		h.RegisterRoutes(api)
	}
	if deps.Usage != nil && cfg.Env == "dev" {
		deps.Usage.RegisterDevRoutes(api.Group("/dev"))
	}
	return r
}

func rateGroup(c *gin.Context) string {
	switch path := c.FullPath(); {
	case path == "/api/v1/events":
		return rateStream
	case c.Request.Method == http.MethodPost && path == "/api/v1/documents/:id/adapt":
		return rateAdapt
	case c.Request.Method == http.MethodGet && (path == "/api/v1/tasks/:id" || path == "/api/v1/documents/:id/review"):
		return ratePolling
	}
	return rateDefault
}

func healthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		ok, components := svc.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, gin.H{"ok": ok, "components": components})
	}
}

func (d Deps) registrars() []routeRegistrar {
	var out []routeRegistrar
	if d.Documents != nil {
		out = append(out, d.Documents)
	}
	if d.Adaptation != nil {
		out = append(out, d.Adaptation)
	}
	if d.Tasks != nil {
		out = append(out, d.Tasks)
	}
	if d.Review != nil {
		out = append(out, d.Review)
	}
	if d.Versions != nil {
		out = append(out, d.Versions)
	}
	if d.Events != nil {
		out = append(out, d.Events)
	}
	if d.Usage != nil {
		out = append(out, d.Usage)
	}
	return out
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
