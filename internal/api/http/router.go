package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/meshcall/core/internal/api/ws"
	"github.com/meshcall/core/internal/identity"
	"github.com/meshcall/core/internal/repository"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck probes a dependency; non-nil means unhealthy.
type HealthCheck func() error

type RouterDeps struct {
	Auth       *AuthController
	Admin      *AdminController
	Upload     *UploadController
	Supervisor *ws.Supervisor
	Tokens     *identity.TokenManager
	Users      repository.UserRepository
	UploadsDir string
	Health     map[string]HealthCheck
}

// SetupRouter wires the REST surface, the websocket endpoint, static
// uploads, and the metrics handler. Cross-origin is wide open.
func SetupRouter(deps RouterDeps) *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "Origin", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(ctx *gin.Context) {
		status := http.StatusOK
		result := gin.H{"status": "ok"}
		for name, check := range deps.Health {
			if err := check(); err != nil {
				status = http.StatusServiceUnavailable
				result["status"] = "degraded"
				result[name] = err.Error()
			} else {
				result[name] = "ok"
			}
		}
		ctx.JSON(status, result)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", deps.Supervisor.Handle)
	router.Static("/uploads", deps.UploadsDir)

	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/register", deps.Auth.Register)
	auth.POST("/login", deps.Auth.Login)

	admin := api.Group("/admin", AuthRequired(deps.Tokens), AdminRequired(deps.Users))
	admin.GET("/users", deps.Admin.ListUsers)
	admin.GET("/users/pending", deps.Admin.ListPending)
	admin.POST("/users/:id/approve", deps.Admin.Approve)
	admin.POST("/users/:id/reject", deps.Admin.Reject)

	api.POST("/upload", deps.Upload.Upload)

	return router
}
