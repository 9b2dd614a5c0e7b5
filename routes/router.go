package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/controllers"
	"github.com/cppla/checkin/middleware"
	"github.com/cppla/checkin/utils"
)

// Handlers groups the controllers the router mounts.
type Handlers struct {
	CheckIn *controllers.CheckInController
	Users   *controllers.UsersController
	Import  *controllers.ImportController
	Setup   *controllers.SetupController
}

// SetupRouter wires middlewares and routes.
func SetupRouter(cfg config.AppConfig, h Handlers) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log goes to its own rolling file, not stdout
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(ginzap.Ginzap(gl, time.RFC3339, true))
		r.Use(ginzap.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "X-Cache"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", h.Setup.Health)
	r.GET("/ready", h.Setup.Ready)

	limit := middleware.RateLimitMiddleware(cfg.RateLimitPerMinute)
	mount := func(g *gin.RouterGroup) {
		g.Use(middleware.Identity(cfg.DefaultUserID))
		g.POST("/checkin", limit, h.CheckIn.CheckIn)
		g.GET("/user-stats", h.CheckIn.UserStats)
		g.GET("/users", h.Users.ListUsers)
		g.POST("/import-csv", limit, h.Import.ImportCSV)
		g.GET("/setup-db", h.Setup.SetupDB)
	}
	mount(r.Group("/api"))
	mount(r.Group(""))

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
