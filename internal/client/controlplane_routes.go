package client

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/openmined/syftupload/internal/client/handlers"
	"github.com/openmined/syftupload/internal/client/middleware"
	"github.com/openmined/syftupload/internal/version"
)

type RouteConfig struct {
	Auth    middleware.TokenAuthConfig
	UserID   string // default user for enqueue requests
	LogFile  string
	Transfer handlers.TransferStatsProvider
}

func SetupRoutes(uploads handlers.UploadService, routeConfig *RouteConfig) http.Handler {
	r := gin.New()

	rateLimitStore := memory.NewStore()
	rateLimiter := limiter.New(rateLimitStore, limiter.Rate{
		Period: 1 * time.Second,
		Limit:  20,
	})

	uploadH := handlers.NewUploadHandler(uploads, routeConfig.UserID)
	eventsH := handlers.NewEventsHandler(uploads)
	statusH := handlers.NewStatusHandler(uploads, routeConfig.Transfer, routeConfig.UserID)
	logsH := handlers.NewLogsHandler(routeConfig.LogFile)

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(nil))
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(mgin.NewMiddleware(rateLimiter))

	r.GET("/", IndexHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(routeConfig.Auth))
	{
		v1.GET("/status", statusH.Status)
		v1.GET("/logs", logsH.GetLogs)

		v1Uploads := v1.Group("/uploads")
		{
			v1Uploads.GET("", uploadH.List)
			v1Uploads.POST("", uploadH.Enqueue)
			v1Uploads.POST("/pause", uploadH.Pause)
			v1Uploads.POST("/resume", uploadH.Resume)
			v1Uploads.POST("/cancel", uploadH.Cancel)
			v1Uploads.GET("/events", eventsH.Stream)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}
