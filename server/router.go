package server

import (
	"time"

	httpHandler "intelliconn/interfaces/http"
	"intelliconn/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// StreamHandler serves the per-owner event stream.
type StreamHandler interface {
	Serve(c *gin.Context)
}

func InitiateRouter(
	postHandler httpHandler.IPostHandler,
	credentialHandler httpHandler.ICredentialHandler,
	analyticsHandler httpHandler.IAnalyticsHandler,
	healthHandler httpHandler.IHealthHandler,
	stream StreamHandler,
	secretKey string,
	allowOrigins []string,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler.Healthz)

	api := router.Group("api")
	api.Use(middleware.Auth(secretKey))

	posts := api.Group("/posts")
	{
		posts.POST("", postHandler.Submit)
		posts.GET("/:postId", postHandler.Get)
		posts.POST("/:postId/publish", postHandler.Publish)
		posts.DELETE("/:postId", postHandler.Delete)
	}

	credentials := api.Group("/credentials")
	{
		credentials.GET("", credentialHandler.List)
		credentials.PUT("/:platform", credentialHandler.Put)
		credentials.POST("/:platform/validate", credentialHandler.Validate)
	}

	analytics := api.Group("/analytics")
	{
		analytics.GET("/posts/:postId", analyticsHandler.PostAnalytics)
		analytics.GET("/daily", analyticsHandler.Daily)
	}

	if stream != nil {
		api.GET("/stream", stream.Serve)
	}

	return router
}
