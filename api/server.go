package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleamarket-scraper/utils"
)

// NewServer creates the HTTP engine with all routes configured.
func NewServer(handler *Handler, logger *utils.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		Output: logger.Writer(),
	}))
	r.Use(gin.Recovery())

	// The map front end is served from another origin.
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	setupRoutes(r, handler)
	return r
}

func setupRoutes(r *gin.Engine, h *Handler) {
	r.GET("/health", h.GetHealth)

	v1 := r.Group("/api/v1/flea-markets")
	{
		v1.GET("", h.ListMarkets)
		v1.GET("/visualization", h.ListForMap)
		v1.GET("/with-location", h.ListWithLocation)
		v1.GET("/upcoming", h.ListUpcoming)
		v1.GET("/:id", h.GetMarket)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, response{Message: "not found"})
	})
}
