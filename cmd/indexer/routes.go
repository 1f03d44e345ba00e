package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"world-indexer.backend/internal/interfaces/http/handlers"
)

type routeDeps struct {
	worldHandler        *handlers.WorldHandler
	queryHandler        *handlers.QueryHandler
	messageHandler      *handlers.MessageHandler
	subscriptionHandler *handlers.SubscriptionHandler
}

func applyCORSMiddleware(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}

func registerHealthRoute(r *gin.Engine, h *handlers.WorldHandler) {
	r.GET("/health", h.Health)
}

func registerMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", d.worldHandler.Status)

		entities := v1.Group("/entities")
		{
			entities.POST("/query", d.queryHandler.QueryEntities)
			entities.GET("/subscribe", d.subscriptionHandler.Subscribe)
		}

		eventMessages := v1.Group("/event-messages")
		{
			eventMessages.POST("/query", d.queryHandler.QueryEventMessages)
		}

		models := v1.Group("/models")
		{
			models.GET("", d.queryHandler.ListModels)
			models.GET("/:selector", d.queryHandler.GetModel)
		}

		messages := v1.Group("/messages")
		{
			messages.POST("", d.messageHandler.Submit)
		}
	}
}
