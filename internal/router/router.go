package router

import (
	"botflow/internal/handler/bots"
	"botflow/internal/handler/ping"
	"botflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

type ApiRouter struct {
	botHandler *bots.Handler
}

func NewApiRouter(bh *bots.Handler) *ApiRouter {
	return &ApiRouter{botHandler: bh}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(middleware.RequestId(), middleware.Logger, middleware.NoCache(), middleware.Options())

	g.GET("/ping", ping.Ping())

	base := g.Group("/api/v1")

	b := base.Group("/bots")
	{
		b.POST("", api.botHandler.BotCreate())
		b.POST("/:id/start", api.botHandler.BotStart())
		b.POST("/:id/pause", api.botHandler.BotPause())
		b.POST("/:id/stop", api.botHandler.BotStop())
		b.POST("/:id/reset", api.botHandler.BotReset())
		b.DELETE("/:id", api.botHandler.BotRemove())
		b.GET("/:id/stats", api.botHandler.BotStats())
	}

	base.GET("/portfolio", api.botHandler.Portfolio())
	base.GET("/health", api.botHandler.Health())
}
