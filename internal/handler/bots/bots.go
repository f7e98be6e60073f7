package bots

import (
	"botflow/internal/model"
	"botflow/internal/orchestrator"
	"botflow/pkg/errors"
	"botflow/pkg/errors/ecode"
	"botflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	orc *orchestrator.Orchestrator
}

func NewHandler(orc *orchestrator.Orchestrator) *Handler {
	return &Handler{orc: orc}
}

// BotCreate 创建一个新的bot，创建后处于created状态
func (h *Handler) BotCreate() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var cfg model.BotConfig
		if err := ctx.ShouldBindJSON(&cfg); err != nil {
			response.JSON(ctx, errors.WithCode(ecode.ValidateErr, err.Error()), nil)
			return
		}
		if err := h.orc.Create(ctx, cfg); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, gin.H{"bot_id": cfg.ID})
	}
}

// BotStart 启动，幂等
func (h *Handler) BotStart() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if err := h.orc.Start(ctx, id); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		stats, err := h.orc.Stats(id)
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, stats.State)
	}
}

// BotPause 暂停进出场评估
func (h *Handler) BotPause() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if err := h.orc.Pause(id); err != nil {
			response.JSON(ctx, errors.Wrap(err, ecode.ValidateErr, err.Error()), nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}

// BotStop 终止
func (h *Handler) BotStop() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if err := h.orc.Stop(ctx, id); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}

// BotReset 解除熔断
func (h *Handler) BotReset() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if err := h.orc.Reset(id); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}

// BotRemove 停掉并移除
func (h *Handler) BotRemove() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if err := h.orc.Remove(ctx, id); err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, nil)
	}
}

// BotStats 单个bot的配置和运行时状态
func (h *Handler) BotStats() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		stats, err := h.orc.Stats(ctx.Param("id"))
		if err != nil {
			response.JSON(ctx, err, nil)
			return
		}
		response.JSON(ctx, nil, stats)
	}
}

// Portfolio 组合视图
func (h *Handler) Portfolio() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response.JSON(ctx, nil, h.orc.Portfolio())
	}
}

// Health 健康检查
func (h *Handler) Health() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response.JSON(ctx, nil, h.orc.Health())
	}
}
