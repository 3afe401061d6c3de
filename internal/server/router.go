package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/maguro923/chat-and-schedule-backend/internal/config"
	"github.com/maguro923/chat-and-schedule-backend/internal/metrics"
	"github.com/maguro923/chat-and-schedule-backend/internal/mw"
	"github.com/maguro923/chat-and-schedule-backend/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件、账号 REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, h *Handler, wsSrv *ws.Server, limiters *mw.Limiters) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 登录类接口按 IP+路由限速，防止暴力尝试。
	authAPI := r.Group("/api/v1/auth")
	authAPI.Use(mw.RateLimit(limiters))
	authAPI.POST("/register", h.Register)
	authAPI.POST("/login", h.Login)
	authAPI.POST("/refresh", h.Refresh)

	r.GET("/ws/:user_id", wsSrv.Serve)
	return r
}
