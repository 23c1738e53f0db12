package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/api/handler"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/api/middleware"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/jwt"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/redis"
)

// importPath 批量导入路由，请求体上限单独配置
const importPath = "/api/v1/admin/items/import"

// Setup 初始化并返回 Gin 路由引擎
// metrics 为 nil 时不暴露 /metrics；rdb 为 nil 时自助领取不限流
func Setup(cfg *config.Config, h *handler.Handler, verifier *jwt.Verifier, rdb *redis.Client, metrics http.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes, map[string]int64{
		importPath: cfg.Server.MaxImportBodyBytes,
	}))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	v1.Use(middleware.JWTAuth(verifier))
	{
		// 领取模块
		assignments := v1.Group("/assignments")
		{
			assignments.POST("/self-serve",
				middleware.RateLimit(rdb, cfg.Server.RateLimit.SelfServeLimit, cfg.Server.RateLimit.SelfServeWindow, logger),
				h.Assignment.SelfServe)
			assignments.GET("/me", h.Assignment.MyAssignments)
		}

		// 条目模块（强制接管与释放在 Service 层按角色鉴权）
		items := v1.Group("/items/:dataset/:bucket/:id")
		{
			items.GET("", h.Assignment.GetItem)
			items.PUT("", h.Assignment.UpdateItem)
			items.POST("/assign", h.Assignment.AssignItem)
			items.DELETE("/assignment", h.Assignment.ClearAssignment)
		}

		// 运维模块
		admin := v1.Group("/admin")
		admin.Use(middleware.RoleAuth(cfg.Assignment.TakeoverRoles...))
		{
			admin.POST("/index/reconcile", h.Assignment.Reconcile)
			admin.POST("/items/import", h.Assignment.ImportItems)
		}
	}

	return r
}
