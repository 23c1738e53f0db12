package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/response"
)

// BodyLimit 请求体大小限制中间件
// routeMax 按路由模板（c.FullPath）覆盖默认上限，例如批量导入接口
func BodyLimit(defaultMax int64, routeMax map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultMax
		if n, ok := routeMax[c.FullPath()]; ok && n > 0 {
			limit = n
		}

		if c.Request.ContentLength > limit {
			response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}

		c.Next()
	}
}

// IsBodyTooLarge 绑定请求体失败是否因为超出 BodyLimit 的上限（分块传输时才会在读取中途触发）
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
