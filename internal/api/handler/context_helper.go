package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/assignment"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/response"
)

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
// 如果 JWT 中间件未正确注入 user_id，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// GetRoles 提取上游令牌中的角色列表，未注入时为空
func GetRoles(c *gin.Context) []string {
	v, exists := c.Get("roles")
	if !exists {
		return nil
	}
	roles, _ := v.([]string)
	return roles
}

// MustGetActor 组装当前调用者，角色只做成员判断，不在此处鉴权
func MustGetActor(c *gin.Context) (assignment.Actor, bool) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return assignment.Actor{}, false
	}
	return assignment.Actor{
		UserID: userID,
		Roles:  assignment.NewRoleSet(GetRoles(c)...),
	}, true
}
