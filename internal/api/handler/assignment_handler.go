package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/api/middleware"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/assignment"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/dto"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/service"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/response"
)

// AssignmentHandler 领取分配模块 HTTP 处理器
type AssignmentHandler struct {
	assignmentSvc service.AssignmentService
}

// NewAssignmentHandler 创建 AssignmentHandler
func NewAssignmentHandler(assignmentSvc service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignmentSvc: assignmentSvc}
}

// SelfServe 自助领取
// POST /api/v1/assignments/self-serve
func (h *AssignmentHandler) SelfServe(c *gin.Context) {
	var req dto.SelfServeRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.assignmentSvc.SelfServeAssign(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, result)
}

// MyAssignments 当前用户的分配列表
// GET /api/v1/assignments/me
func (h *AssignmentHandler) MyAssignments(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, err := h.assignmentSvc.MyAssignments(c.Request.Context(), userID)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, gin.H{"list": list})
}

// GetItem 条目详情，ETag 同时写入响应头
// GET /api/v1/items/:dataset/:bucket/:id
func (h *AssignmentHandler) GetItem(c *gin.Context) {
	key, ok := bindItemKey(c)
	if !ok {
		return
	}

	item, err := h.assignmentSvc.GetItem(c.Request.Context(), key)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	setETag(c, item.ETag)
	response.OK(c, item)
}

// AssignItem 领取或指派单个条目；force=true 为强制接管
// POST /api/v1/items/:dataset/:bucket/:id/assign
func (h *AssignmentHandler) AssignItem(c *gin.Context) {
	key, ok := bindItemKey(c)
	if !ok {
		return
	}

	var req dto.AssignItemRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	if req.ETag == "" {
		req.ETag = ifMatch(c)
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	item, err := h.assignmentSvc.AssignItem(c.Request.Context(), key, &req, actor)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	setETag(c, item.ETag)
	response.OK(c, item)
}

// UpdateItem 编辑条目内容或状态，需要并发令牌（body.etag 或 If-Match）
// PUT /api/v1/items/:dataset/:bucket/:id
func (h *AssignmentHandler) UpdateItem(c *gin.Context) {
	key, ok := bindItemKey(c)
	if !ok {
		return
	}

	var req dto.UpdateItemRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ETag == "" {
		req.ETag = ifMatch(c)
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	item, err := h.assignmentSvc.UpdateItem(c.Request.Context(), key, &req, actor)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	setETag(c, item.ETag)
	response.OK(c, item)
}

// ClearAssignment 强制释放条目
// DELETE /api/v1/items/:dataset/:bucket/:id/assignment
func (h *AssignmentHandler) ClearAssignment(c *gin.Context) {
	key, ok := bindItemKey(c)
	if !ok {
		return
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	item, err := h.assignmentSvc.ClearAssignment(c.Request.Context(), key, actor)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	setETag(c, item.ETag)
	response.OK(c, item)
}

// Reconcile 手动执行一次索引清理
// POST /api/v1/admin/index/reconcile
func (h *AssignmentHandler) Reconcile(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	result, err := h.assignmentSvc.Reconcile(c.Request.Context(), actor)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, result)
}

// ImportItems 批量导入未分配草稿
// POST /api/v1/admin/items/import
func (h *AssignmentHandler) ImportItems(c *gin.Context) {
	var req dto.ImportItemsRequest
	if !bindJSON(c, &req) {
		return
	}

	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	result, err := h.assignmentSvc.ImportItems(c.Request.Context(), &req, actor)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.Created(c, result)
}

// handleAssignmentError 统一处理领取分配模块业务错误
func (h *AssignmentHandler) handleAssignmentError(c *gin.Context, err error) {
	var held *assignment.AlreadyHeldError
	var stale *assignment.StaleWriteError
	switch {
	case errors.As(err, &held):
		data := dto.AlreadyHeldResponse{HeldBy: held.HeldBy}
		if !held.HeldSince.IsZero() {
			data.HeldSince = held.HeldSince.UTC().Format(time.RFC3339Nano)
		}
		response.Conflict(c, 20002, "条目已被他人持有", data)
	case errors.As(err, &stale):
		if stale.CurrentETag != "" {
			setETag(c, stale.CurrentETag)
		}
		response.PreconditionFailed(c, 20003, "并发令牌已过期，请刷新后重试")
	case errors.Is(err, service.ErrItemNotFound):
		response.NotFound(c, 20001, "条目不存在")
	case errors.Is(err, assignment.ErrPermission):
		response.Forbidden(c, 20004, "无权执行该操作")
	case errors.Is(err, assignment.ErrTransientStore):
		response.ServiceUnavailable(c, 20005, "存储暂时不可用，请稍后重试")
	case errors.Is(err, service.ErrNotAssignable):
		response.Conflict(c, 20006, "条目当前状态不可分配", nil)
	case errors.Is(err, service.ErrInvalidTransition):
		response.Conflict(c, 20007, "不允许的状态变更", nil)
	case errors.Is(err, service.ErrETagRequired):
		response.BadRequest(c, 20008, "缺少并发令牌")
	case errors.Is(err, service.ErrEmptyUpdate):
		response.BadRequest(c, 20009, "没有需要更新的字段")
	case errors.Is(err, model.ErrInvalidItemKey):
		response.BadRequest(c, 20010, "无效的条目标识")
	case errors.Is(err, assignment.ErrInvalidCount),
		errors.Is(err, assignment.ErrInvalidUser),
		errors.Is(err, assignment.ErrInvalidWeights):
		response.BadRequest(c, 10001, err.Error())
	default:
		// 交给请求日志记录
		_ = c.Error(err)
		response.InternalError(c)
	}
}

// ── 内部辅助 ──

// bindJSON 绑定请求体；超出大小上限返回 413，其余失败返回 400
func bindJSON(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	if middleware.IsBodyTooLarge(err) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return false
	}
	response.BadRequest(c, 10001, "参数校验失败")
	return false
}

// bindItemKey 从路径参数解析条目主键
func bindItemKey(c *gin.Context) (model.ItemKey, bool) {
	bucket, err := strconv.Atoi(c.Param("bucket"))
	if err != nil {
		response.BadRequest(c, 20010, "无效的条目标识")
		return model.ItemKey{}, false
	}
	key := model.ItemKey{DatasetName: c.Param("dataset"), Bucket: bucket, ID: c.Param("id")}
	if err := key.Validate(); err != nil {
		response.BadRequest(c, 20010, "无效的条目标识")
		return model.ItemKey{}, false
	}
	return key, true
}

func setETag(c *gin.Context, etag string) {
	if etag != "" {
		c.Header("ETag", strconv.Quote(etag))
	}
}

// ifMatch 读取 If-Match 头，去掉弱校验前缀与引号
func ifMatch(c *gin.Context) string {
	v := strings.TrimSpace(c.GetHeader("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	if unq, err := strconv.Unquote(v); err == nil {
		return unq
	}
	return v
}
