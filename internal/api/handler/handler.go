package handler

import "github.com/andrewDoing/GroundTruthCurator-sub002/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Assignment *AssignmentHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Assignment: NewAssignmentHandler(svc.Assignment),
	}
}
