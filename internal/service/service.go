package service

import (
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/assignment"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Assignment AssignmentService
}

// NewService 创建 Service 聚合
func NewService(cfg *config.Config, core *assignment.Core, logger *zap.Logger) *Service {
	return &Service{
		Assignment: NewAssignmentService(core, cfg.Store.Buckets, logger),
	}
}
