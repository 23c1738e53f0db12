package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/api/handler"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/api/router"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/assignment"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/service"
	"github.com/andrewDoing/GroundTruthCurator-sub002/pkg/jwt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务与后台索引清理",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg, logger := a.cfg, a.logger
	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)
	a.connectRateLimiter()

	// 依赖注入: Core → Service → Handler
	svc := service.NewService(cfg, a.core, logger)
	h := handler.NewHandler(svc)
	engine := router.Setup(cfg, h, jwt.NewVerifier(&cfg.Auth), a.rdb, a.metrics, logger)

	// 后台：补偿队列重放与索引清理
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		assignment.RunLoop(loopCtx, a.core.Index, a.core.Reconciler, cfg.Index.ReconcileInterval, logger)
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("收到关闭信号，开始优雅关闭...")
	case err := <-errCh:
		logger.Error("HTTP 服务器异常", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	cancelLoop()
	<-loopDone

	if n := a.core.Index.Pending(); n > 0 {
		logger.Warn("关闭时仍有未完成的索引补偿，将由下次清理扫描修复", zap.Int("pending", n))
	}
	logger.Info("服务器已关闭")
	return nil
}
