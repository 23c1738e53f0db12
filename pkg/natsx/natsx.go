// Package natsx 封装 NATS 连接与 JetStream KV bucket 初始化
package natsx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/config"
)

// Connect 建立 NATS 连接并打开（或创建）条目 KV bucket
func Connect(ctx context.Context, cfg *config.NATSConfig, logger *zap.Logger) (*nats.Conn, jetstream.KeyValue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("ground-truth-curator"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 连接断开", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重连", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("NATS 连接失败: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("初始化 JetStream 失败: %w", err)
	}

	kv, err := EnsureKVBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "ground truth work items",
		History:     1,
	}, 3)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	logger.Info("NATS KV 就绪", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return nc, kv, nil
}

// EnsureKVBucket 创建或打开 KV bucket，多个实例并发启动时以指数退避重试
func EnsureKVBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, maxRetries int) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket 已存在但打开失败: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("创建 KV bucket 时上下文已取消: %w", ctx.Err())
		}

		// 10ms, 20ms, 40ms...
		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("创建/打开 KV bucket %s 失败（重试 %d 次）: %w", cfg.Bucket, maxRetries, lastErr)
}
