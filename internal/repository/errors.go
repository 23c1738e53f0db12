package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// transient 包装为瞬时错误，保留原因
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, pkgerrors.ErrTransient, err)
}

// classifyGormErr 将 gorm / pgx 错误映射为存储层语义错误
func classifyGormErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return pkgerrors.ErrAlreadyExists
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return transient(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient(op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyNATSErr 将 NATS 连接层错误映射为瞬时错误
func classifyNATSErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrNoResponders):
		return transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
