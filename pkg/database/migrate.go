package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationStep 一个版本化迁移，Name 为文件名中版本号之后的部分（通常是表名）
type MigrationStep struct {
	Version uint
	Name    string
}

// RunMigrations 将 work_items / assignment_records 迁移到最新版本，并逐条记录本次应用的迁移
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("加载迁移文件失败: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("创建迁移驱动失败: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("初始化迁移实例失败: %w", err)
	}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("读取迁移版本失败: %w", err)
	}
	if dirty {
		// 上次迁移中断，需人工 force 后重试
		return fmt.Errorf("数据库迁移处于 dirty 状态 (version=%d)", from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("执行迁移失败: %w", err)
	}

	to, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("读取迁移版本失败: %w", err)
	}

	applied, err := PendingMigrations(from, to)
	if err != nil {
		return err
	}
	for _, step := range applied {
		logger.Info("已应用迁移", zap.Uint("version", step.Version), zap.String("name", step.Name))
	}
	logger.Info("数据库迁移完成",
		zap.Uint("from", from),
		zap.Uint("to", to),
		zap.Int("applied", len(applied)),
	)
	return nil
}

// PendingMigrations 列出版本区间 (from, to] 内的内嵌迁移
func PendingMigrations(from, to uint) ([]MigrationStep, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return nil, err
	}
	var steps []MigrationStep
	for _, f := range files {
		step, err := parseMigrationName(strings.TrimPrefix(f, "migrations/"))
		if err != nil {
			return nil, err
		}
		if step.Version > from && step.Version <= to {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}

// parseMigrationName 解析 000001_work_items.up.sql
func parseMigrationName(file string) (MigrationStep, error) {
	base := strings.TrimSuffix(file, ".up.sql")
	ver, name, ok := strings.Cut(base, "_")
	if !ok {
		return MigrationStep{}, fmt.Errorf("迁移文件名不合法: %s", file)
	}
	v, err := strconv.ParseUint(ver, 10, 32)
	if err != nil {
		return MigrationStep{}, fmt.Errorf("迁移文件名不合法: %s", file)
	}
	return MigrationStep{Version: uint(v), Name: name}, nil
}
