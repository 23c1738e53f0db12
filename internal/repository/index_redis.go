package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgredis "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/redis"
)

// ── Redis 分配索引 ──
// 每个用户一个 hash：field 为条目键，value 为 JSON 记录；用户集合用于全量遍历

const (
	indexKeyPrefix = "gtc:assign:"
	indexUsersKey  = "gtc:assign:users"
)

type redisIndexStore struct {
	rdb goredis.UniversalClient
}

func NewRedisIndexStore(c *pkgredis.Client) IndexStore {
	return &redisIndexStore{rdb: c.Cmd()}
}

func userIndexKey(userID string) string {
	return indexKeyPrefix + "{" + userID + "}"
}

func classifyRedisErr(op string, err error) error {
	if err == nil || errors.Is(err, goredis.Nil) {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return transient(op, err)
}

func (r *redisIndexStore) Put(ctx context.Context, rec model.AssignmentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化分配记录失败: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, userIndexKey(rec.UserID), rec.ItemKey().String(), data)
	pipe.SAdd(ctx, indexUsersKey, rec.UserID)
	_, err = pipe.Exec(ctx)
	return classifyRedisErr("写入分配记录", err)
}

func (r *redisIndexStore) Delete(ctx context.Context, userID string, key model.ItemKey) error {
	hkey := userIndexKey(userID)
	if err := r.rdb.HDel(ctx, hkey, key.String()).Err(); err != nil {
		return classifyRedisErr("删除分配记录", err)
	}
	// 用户名下已无记录时移出集合；并发 Put 留下的空集合成员在遍历时无害
	n, err := r.rdb.HLen(ctx, hkey).Result()
	if err != nil {
		return classifyRedisErr("删除分配记录", err)
	}
	if n == 0 {
		return classifyRedisErr("删除分配记录", r.rdb.SRem(ctx, indexUsersKey, userID).Err())
	}
	return nil
}

func (r *redisIndexStore) ListByUser(ctx context.Context, userID string) ([]model.AssignmentRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, classifyRedisErr("查询分配记录", err)
	}
	recs := make([]model.AssignmentRecord, 0, len(fields))
	for field, raw := range fields {
		var rec model.AssignmentRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("解析分配记录 %s 失败: %w", field, err)
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].AssignedAt.Equal(recs[j].AssignedAt) {
			return recs[i].ItemKey().String() < recs[j].ItemKey().String()
		}
		return recs[i].AssignedAt.Before(recs[j].AssignedAt)
	})
	return recs, nil
}

func (r *redisIndexStore) ListAll(ctx context.Context) ([]model.AssignmentRecord, error) {
	users, err := r.rdb.SMembers(ctx, indexUsersKey).Result()
	if err != nil {
		return nil, classifyRedisErr("查询用户集合", err)
	}
	sort.Strings(users)
	var all []model.AssignmentRecord
	for _, u := range users {
		recs, err := r.ListByUser(ctx, u)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}
