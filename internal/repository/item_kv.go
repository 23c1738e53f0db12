package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/model"
	pkgerrors "github.com/andrewDoing/GroundTruthCurator-sub002/pkg/errors"
)

// ── NATS JetStream KV 条目存储 ──
// 令牌为 KV revision，只支持整体替换（兼容模式存储），不实现 PatchStore

type kvItemStore struct {
	kv     jetstream.KeyValue
	logger *zap.Logger
}

func NewKVItemStore(kv jetstream.KeyValue, logger *zap.Logger) *kvItemStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kvItemStore{kv: kv, logger: logger.Named("kv_store")}
}

var keySegment = base64.RawURLEncoding

// kvKey 数据集与 ID 可能含有 KV 键不允许的字符，分段编码后以 '.' 拼接
func kvKey(key model.ItemKey) string {
	return keySegment.EncodeToString([]byte(key.DatasetName)) + "." +
		strconv.Itoa(key.Bucket) + "." +
		keySegment.EncodeToString([]byte(key.ID))
}

func parseKVKey(s string) (model.ItemKey, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return model.ItemKey{}, fmt.Errorf("%w: %q", model.ErrInvalidItemKey, s)
	}
	ds, err := keySegment.DecodeString(parts[0])
	if err != nil {
		return model.ItemKey{}, fmt.Errorf("%w: %q", model.ErrInvalidItemKey, s)
	}
	bucket, err := strconv.Atoi(parts[1])
	if err != nil {
		return model.ItemKey{}, fmt.Errorf("%w: %q", model.ErrInvalidItemKey, s)
	}
	id, err := keySegment.DecodeString(parts[2])
	if err != nil {
		return model.ItemKey{}, fmt.Errorf("%w: %q", model.ErrInvalidItemKey, s)
	}
	return model.ItemKey{DatasetName: string(ds), Bucket: bucket, ID: string(id)}, nil
}

func revisionETag(rev uint64) string {
	return strconv.FormatUint(rev, 10)
}

// isWrongRevision KV Update 在 revision 不匹配时返回 ErrKeyExists（JetStream 错误码 10071）
func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func decodeEntry(entry jetstream.KeyValueEntry) (*model.WorkItem, error) {
	var item model.WorkItem
	if err := json.Unmarshal(entry.Value(), &item); err != nil {
		return nil, fmt.Errorf("解析条目 %s 失败: %w", entry.Key(), err)
	}
	item.Version = int64(entry.Revision())
	item.ETag = revisionETag(entry.Revision())
	return &item, nil
}

func (s *kvItemStore) Get(ctx context.Context, key model.ItemKey) (*model.WorkItem, error) {
	entry, err := s.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, classifyNATSErr("读取条目", err)
	}
	return decodeEntry(entry)
}

func (s *kvItemStore) Create(ctx context.Context, item *model.WorkItem) (*model.WorkItem, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("序列化条目失败: %w", err)
	}
	rev, err := s.kv.Create(ctx, kvKey(item.Key()), data)
	if err != nil {
		if isWrongRevision(err) {
			return nil, pkgerrors.ErrAlreadyExists
		}
		return nil, classifyNATSErr("创建条目", err)
	}
	out := item.Clone()
	out.Version = int64(rev)
	out.ETag = revisionETag(rev)
	return out, nil
}

func (s *kvItemStore) ReplaceIfMatch(ctx context.Context, item *model.WorkItem, etag string) (*model.WorkItem, error) {
	rev, err := strconv.ParseUint(etag, 10, 64)
	if err != nil || rev == 0 {
		return nil, pkgerrors.ErrOptimisticLock
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("序列化条目失败: %w", err)
	}
	newRev, err := s.kv.Update(ctx, kvKey(item.Key()), data, rev)
	if err != nil {
		if isWrongRevision(err) {
			return nil, pkgerrors.ErrOptimisticLock
		}
		return nil, classifyNATSErr("替换条目", err)
	}
	out := item.Clone()
	out.Version = int64(newRev)
	out.ETag = revisionETag(newRev)
	return out, nil
}

// scan 遍历 bucket 中的全部条目；KV 没有二级索引，兼容模式下以全量扫描代替查询
func (s *kvItemStore) scan(ctx context.Context, match func(model.ItemKey) bool, fn func(*model.WorkItem)) error {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return classifyNATSErr("列举条目", err)
	}
	defer lister.Stop()

	for k := range lister.Keys() {
		key, err := parseKVKey(k)
		if err != nil {
			s.logger.Warn("无法识别的条目键，已跳过", zap.String("key", k), zap.Error(err))
			continue
		}
		if match != nil && !match(key) {
			continue
		}
		entry, err := s.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return classifyNATSErr("读取条目", err)
		}
		item, err := decodeEntry(entry)
		if err != nil {
			// 损坏的文档不参与列举，但需要运维介入
			s.logger.Warn("条目解码失败，已跳过",
				zap.String("item", key.String()),
				zap.Uint64("revision", entry.Revision()),
				zap.Error(err),
			)
			continue
		}
		fn(item)
	}
	return ctx.Err()
}

// ListCandidates 蓄水池抽样，保证返回的候选在数据集内均匀随机
func (s *kvItemStore) ListCandidates(ctx context.Context, q CandidateQuery) ([]model.WorkItem, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	var (
		pool []model.WorkItem
		seen int
	)
	err := s.scan(ctx, func(k model.ItemKey) bool { return k.DatasetName == q.Dataset }, func(item *model.WorkItem) {
		if !item.IsClaimable() {
			return
		}
		seen++
		if len(pool) < q.Limit {
			pool = append(pool, *item)
			return
		}
		if j := rand.IntN(seen); j < q.Limit {
			pool[j] = *item
		}
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *kvItemStore) ListDatasets(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	err := s.scan(ctx, func(k model.ItemKey) bool {
		_, ok := set[k.DatasetName]
		return !ok
	}, func(item *model.WorkItem) {
		if item.IsClaimable() {
			set[item.DatasetName] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(set))
	for ds := range set {
		names = append(names, ds)
	}
	sort.Strings(names)
	return names, nil
}

func (s *kvItemStore) ListHeld(ctx context.Context) ([]model.WorkItem, error) {
	var held []model.WorkItem
	err := s.scan(ctx, nil, func(item *model.WorkItem) {
		if item.IsHeld() {
			held = append(held, *item)
		}
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

func (s *kvItemStore) CountHeldBy(ctx context.Context, userID string) (int, error) {
	n := 0
	err := s.scan(ctx, nil, func(item *model.WorkItem) {
		if item.IsHeld() && item.Holder() == userID {
			n++
		}
	})
	return n, err
}
