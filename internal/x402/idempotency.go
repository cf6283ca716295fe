package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ZyndAI-Connect/internal/errors"
	zredis "ZyndAI-Connect/internal/storage/redis"
	"ZyndAI-Connect/pkg/logger"
)

const (
	// DefaultIdempotencyTTL 是成功结算结果的默认缓存时长。
	DefaultIdempotencyTTL = 10 * time.Minute
	// DefaultPendingTTL 是结算进行中标记的最长存活时间，超时后其他请求可重新结算。
	DefaultPendingTTL = 2 * time.Minute
)

// MarkState 是 CheckAndMark 的结果。
type MarkState int

const (
	// MarkAcquired 表示当前请求取得结算权。
	MarkAcquired MarkState = iota
	// MarkCached 表示该支付凭证已结算成功。
	MarkCached
	// MarkInFlight 表示另一个请求正在结算同一凭证。
	MarkInFlight
)

// IdempotencyStore 记录支付凭证的结算状态。
//   - CheckAndMark 原子地检查缓存或进行中标记，都不存在时写入进行中标记
//   - WaitForResult 等待进行中的结算结束；ok=false 表示标记已被释放
//   - Complete 缓存成功结果
//   - Fail 释放进行中标记，允许重试
type IdempotencyStore interface {
	CheckAndMark(ctx context.Context, key string, pendingTTL time.Duration) (SettleResult, MarkState, error)
	WaitForResult(ctx context.Context, key string) (SettleResult, bool, error)
	Complete(ctx context.Context, key string, result SettleResult, ttl time.Duration) error
	Fail(ctx context.Context, key string) error
}

// IdempotencyKey 对支付凭证与资源信息做 SHA-256 摘要。
func IdempotencyKey(req SettleRequest) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.TrimSpace(req.PaymentData),
		req.ResourceURL,
		strings.ToLower(req.Network),
		strings.ToLower(strings.TrimSpace(req.PayTo)),
		req.Price,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// IdempotentSettler 保证同一支付凭证只结算一次。并发的重复请求等待首个请求的结果，
// 之后的重复提交得到 Replayed 标记的缓存结果。失败与非 200 结果不会被缓存。
type IdempotentSettler struct {
	next       Settler
	store      IdempotencyStore
	ttl        time.Duration
	pendingTTL time.Duration
	logger     *slog.Logger
}

// NewIdempotentSettler 包装已有的 Settler。
func NewIdempotentSettler(next Settler, store IdempotencyStore, ttl time.Duration) *IdempotentSettler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotentSettler{
		next:       next,
		store:      store,
		ttl:        ttl,
		pendingTTL: DefaultPendingTTL,
		logger:     logger.Named("x402"),
	}
}

// Name 透传被包装结算服务的名称。
func (s *IdempotentSettler) Name() string {
	return settlerName(s.next)
}

// Settle 实现 Settler。
func (s *IdempotentSettler) Settle(ctx context.Context, req SettleRequest) (SettleResult, error) {
	if strings.TrimSpace(req.PaymentData) == "" || s.store == nil {
		return s.next.Settle(ctx, req)
	}

	key := IdempotencyKey(req)
	for {
		cached, state, err := s.store.CheckAndMark(ctx, key, s.pendingTTL)
		if err != nil {
			s.logger.Warn("结算缓存不可用，直接结算", "error", err)
			return s.next.Settle(ctx, req)
		}
		switch state {
		case MarkCached:
			return s.replay(req, cached), nil
		case MarkInFlight:
			result, ok, err := s.store.WaitForResult(ctx, key)
			if err != nil {
				return SettleResult{}, xerrors.Wrap(CodePaymentSettlementFailed, err, "wait for in-flight settlement")
			}
			if ok {
				return s.replay(req, result), nil
			}
			// 先前的结算失败并释放了标记，重新竞争结算权。
			continue
		}
		return s.settleOnce(ctx, key, req)
	}
}

func (s *IdempotentSettler) settleOnce(ctx context.Context, key string, req SettleRequest) (SettleResult, error) {
	result, err := s.next.Settle(ctx, req)
	storeCtx := context.WithoutCancel(ctx)
	if err != nil || result.Status != http.StatusOK {
		if failErr := s.store.Fail(storeCtx, key); failErr != nil {
			s.logger.Warn("释放结算标记失败", "error", failErr)
		}
		return result, err
	}
	if err := s.store.Complete(storeCtx, key, result, s.ttl); err != nil {
		s.logger.Warn("写入结算缓存失败", "error", err)
	}
	return result, nil
}

func (s *IdempotentSettler) replay(req SettleRequest, result SettleResult) SettleResult {
	s.logger.Info("支付凭证已结算，返回缓存结果", "network", req.Network, "resource", req.ResourceURL, "transaction", result.Transaction)
	result.Replayed = true
	return result
}

type memoryEntry struct {
	result    SettleResult
	expiresAt time.Time
	// pending 非 nil 表示结算进行中，结束时关闭。
	pending chan struct{}
}

// MemoryIdempotencyStore 是进程内的结算状态表。
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryIdempotencyStore 创建内存缓存。
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*memoryEntry), now: time.Now}
}

// CheckAndMark 实现 IdempotencyStore。
func (m *MemoryIdempotencyStore) CheckAndMark(_ context.Context, key string, pendingTTL time.Duration) (SettleResult, MarkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.purgeLocked(now)
	if entry, ok := m.entries[key]; ok {
		if entry.pending != nil {
			return SettleResult{}, MarkInFlight, nil
		}
		return entry.result, MarkCached, nil
	}
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	m.entries[key] = &memoryEntry{pending: make(chan struct{}), expiresAt: now.Add(pendingTTL)}
	return SettleResult{}, MarkAcquired, nil
}

// WaitForResult 实现 IdempotencyStore。
func (m *MemoryIdempotencyStore) WaitForResult(ctx context.Context, key string) (SettleResult, bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return SettleResult{}, false, nil
	}
	if entry.pending == nil {
		result := entry.result
		m.mu.Unlock()
		return result, true, nil
	}
	done := entry.pending
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return SettleResult{}, false, ctx.Err()
	case <-done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok = m.entries[key]
	if !ok || entry.pending != nil {
		return SettleResult{}, false, nil
	}
	return entry.result, true, nil
}

// Complete 实现 IdempotencyStore。
func (m *MemoryIdempotencyStore) Complete(_ context.Context, key string, result SettleResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &memoryEntry{}
		m.entries[key] = entry
	}
	entry.result = result
	entry.expiresAt = m.now().Add(ttl)
	if entry.pending != nil {
		close(entry.pending)
		entry.pending = nil
	}
	return nil
}

// Fail 实现 IdempotencyStore。
func (m *MemoryIdempotencyStore) Fail(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || entry.pending == nil {
		return nil
	}
	close(entry.pending)
	delete(m.entries, key)
	return nil
}

func (m *MemoryIdempotencyStore) purgeLocked(now time.Time) {
	for k, entry := range m.entries {
		if now.Before(entry.expiresAt) {
			continue
		}
		if entry.pending != nil {
			close(entry.pending)
		}
		delete(m.entries, k)
	}
}

// RedisCommands 是 RedisIdempotencyStore 依赖的最小命令集合。
type RedisCommands interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// redisRecord 是 Redis 中保存的结算状态：进行中标记或成功结果。
type redisRecord struct {
	Pending bool          `json:"pending,omitempty"`
	Result  *SettleResult `json:"result,omitempty"`
}

// RedisIdempotencyStore 以 SETNX 抢占结算权，结果以 JSON 形式存入 Redis，适用于多实例部署。
type RedisIdempotencyStore struct {
	client       RedisCommands
	prefix       string
	pollInterval time.Duration
}

// NewRedisIdempotencyStore 使用已有的 Redis 客户端创建缓存。
func NewRedisIdempotencyStore(client RedisCommands, prefix string) *RedisIdempotencyStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = "zynd:x402"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix, pollInterval: 100 * time.Millisecond}
}

// CheckAndMark 实现 IdempotencyStore。
func (r *RedisIdempotencyStore) CheckAndMark(ctx context.Context, key string, pendingTTL time.Duration) (SettleResult, MarkState, error) {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	marker, err := json.Marshal(redisRecord{Pending: true})
	if err != nil {
		return SettleResult{}, MarkAcquired, fmt.Errorf("编码结算标记失败: %w", err)
	}
	acquired, err := r.client.SetNX(ctx, r.key(key), marker, pendingTTL).Result()
	if err != nil {
		return SettleResult{}, MarkAcquired, fmt.Errorf("写入结算标记失败: %w", err)
	}
	if acquired {
		return SettleResult{}, MarkAcquired, nil
	}
	record, found, err := r.load(ctx, key)
	if err != nil {
		return SettleResult{}, MarkAcquired, err
	}
	// 键在两次命令之间过期时按进行中处理，WaitForResult 会让调用方重新竞争。
	if !found || record.Pending {
		return SettleResult{}, MarkInFlight, nil
	}
	return *record.Result, MarkCached, nil
}

// WaitForResult 轮询直到进行中标记被结果替换或删除。
func (r *RedisIdempotencyStore) WaitForResult(ctx context.Context, key string) (SettleResult, bool, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		record, found, err := r.load(ctx, key)
		if err != nil {
			return SettleResult{}, false, err
		}
		if !found {
			return SettleResult{}, false, nil
		}
		if !record.Pending {
			return *record.Result, true, nil
		}
		select {
		case <-ctx.Done():
			return SettleResult{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Complete 实现 IdempotencyStore。
func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, result SettleResult, ttl time.Duration) error {
	raw, err := json.Marshal(redisRecord{Result: &result})
	if err != nil {
		return fmt.Errorf("编码结算缓存失败: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("写入结算缓存失败: %w", err)
	}
	return nil
}

// Fail 实现 IdempotencyStore。
func (r *RedisIdempotencyStore) Fail(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("删除结算标记失败: %w", err)
	}
	return nil
}

func (r *RedisIdempotencyStore) key(key string) string {
	return zredis.Key(r.prefix, "settle", key)
}

func (r *RedisIdempotencyStore) load(ctx context.Context, key string) (redisRecord, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return redisRecord{}, false, nil
	}
	if err != nil {
		return redisRecord{}, false, fmt.Errorf("读取结算缓存失败: %w", err)
	}
	var record redisRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return redisRecord{}, false, fmt.Errorf("解析结算缓存失败: %w", err)
	}
	if !record.Pending && record.Result == nil {
		return redisRecord{}, false, errors.New("结算缓存内容无效")
	}
	return record, true, nil
}

func settlerName(s Settler) string {
	if named, ok := s.(interface{ Name() string }); ok {
		return named.Name()
	}
	return ""
}
