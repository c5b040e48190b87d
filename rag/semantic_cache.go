package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/finrag/internal/cache"
	"github.com/BaSui01/finrag/llm/embedding"
	"github.com/BaSui01/finrag/types"
	"go.uber.org/zap"
)

// CacheEntry 语义缓存条目, 按会话隔离.
type CacheEntry struct {
	Query          string          `json:"query"`
	Embedding      []float64       `json:"embedding"`
	ConversationID string          `json:"conversation_id"`
	Scope          string          `json:"scope,omitempty"`
	Response       json.RawMessage `json:"response"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CacheStore 语义缓存存储. 实现必须并发安全.
type CacheStore interface {
	Put(ctx context.Context, entry CacheEntry) error
	Entries(ctx context.Context, conversationID string) ([]CacheEntry, error)
}

// ====== 内存存储 ======

// MemoryCacheStore keeps entries in process, bounded per conversation.
type MemoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string][]CacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewMemoryCacheStore creates a store. ttl <= 0 disables expiry.
func NewMemoryCacheStore(ttl time.Duration, maxPerConversation int) *MemoryCacheStore {
	if maxPerConversation <= 0 {
		maxPerConversation = 100
	}
	return &MemoryCacheStore{
		entries: make(map[string][]CacheEntry),
		ttl:     ttl,
		maxSize: maxPerConversation,
		now:     time.Now,
	}
}

// Put implements CacheStore. The oldest entry is evicted when full.
func (s *MemoryCacheStore) Put(_ context.Context, entry CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[entry.ConversationID]
	for i, e := range list {
		if e.Query == entry.Query && e.Scope == entry.Scope {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	list = append(list, entry)
	if len(list) > s.maxSize {
		list = list[len(list)-s.maxSize:]
	}
	s.entries[entry.ConversationID] = list
	return nil
}

// Entries implements CacheStore.
func (s *MemoryCacheStore) Entries(_ context.Context, conversationID string) ([]CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[conversationID]
	out := make([]CacheEntry, 0, len(list))
	now := s.now()
	for _, e := range list {
		if s.ttl > 0 && now.Sub(e.CreatedAt) > s.ttl {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ====== Redis 存储 ======

const semanticCachePrefix = "finrag:semcache:"

// RedisCacheStore 每个会话一个 hash, 字段为范围与问题文本的摘要.
type RedisCacheStore struct {
	manager *cache.Manager
	ttl     time.Duration
}

// NewRedisCacheStore creates a redis backed store.
func NewRedisCacheStore(manager *cache.Manager, ttl time.Duration) *RedisCacheStore {
	return &RedisCacheStore{manager: manager, ttl: ttl}
}

func (s *RedisCacheStore) key(conversationID string) string {
	return semanticCachePrefix + conversationID
}

// Put implements CacheStore.
func (s *RedisCacheStore) Put(ctx context.Context, entry CacheEntry) error {
	sum := sha256.Sum256([]byte(entry.Scope + "\x00" + strings.ToLower(strings.TrimSpace(entry.Query))))
	return s.manager.HSetJSON(ctx, s.key(entry.ConversationID), hex.EncodeToString(sum[:8]), entry, s.ttl)
}

// Entries implements CacheStore. Undecodable fields are skipped.
func (s *RedisCacheStore) Entries(ctx context.Context, conversationID string) ([]CacheEntry, error) {
	vals, err := s.manager.HGetAll(ctx, s.key(conversationID))
	if err != nil {
		return nil, err
	}
	out := make([]CacheEntry, 0, len(vals))
	for _, raw := range vals {
		var e CacheEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ====== 语义缓存 ======

// SemanticCacheConfig 语义缓存配置
type SemanticCacheConfig struct {
	Threshold     float64
	MinTokens     int
	FollowUpTerms []string
}

// CacheHit 命中结果
type CacheHit struct {
	Response   json.RawMessage
	Similarity float64
	Query      string
}

// LookupObserver receives "hit", "miss", "bypass" or "error".
type LookupObserver func(result string)

// SemanticCache 包裹管线入口, 相似问题直接复用已有回答.
type SemanticCache struct {
	store    CacheStore
	embedder embedding.Provider
	cfg      SemanticCacheConfig
	observer LookupObserver
	logger   *zap.Logger
}

// NewSemanticCache creates a cache over store.
func NewSemanticCache(store CacheStore, embedder embedding.Provider, cfg SemanticCacheConfig, logger *zap.Logger) *SemanticCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.90
	}
	if cfg.MinTokens <= 0 {
		cfg.MinTokens = 3
	}
	return &SemanticCache{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "semantic_cache")),
	}
}

// WithObserver registers a lookup observer.
func (c *SemanticCache) WithObserver(o LookupObserver) *SemanticCache {
	c.observer = o
	return c
}

func (c *SemanticCache) observe(result string) {
	if c.observer != nil {
		c.observer(result)
	}
}

// ShouldBypass 过短或纯追问类问题不走缓存.
func (c *SemanticCache) ShouldBypass(query string) bool {
	if len(embedding.Tokenize(query)) < c.cfg.MinTokens {
		return true
	}
	return IsFollowUp(query, c.cfg.FollowUpTerms)
}

// Lookup 在会话内查找同一检索范围 (scope) 下相似度不低于阈值的最佳条目.
// 存储故障记为 CacheUnavailable 并视为未命中.
func (c *SemanticCache) Lookup(ctx context.Context, conversationID, scope, query string) (*CacheHit, bool) {
	if c.ShouldBypass(query) {
		c.observe("bypass")
		return nil, false
	}

	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		c.unavailable("embed query", err)
		return nil, false
	}
	entries, err := c.store.Entries(ctx, conversationID)
	if err != nil {
		c.unavailable("load entries", err)
		return nil, false
	}

	var best *CacheEntry
	bestSim := -1.0
	for i := range entries {
		if entries[i].Scope != scope {
			continue
		}
		sim := CosineSimilarity(vec, entries[i].Embedding)
		if sim > bestSim {
			bestSim = sim
			best = &entries[i]
		}
	}
	if best == nil || bestSim < c.cfg.Threshold {
		c.observe("miss")
		return nil, false
	}

	c.observe("hit")
	c.logger.Debug("semantic cache hit",
		zap.String("conversation_id", conversationID),
		zap.Float64("similarity", bestSim))
	return &CacheHit{Response: best.Response, Similarity: bestSim, Query: best.Query}, true
}

// Store 管线完成后写入. 失败只记录日志.
func (c *SemanticCache) Store(ctx context.Context, conversationID, scope, query string, response any) {
	if c.ShouldBypass(query) {
		return
	}
	raw, err := json.Marshal(response)
	if err != nil {
		c.unavailable("encode response", err)
		return
	}
	vec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		c.unavailable("embed query", err)
		return
	}
	entry := CacheEntry{
		Query:          query,
		Embedding:      vec,
		ConversationID: conversationID,
		Scope:          scope,
		Response:       raw,
		CreatedAt:      time.Now(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.unavailable("store entry", err)
	}
}

func (c *SemanticCache) unavailable(op string, err error) {
	c.observe("error")
	c.logger.Warn("semantic cache unavailable",
		zap.String("op", op),
		zap.String("code", string(types.ErrCacheUnavailable)),
		zap.Error(fmt.Errorf("%s: %w", op, err)))
}

var (
	_ CacheStore = (*MemoryCacheStore)(nil)
	_ CacheStore = (*RedisCacheStore)(nil)
)
