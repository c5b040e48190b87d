package rag

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/finrag/internal/cache"
	"github.com/BaSui01/finrag/llm/embedding"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cachedAnswer struct {
	Answer string `json:"answer"`
}

func newTestCache(store CacheStore) (*SemanticCache, *[]string) {
	var results []string
	c := NewSemanticCache(store, embedding.NewHashEmbedder(256), SemanticCacheConfig{
		Threshold:     0.90,
		MinTokens:     3,
		FollowUpTerms: []string{"summarize", "elaborate"},
	}, nil).WithObserver(func(r string) { results = append(results, r) })
	return c, &results
}

func TestSemanticCache_HitWithinConversation(t *testing.T) {
	ctx := context.Background()
	c, results := newTestCache(NewMemoryCacheStore(time.Hour, 10))

	q := "What was Apple revenue in fiscal 2023?"
	c.Store(ctx, "conv-1", "", q, cachedAnswer{Answer: "$383.3 billion"})

	hit, ok := c.Lookup(ctx, "conv-1", "", q)
	require.True(t, ok)
	assert.InDelta(t, 1.0, hit.Similarity, 1e-9)

	var got cachedAnswer
	require.NoError(t, json.Unmarshal(hit.Response, &got))
	assert.Equal(t, "$383.3 billion", got.Answer)

	_, ok = c.Lookup(ctx, "conv-2", "", q)
	assert.False(t, ok, "entries are scoped to their conversation")
	assert.Equal(t, []string{"hit", "miss"}, *results)
}

func TestSemanticCache_ScopeMustMatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(NewMemoryCacheStore(time.Hour, 10))

	q := "What was total revenue in fiscal 2023?"
	aapl := "filter=AAPL|override=|mode=single|compare="
	msft := "filter=MSFT|override=|mode=single|compare="
	c.Store(ctx, "conv", aapl, q, cachedAnswer{Answer: "apple"})
	c.Store(ctx, "conv", msft, q, cachedAnswer{Answer: "microsoft"})

	hit, ok := c.Lookup(ctx, "conv", msft, q)
	require.True(t, ok)
	assert.JSONEq(t, `{"answer":"microsoft"}`, string(hit.Response))

	hit, ok = c.Lookup(ctx, "conv", aapl, q)
	require.True(t, ok)
	assert.JSONEq(t, `{"answer":"apple"}`, string(hit.Response))

	_, ok = c.Lookup(ctx, "conv", "", q)
	assert.False(t, ok, "an unscoped query must not reuse a scoped answer")
}

func TestSemanticCache_BelowThresholdMisses(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(NewMemoryCacheStore(time.Hour, 10))
	c.Store(ctx, "conv", "", "What was Apple revenue in fiscal 2023?", cachedAnswer{Answer: "x"})

	_, ok := c.Lookup(ctx, "conv", "", "Describe Microsoft cloud segment risks")
	assert.False(t, ok)
}

func TestSemanticCache_ShortQueriesBypass(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCacheStore(time.Hour, 10)
	c, results := newTestCache(store)

	// 直接写入一条完全相同的条目
	vec, err := embedding.NewHashEmbedder(256).EmbedQuery(ctx, "AAPL revenue")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, CacheEntry{
		Query: "AAPL revenue", Embedding: vec, ConversationID: "conv",
		Response: json.RawMessage(`{"answer":"cached"}`), CreatedAt: time.Now(),
	}))

	_, ok := c.Lookup(ctx, "conv", "", "AAPL revenue")
	assert.False(t, ok)
	assert.Equal(t, []string{"bypass"}, *results)
}

func TestSemanticCache_FollowUpBypass(t *testing.T) {
	c, _ := newTestCache(NewMemoryCacheStore(time.Hour, 10))
	assert.True(t, c.ShouldBypass("Can you summarize the above answer"))
	assert.False(t, c.ShouldBypass("What was Apple revenue in 2023"))
}

type failingStore struct{}

func (failingStore) Put(context.Context, CacheEntry) error { return errors.New("store down") }
func (failingStore) Entries(context.Context, string) ([]CacheEntry, error) {
	return nil, errors.New("store down")
}

func TestSemanticCache_StoreFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	c, results := newTestCache(failingStore{})

	c.Store(ctx, "conv", "", "What was Apple revenue in fiscal 2023?", cachedAnswer{})
	_, ok := c.Lookup(ctx, "conv", "", "What was Apple revenue in fiscal 2023?")
	assert.False(t, ok)
	assert.Equal(t, []string{"error", "error"}, *results)
}

func TestMemoryCacheStore_EvictsAndExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCacheStore(time.Minute, 2)
	now := time.Now()
	s.now = func() time.Time { return now }

	for _, q := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, CacheEntry{Query: q, ConversationID: "conv", CreatedAt: now}))
	}
	entries, err := s.Entries(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Query)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	entries, err = s.Entries(ctx, "conv")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisCacheStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	manager, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	c, _ := newTestCache(NewRedisCacheStore(manager, time.Hour))
	q := "What was Apple revenue in fiscal 2023?"
	c.Store(ctx, "conv-r", "", q, cachedAnswer{Answer: "$383.3 billion"})

	assert.True(t, mr.Exists(semanticCachePrefix+"conv-r"))
	assert.Equal(t, time.Hour, mr.TTL(semanticCachePrefix+"conv-r"))

	hit, ok := c.Lookup(ctx, "conv-r", "", q)
	require.True(t, ok)
	assert.JSONEq(t, `{"answer":"$383.3 billion"}`, string(hit.Response))

	// 同一问题不同范围写入独立字段
	c.Store(ctx, "conv-r", "filter=MSFT|override=|mode=single|compare=", q, cachedAnswer{Answer: "msft"})
	fields, err := mr.HKeys(semanticCachePrefix + "conv-r")
	require.NoError(t, err)
	assert.Len(t, fields, 2)
	_, ok = c.Lookup(ctx, "conv-r", "filter=NVDA|override=|mode=single|compare=", q)
	assert.False(t, ok)
}
