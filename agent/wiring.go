package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/agent/chart"
	"github.com/BaSui01/finrag/agent/evaluation"
	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/internal/cache"
	"github.com/BaSui01/finrag/internal/database"
	"github.com/BaSui01/finrag/internal/metrics"
	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/llm/embedding"
	"github.com/BaSui01/finrag/rag"
	"github.com/BaSui01/finrag/rag/websearch"
	"github.com/BaSui01/finrag/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MetricsNamespace prometheus 指标命名空间
const MetricsNamespace = "finrag"

// BuildOptions 控制生产装配.
type BuildOptions struct {
	// Registerer 为空时使用 prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
	// Model 非空时跳过 OpenAI provider, 用于离线运行
	Model llm.Model
	// Embedder 非空时覆盖 cfg.Embedding
	Embedder embedding.Provider
}

// Build 按配置装配完整的容器. 返回的容器必须 Close.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts BuildOptions) (*Container, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	collector := metrics.NewCollectorWithRegisterer(MetricsNamespace, reg, logger)
	c := NewContainer().
		WithLogger(logger).
		WithPipeline(cfg.Pipeline).
		WithFollowUpTerms(cfg.Cache.FollowUpTerms).
		WithMetrics(collector)

	fail := func(err error) (*Container, error) {
		_ = c.Close()
		return nil, err
	}

	// ---- 模型 ----
	model := opts.Model
	if model == nil {
		client, err := newModelClient(cfg.LLM, collector, logger)
		if err != nil {
			return fail(err)
		}
		model = client
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = newEmbedder(cfg.Embedding)
	}

	// ---- Redis (按需) ----
	var redisManager *cache.Manager
	if needsRedis(cfg) {
		m, err := cache.NewManager(cache.ConfigFromRedis(cfg.Redis, cfg.Cache.TTL), logger)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		redisManager = m
		c.OnClose(m.Close)
	}

	// ---- 索引与检索 ----
	sparse, err := newSparseIndex(cfg, logger)
	if err != nil {
		return fail(err)
	}
	registry, err := rag.NewIndexRegistry(rag.RegistryConfigFrom(cfg.Index), embedder, sparse, logger)
	if err != nil {
		return fail(fmt.Errorf("open index registry: %w", err))
	}
	retrieval := rag.RetrievalConfig{
		TopK:        cfg.Index.TopK,
		DenseTopK:   cfg.Index.DenseTopK,
		SparseTopK:  cfg.Index.SparseTopK,
		Concurrency: cfg.Pipeline.Concurrency,
	}

	compactor := answer.NewCompactor(model, answer.CompactionConfigFrom(cfg.Pipeline), logger)
	c.WithRegistry(registry).
		WithAnalyzer(rag.NewQueryAnalyzer(model, logger)).
		WithRetriever(rag.NewHybridRetriever(registry, retrieval, logger)).
		WithGrader(evaluation.NewGrader(model, evaluation.GraderConfigFrom(cfg.Pipeline), logger).
			WithObserver(collector.RecordGrade)).
		WithGapPlanner(evaluation.NewGapAnalyzer(model, logger)).
		WithGenerator(answer.NewGenerator(model, compactor, logger)).
		WithVerifier(answer.NewVerifier(model, compactor, logger)).
		WithReformulator(answer.NewReformulator(model, logger)).
		WithClarifier(answer.NewClarifier(model, logger))

	// ---- 外部搜索 ----
	if cfg.WebSearch.Enabled {
		integrator, err := newIntegrator(cfg.WebSearch, redisManager, collector, logger)
		if err != nil {
			return fail(err)
		}
		c.WithWebSearcher(integrator)
	}

	// ---- 图表 ----
	if cfg.Chart.Enabled {
		charts, err := chart.NewGeneratorFromConfig(ctx, cfg.Chart, logger)
		if err != nil {
			return fail(fmt.Errorf("chart generator: %w", err))
		}
		c.WithCharts(charts)
	}

	// ---- 语义缓存 ----
	if cfg.Cache.Enabled {
		var store rag.CacheStore
		switch strings.ToLower(cfg.Cache.Backend) {
		case "redis":
			store = rag.NewRedisCacheStore(redisManager, cfg.Cache.TTL)
		case "", "memory":
			store = rag.NewMemoryCacheStore(cfg.Cache.TTL, 0)
		default:
			return fail(fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend))
		}
		sc := rag.NewSemanticCache(store, embedder, rag.SemanticCacheConfig{
			Threshold:     cfg.Cache.SimilarityThreshold,
			MinTokens:     cfg.Cache.MinTokens,
			FollowUpTerms: cfg.Cache.FollowUpTerms,
		}, logger).WithObserver(func(result string) {
			collector.RecordCacheLookup("semantic", result)
		})
		c.WithCache(sc)
	}

	// ---- 检查点 ----
	checkpoints, err := newCheckpointStore(cfg, redisManager, c, logger)
	if err != nil {
		return fail(err)
	}
	c.WithCheckpoints(checkpoints)

	if err := c.Validate(); err != nil {
		return fail(err)
	}
	logger.Info("container built",
		zap.Bool("web_search", cfg.WebSearch.Enabled),
		zap.Bool("charts", cfg.Chart.Enabled),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("sparse_backend", cfg.Index.SparseBackend),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
	)
	return c, nil
}

func newModelClient(lc config.LLMConfig, collector *metrics.Collector, logger *zap.Logger) (*llm.StructuredClient, error) {
	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:  lc.APIKey,
		BaseURL: lc.BaseURL,
		Model:   lc.Model,
	}, logger)

	cc := llm.DefaultClientConfig()
	if lc.Model != "" {
		cc.Model = lc.Model
	}
	cc.FastModel = lc.FastModel
	cc.Temperature = float32(lc.Temperature)
	if lc.MaxTokens > 0 {
		cc.MaxTokens = lc.MaxTokens
	}
	if lc.Timeout > 0 {
		cc.Timeout = lc.Timeout
	}

	client, err := llm.NewStructuredClient(provider, cc, logger)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	return client.WithObserver(func(task llm.Task, d time.Duration, err error) {
		collector.RecordLLMCall(string(task), d, err)
	}), nil
}

func newEmbedder(ec config.EmbeddingConfig) embedding.Provider {
	if strings.EqualFold(ec.Provider, "hash") {
		return embedding.NewHashEmbedder(ec.Dimensions)
	}
	return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		APIKey:     ec.APIKey,
		BaseURL:    ec.BaseURL,
		Model:      ec.Model,
		Dimensions: ec.Dimensions,
	})
}

func newSparseIndex(cfg *config.Config, logger *zap.Logger) (rag.SparseIndex, error) {
	switch strings.ToLower(cfg.Index.SparseBackend) {
	case "elasticsearch", "elastic":
		idx, err := rag.NewElasticSparseIndex(cfg.Elasticsearch, logger)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch sparse index: %w", err)
		}
		return idx, nil
	case "", "bm25":
		dir := ""
		if cfg.Index.PersistDir != "" {
			dir = filepath.Join(cfg.Index.PersistDir, "sparse")
		}
		return rag.NewBM25Index(dir, logger), nil
	default:
		return nil, fmt.Errorf("unknown sparse backend %q", cfg.Index.SparseBackend)
	}
}

func newIntegrator(wc config.WebSearchConfig, redisManager *cache.Manager, collector *metrics.Collector, logger *zap.Logger) (*websearch.Integrator, error) {
	var provider websearch.Provider
	switch strings.ToLower(wc.Provider) {
	case "", "tavily":
		provider = websearch.NewTavilyProvider(wc.APIKey, wc.Endpoint, nil)
	default:
		return nil, fmt.Errorf("unknown web search provider %q", wc.Provider)
	}

	var results websearch.ResultCache
	if redisManager != nil {
		results = websearch.NewRedisResultCache(redisManager, wc.CacheTTL, logger)
	} else {
		results = websearch.NewMemoryResultCache(512, wc.CacheTTL)
	}
	return websearch.NewIntegrator(provider, websearch.IntegratorConfigFrom(wc), results, logger).
		WithObserver(collector.RecordWebSearch), nil
}

func newCheckpointStore(cfg *config.Config, redisManager *cache.Manager, c *Container, logger *zap.Logger) (workflow.CheckpointStore, error) {
	ttl := cfg.Checkpoint.TTL
	switch strings.ToLower(cfg.Checkpoint.Backend) {
	case "", "memory":
		return workflow.NewMemoryCheckpointStore(ttl), nil
	case "redis":
		return workflow.NewRedisCheckpointStore(redisManager, ttl, logger), nil
	case "database", "db":
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint database: %w", err)
		}
		c.OnClose(pool.Close)
		store, err := workflow.NewGormCheckpointStore(pool.DB(), ttl, logger)
		if err != nil {
			return nil, fmt.Errorf("checkpoint table: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func needsRedis(cfg *config.Config) bool {
	if cfg.Cache.Enabled && strings.EqualFold(cfg.Cache.Backend, "redis") {
		return true
	}
	return strings.EqualFold(cfg.Checkpoint.Backend, "redis")
}
