// =============================================================================
// 📦 finrag 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
		Redis:         DefaultRedisConfig(),
		Database:      DefaultDatabaseConfig(),
		LLM:           DefaultLLMConfig(),
		Embedding:     DefaultEmbeddingConfig(),
		Index:         DefaultIndexConfig(),
		Elasticsearch: DefaultElasticsearchConfig(),
		WebSearch:     DefaultWebSearchConfig(),
		Pipeline:      DefaultPipelineConfig(),
		Cache:         DefaultCacheConfig(),
		Checkpoint:    DefaultCheckpointConfig(),
		Chart:         DefaultChartConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "finrag",
		SampleRate:   0.1,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "finrag",
		Name:            "finrag.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:       "gpt-4o",
		FastModel:   "gpt-4o-mini",
		Temperature: 0.1,
		MaxTokens:   4096,
		Timeout:     60 * time.Second,
		MaxRetries:  1,
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "openai",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
	}
}

// DefaultIndexConfig 返回默认索引配置
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		CollectionPrefix: "entity_",
		HandleCacheSize:  256,
		SparseBackend:    "bm25",
		TopK:             8,
		DenseTopK:        20,
		SparseTopK:       20,
		RRFK:             60,
		ChunkSize:        1200,
		ChunkOverlap:     150,
	}
}

// DefaultElasticsearchConfig 返回默认 Elasticsearch 配置
func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		IndexPrefix: "finrag-",
	}
}

// DefaultWebSearchConfig 返回默认外部搜索配置
func DefaultWebSearchConfig() WebSearchConfig {
	return WebSearchConfig{
		Enabled:  true,
		Provider: "tavily",
		Endpoint: "https://api.tavily.com/search",
		AllowedDomains: []string{
			"sec.gov", "investor.gov", "reuters.com", "bloomberg.com",
			"wsj.com", "ft.com", "cnbc.com", "marketwatch.com",
			"finance.yahoo.com", "morningstar.com", "macrotrends.net",
		},
		MaxResults:  5,
		Timeout:     15 * time.Second,
		Concurrency: 5,
		RateLimit:   5,
		CacheTTL:    30 * time.Minute,
	}
}

// DefaultPipelineConfig 返回默认管线参数
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxRetries:         2,
		MaxReformulations:  1,
		MaxSteps:           40,
		GradeBatchSize:     20,
		Concurrency:        5,
		RegradeDelta:       10,
		AnswerCharBudget:   24000,
		VerifyCharBudget:   12000,
		SmallItemChars:     1500,
		OversizedItemChars: 4000,
	}
}

// DefaultCacheConfig 返回默认语义缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:             true,
		Backend:             "memory",
		SimilarityThreshold: 0.90,
		MinTokens:           3,
		TTL:                 24 * time.Hour,
		FollowUpTerms: []string{
			"summarize", "summarise", "elaborate", "continue",
			"expand", "more detail", "tell me more", "go on",
		},
	}
}

// DefaultCheckpointConfig 返回默认检查点配置
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend: "memory",
		TTL:     24 * time.Hour,
	}
}

// DefaultChartConfig 返回默认图表配置
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Enabled:    true,
		MaxMetrics: 8,
		OutputDir:  "charts",
		S3Prefix:   "charts/",
		S3Region:   "us-east-1",
	}
}
