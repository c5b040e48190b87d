package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, EmbeddingConfig{}, cfg.Embedding)
	assert.NotEqual(t, IndexConfig{}, cfg.Index)
	assert.NotEqual(t, ElasticsearchConfig{}, cfg.Elasticsearch)
	assert.NotEqual(t, PipelineConfig{}, cfg.Pipeline)
	assert.NotEqual(t, CheckpointConfig{}, cfg.Checkpoint)
	assert.NotEqual(t, ChartConfig{}, cfg.Chart)
	assert.True(t, cfg.WebSearch.Enabled)
	assert.True(t, cfg.Cache.Enabled)
}

// --- Individual Default*Config functions ---

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 1, cfg.MaxReformulations)
	assert.Equal(t, 40, cfg.MaxSteps)
	assert.Equal(t, 20, cfg.GradeBatchSize)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 10, cfg.RegradeDelta)
	assert.Equal(t, 24000, cfg.AnswerCharBudget)
	assert.Equal(t, 12000, cfg.VerifyCharBudget)
}

func TestDefaultIndexConfig(t *testing.T) {
	cfg := DefaultIndexConfig()
	assert.Equal(t, 8, cfg.TopK)
	assert.Equal(t, 20, cfg.DenseTopK)
	assert.Equal(t, 20, cfg.SparseTopK)
	assert.Equal(t, 60, cfg.RRFK)
	assert.Equal(t, "entity_", cfg.CollectionPrefix)
	assert.Less(t, cfg.ChunkOverlap, cfg.ChunkSize)
}

func TestDefaultWebSearchConfig(t *testing.T) {
	cfg := DefaultWebSearchConfig()
	assert.Equal(t, "tavily", cfg.Provider)
	assert.Equal(t, 5, cfg.MaxResults)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Contains(t, cfg.AllowedDomains, "sec.gov")
	assert.Contains(t, cfg.AllowedDomains, "reuters.com")
}

func TestDefaultCacheConfig(t *testing.T) {
	cfg := DefaultCacheConfig()
	assert.Equal(t, "memory", cfg.Backend)
	assert.InDelta(t, 0.90, cfg.SimilarityThreshold, 0.0001)
	assert.Equal(t, 3, cfg.MinTokens)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
	assert.Contains(t, cfg.FollowUpTerms, "summarize")
}

func TestDefaultCheckpointAndChartConfig(t *testing.T) {
	assert.Equal(t, "memory", DefaultCheckpointConfig().Backend)

	chart := DefaultChartConfig()
	assert.Equal(t, 8, chart.MaxMetrics)
	assert.Empty(t, chart.S3Bucket)
	assert.Equal(t, "charts", chart.OutputDir)
}

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}
