// =============================================================================
// 📦 finrag 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("finrag.yaml").
//	    WithEnvPrefix("FINRAG").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 finrag 的完整配置结构
type Config struct {
	Log           LogConfig           `yaml:"log" env:"LOG"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" env:"TELEMETRY"`
	Redis         RedisConfig         `yaml:"redis" env:"REDIS"`
	Database      DatabaseConfig      `yaml:"database" env:"DATABASE"`
	LLM           LLMConfig           `yaml:"llm" env:"LLM"`
	Embedding     EmbeddingConfig     `yaml:"embedding" env:"EMBEDDING"`
	Index         IndexConfig         `yaml:"index" env:"INDEX"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" env:"ELASTICSEARCH"`
	WebSearch     WebSearchConfig     `yaml:"web_search" env:"WEB_SEARCH"`
	Pipeline      PipelineConfig      `yaml:"pipeline" env:"PIPELINE"`
	Cache         CacheConfig         `yaml:"cache" env:"CACHE"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint" env:"CHECKPOINT"`
	Chart         ChartConfig         `yaml:"chart" env:"CHART"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置 (检查点持久化)
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig 语言模型服务配置
type LLMConfig struct {
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Model       string        `yaml:"model" env:"MODEL"`
	FastModel   string        `yaml:"fast_model" env:"FAST_MODEL"` // structured classification calls
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries  int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	// 提供者: openai, hash
	Provider   string `yaml:"provider" env:"PROVIDER"`
	Model      string `yaml:"model" env:"MODEL"`
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"`
}

// IndexConfig 每实体文档索引配置
type IndexConfig struct {
	// 持久化目录, 为空时仅内存
	PersistDir       string `yaml:"persist_dir" env:"PERSIST_DIR"`
	Compress         bool   `yaml:"compress" env:"COMPRESS"`
	CollectionPrefix string `yaml:"collection_prefix" env:"COLLECTION_PREFIX"`
	HandleCacheSize  int    `yaml:"handle_cache_size" env:"HANDLE_CACHE_SIZE"`
	// 稀疏检索后端: bm25, elasticsearch
	SparseBackend string `yaml:"sparse_backend" env:"SPARSE_BACKEND"`
	TopK          int    `yaml:"top_k" env:"TOP_K"`
	DenseTopK     int    `yaml:"dense_top_k" env:"DENSE_TOP_K"`
	SparseTopK    int    `yaml:"sparse_top_k" env:"SPARSE_TOP_K"`
	RRFK          int    `yaml:"rrf_k" env:"RRF_K"`
	ChunkSize     int    `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap  int    `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
}

// ElasticsearchConfig 稀疏检索 Elasticsearch 后端配置
type ElasticsearchConfig struct {
	Addresses   []string `yaml:"addresses" env:"ADDRESSES"`
	Username    string   `yaml:"username" env:"USERNAME"`
	Password    string   `yaml:"password" env:"PASSWORD"`
	IndexPrefix string   `yaml:"index_prefix" env:"INDEX_PREFIX"`
}

// WebSearchConfig 外部搜索配置
type WebSearchConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	Provider       string        `yaml:"provider" env:"PROVIDER"`
	APIKey         string        `yaml:"api_key" env:"API_KEY"`
	Endpoint       string        `yaml:"endpoint" env:"ENDPOINT"`
	AllowedDomains []string      `yaml:"allowed_domains" env:"ALLOWED_DOMAINS"`
	MaxResults     int           `yaml:"max_results" env:"MAX_RESULTS"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Concurrency    int           `yaml:"concurrency" env:"CONCURRENCY"`
	RateLimit      float64       `yaml:"rate_limit" env:"RATE_LIMIT"` // requests per second
	CacheTTL       time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// PipelineConfig 编排管线参数
type PipelineConfig struct {
	MaxRetries         int `yaml:"max_retries" env:"MAX_RETRIES"`
	MaxReformulations  int `yaml:"max_reformulations" env:"MAX_REFORMULATIONS"`
	MaxSteps           int `yaml:"max_steps" env:"MAX_STEPS"`
	GradeBatchSize     int `yaml:"grade_batch_size" env:"GRADE_BATCH_SIZE"`
	Concurrency        int `yaml:"concurrency" env:"CONCURRENCY"`
	RegradeDelta       int `yaml:"regrade_delta" env:"REGRADE_DELTA"`
	AnswerCharBudget   int `yaml:"answer_char_budget" env:"ANSWER_CHAR_BUDGET"`
	VerifyCharBudget   int `yaml:"verify_char_budget" env:"VERIFY_CHAR_BUDGET"`
	SmallItemChars     int `yaml:"small_item_chars" env:"SMALL_ITEM_CHARS"`
	OversizedItemChars int `yaml:"oversized_item_chars" env:"OVERSIZED_ITEM_CHARS"`
}

// CacheConfig 语义响应缓存配置
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled" env:"ENABLED"`
	Backend             string        `yaml:"backend" env:"BACKEND"` // memory, redis
	SimilarityThreshold float64       `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	MinTokens           int           `yaml:"min_tokens" env:"MIN_TOKENS"`
	TTL                 time.Duration `yaml:"ttl" env:"TTL"`
	FollowUpTerms       []string      `yaml:"follow_up_terms" env:"FOLLOW_UP_TERMS"`
}

// CheckpointConfig 挂起状态持久化配置
type CheckpointConfig struct {
	Backend string        `yaml:"backend" env:"BACKEND"` // memory, redis, database
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

// ChartConfig 图表生成配置
type ChartConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	MaxMetrics int    `yaml:"max_metrics" env:"MAX_METRICS"`
	OutputDir  string `yaml:"output_dir" env:"OUTPUT_DIR"`
	S3Bucket   string `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Prefix   string `yaml:"s3_prefix" env:"S3_PREFIX"`
	S3Region   string `yaml:"s3_region" env:"S3_REGION"`
	S3Endpoint string `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	PublicURL  string `yaml:"public_url" env:"PUBLIC_URL"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FINRAG",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置, 文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段, 键名为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 按字段类型解析字符串值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Pipeline.MaxRetries < 0 {
		errs = append(errs, "pipeline.max_retries must not be negative")
	}
	if c.Pipeline.GradeBatchSize <= 0 {
		errs = append(errs, "pipeline.grade_batch_size must be positive")
	}
	if c.Pipeline.Concurrency <= 0 {
		errs = append(errs, "pipeline.concurrency must be positive")
	}
	if c.Pipeline.MaxSteps <= 0 {
		errs = append(errs, "pipeline.max_steps must be positive")
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		errs = append(errs, "cache.similarity_threshold must be in (0, 1]")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if c.Index.RRFK <= 0 {
		errs = append(errs, "index.rrf_k must be positive")
	}
	switch c.Index.SparseBackend {
	case "bm25":
	case "elasticsearch":
		if len(c.Elasticsearch.Addresses) == 0 {
			errs = append(errs, "elasticsearch.addresses required for elasticsearch sparse backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown index.sparse_backend %q", c.Index.SparseBackend))
	}
	switch c.Checkpoint.Backend {
	case "memory", "redis", "database":
	default:
		errs = append(errs, fmt.Sprintf("unknown checkpoint.backend %q", c.Checkpoint.Backend))
	}
	if c.Chart.MaxMetrics <= 0 {
		errs = append(errs, "chart.max_metrics must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
