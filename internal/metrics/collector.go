package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 工作流指标
	workflowRuns        *prometheus.CounterVec
	workflowDuration    *prometheus.HistogramVec
	stepDuration        *prometheus.HistogramVec
	stateTransitions    *prometheus.CounterVec
	verificationRetries prometheus.Counter

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	// 检索指标
	retrievalDocuments *prometheus.HistogramVec
	missingCollections prometheus.Counter
	webSearches        *prometheus.CounterVec
	grades             *prometheus.CounterVec

	// 缓存指标
	cacheLookups *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器. 同一 registerer 上的 namespace 只能注册一次.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer registers the collector's vectors on reg.
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.workflowRuns = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs by outcome",
		},
		[]string{"outcome"}, // answered, insufficient_data, clarification, cached, failed
	)

	c.workflowDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "End-to-end workflow duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	c.stepDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step", "status"},
	)

	c.stateTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Total number of state machine transitions",
		},
		[]string{"from", "to"},
	)

	c.verificationRetries = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_retries_total",
			Help:      "Total number of answer regenerations after failed grounding",
		},
	)

	c.llmRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"task", "status"},
	)

	c.llmRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"task"},
	)

	c.retrievalDocuments = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_documents",
			Help:      "Evidence chunks returned per retrieval",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200},
		},
		[]string{"source"},
	)

	c.missingCollections = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_missing_collections_total",
			Help:      "Entities whose collection did not exist at query time",
		},
	)

	c.webSearches = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_searches_total",
			Help:      "Total number of web search calls",
		},
		[]string{"status"},
	)

	c.grades = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grades_total",
			Help:      "Evidence grades by level and mode",
		},
		[]string{"level", "mode"}, // mode: model, heuristic, cached, empty
	)

	c.cacheLookups = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Semantic cache lookups by result",
		},
		[]string{"cache_type", "result"}, // result: hit, miss, bypass, error
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RecordWorkflow 记录一次工作流运行
func (c *Collector) RecordWorkflow(outcome string, duration time.Duration) {
	c.workflowRuns.WithLabelValues(outcome).Inc()
	c.workflowDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStep 记录单步耗时
func (c *Collector) RecordStep(step string, duration time.Duration, err error) {
	c.stepDuration.WithLabelValues(step, status(err)).Observe(duration.Seconds())
}

// RecordTransition 记录状态转换
func (c *Collector) RecordTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordVerificationRetry 记录一次生成重试
func (c *Collector) RecordVerificationRetry() {
	c.verificationRetries.Inc()
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMCall 记录一次模型调用
func (c *Collector) RecordLLMCall(task string, duration time.Duration, err error) {
	c.llmRequestsTotal.WithLabelValues(task, status(err)).Inc()
	c.llmRequestDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// =============================================================================
// 🔎 检索指标记录
// =============================================================================

// RecordRetrieval 记录检索返回的证据数量
func (c *Collector) RecordRetrieval(source string, documents int, missingCollections int) {
	c.retrievalDocuments.WithLabelValues(source).Observe(float64(documents))
	if missingCollections > 0 {
		c.missingCollections.Add(float64(missingCollections))
	}
}

// RecordWebSearch 记录一次外部搜索
func (c *Collector) RecordWebSearch(err error) {
	c.webSearches.WithLabelValues(status(err)).Inc()
}

// RecordGrade 记录评分结果
func (c *Collector) RecordGrade(level, mode string) {
	c.grades.WithLabelValues(level, mode).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheLookup 记录缓存查询结果
func (c *Collector) RecordCacheLookup(cacheType, result string) {
	c.cacheLookups.WithLabelValues(cacheType, result).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
