// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
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

// Collector 批量生成指标收集器
type Collector struct {
	// 批次指标
	batchesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec

	// 任务槽指标
	tasksTotal *prometheus.CounterVec

	// 上游调用指标
	attemptsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	imagesGenerated *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of dispatched batches",
		},
		[]string{"provider", "outcome"}, // outcome: completed / cancelled
	)

	c.batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch wall-clock duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	c.tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of resolved task slots",
		},
		[]string{"provider", "status"}, // status: success / error
	)

	c.attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of upstream generation attempts",
		},
		[]string{"provider", "code"}, // code: ok or the failure classification
	)

	c.retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retried attempts",
		},
		[]string{"provider"},
	)

	c.imagesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_generated_total",
			Help:      "Total number of successfully generated images",
		},
		[]string{"provider"},
	)

	return c
}

// RecordBatch 记录一个批次的结束
func (c *Collector) RecordBatch(provider, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.batchesTotal.WithLabelValues(provider, outcome).Inc()
	c.batchDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordTask 记录一个任务槽的最终状态
func (c *Collector) RecordTask(provider, status string) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(provider, status).Inc()
}

// RecordAttempt 记录一次上游调用（code 为 "ok" 或失败分类）
func (c *Collector) RecordAttempt(provider, code string) {
	if c == nil {
		return
	}
	c.attemptsTotal.WithLabelValues(provider, code).Inc()
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(provider string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(provider).Inc()
}

// RecordImages 记录成功生成的图像数量
func (c *Collector) RecordImages(provider string, n int) {
	if c == nil {
		return
	}
	c.imagesGenerated.WithLabelValues(provider).Add(float64(n))
}
