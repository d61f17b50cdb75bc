// Package metrics 提供 Prometheus helper，包含 HTTP、命令执行、定时扫描与通知投递指标
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/numbermarket/pkg/logger"
)

const namespace = "numbermarket"

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// gRPC 请求计数
	GRPCRequestsTotal *prometheus.CounterVec

	// 业务命令执行次数（按命令、结果）
	CommandsTotal *prometheus.CounterVec
	// 业务命令耗时
	CommandDuration *prometheus.HistogramVec
	// 乐观锁冲突重试次数
	CommandRetries *prometheus.CounterVec

	// 定时扫描处理条数
	SweepProcessed *prometheus.CounterVec
	// 定时扫描失败条数
	SweepFailures *prometheus.CounterVec

	// 通知投递（按结果）
	NotificationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	serviceName = strings.ReplaceAll(serviceName, "-", "_")
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests",
		}, []string{"method"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "commands_total",
			Help:      "Marketplace commands executed, by outcome",
		}, []string{"command", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "command_duration_seconds",
			Help:      "Marketplace command duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		CommandRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "command_retries_total",
			Help:      "Commands retried after a concurrent modification",
		}, []string{"command"}),
		SweepProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "sweep_processed_total",
			Help:      "Entities processed by periodic sweeps",
		}, []string{"sweep"}),
		SweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "sweep_failures_total",
			Help:      "Entities left untouched by a failing sweep",
		}, []string{"sweep"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "notifications_total",
			Help:      "Notification deliveries, by outcome",
		}, []string{"result"}),
		registry: prometheus.NewRegistry(),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.CommandsTotal,
		m.CommandDuration,
		m.CommandRetries,
		m.SweepProcessed,
		m.SweepFailures,
		m.NotificationsTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	}

	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP 记录 HTTP 请求
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveGRPC 记录 gRPC 请求
func (m *Metrics) ObserveGRPC(method string) {
	m.GRPCRequestsTotal.WithLabelValues(method).Inc()
}

// ObserveCommand 记录一次业务命令
func (m *Metrics) ObserveCommand(command string, d time.Duration, err error) {
	m.CommandsTotal.WithLabelValues(command, resultLabel(err)).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveRetry 记录一次冲突重试
func (m *Metrics) ObserveRetry(command string) {
	m.CommandRetries.WithLabelValues(command).Inc()
}

// ObserveSweep 记录一轮扫描结果
func (m *Metrics) ObserveSweep(sweep string, processed, failed int) {
	m.SweepProcessed.WithLabelValues(sweep).Add(float64(processed))
	m.SweepFailures.WithLabelValues(sweep).Add(float64(failed))
}

// ObserveNotification 记录一次通知投递
func (m *Metrics) ObserveNotification(err error) {
	m.NotificationsTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
