package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标，每个实例使用独立的 Registry，便于测试
type Metrics struct {
	registry *prometheus.Registry

	predictions      *prometheus.CounterVec
	predictionErrors *prometheus.CounterVec
	modelLoads       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	activeSessions   prometheus.GaugeFunc
}

// NewMetrics 创建指标收集器。sessions 用于上报当前会话数，可为 nil
func NewMetrics(sessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diapredict",
			Name:      "predictions_total",
			Help:      "Predictions served, by mode and label.",
		}, []string{"mode", "label"}),
		predictionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diapredict",
			Name:      "prediction_errors_total",
			Help:      "Predictions that could not complete, by mode.",
		}, []string{"mode"}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diapredict",
			Name:      "model_loads_total",
			Help:      "Model uploads, by codec and result.",
		}, []string{"codec", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "diapredict",
			Name:      "prediction_duration_seconds",
			Help:      "Time spent in the model per request.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		m.predictions,
		m.predictionErrors,
		m.modelLoads,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if sessions != nil {
		m.activeSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "diapredict",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory.",
		}, func() float64 { return float64(sessions()) })
		m.registry.MustRegister(m.activeSessions)
	}
	return m
}

// ObservePrediction 记录一次成功的预测请求，batch 模式下 labels 为每行结果
func (m *Metrics) ObservePrediction(mode string, labels []int, elapsed time.Duration) {
	for _, label := range labels {
		m.predictions.WithLabelValues(mode, strconv.Itoa(label)).Inc()
	}
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePredictionError(mode string) {
	m.predictionErrors.WithLabelValues(mode).Inc()
}

// ObserveModelLoad 记录模型加载结果，失败时 codec 为 "none"
func (m *Metrics) ObserveModelLoad(codec string, ok bool) {
	if codec == "" {
		codec = "none"
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.modelLoads.WithLabelValues(codec, result).Inc()
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
