package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 摄入结果标签值
const (
	OutcomeOK          = "ok"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"

	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Registry 汇聚端自身的运行指标
type Registry struct {
	registry *prometheus.Registry

	IngestTotal      *prometheus.CounterVec
	AlertTransitions *prometheus.CounterVec
	ActiveHosts      prometheus.Gauge
	WSClients        prometheus.Gauge
}

// NewRegistry 创建独立注册器，不带Go运行时默认指标
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	return &Registry{
		registry: reg,
		IngestTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "ingest_reports_total",
			Help:      "按来源与结果统计的上报摄入次数",
		}, []string{"source", "outcome"}),
		AlertTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "alert_transitions_total",
			Help:      "告警状态翻转次数",
		}, []string{"status"}),
		ActiveHosts: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch",
			Name:      "active_hosts",
			Help:      "静默期内上报过的主机数",
		}),
		WSClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch",
			Name:      "websocket_clients",
			Help:      "当前WebSocket连接数",
		}),
	}
}

// Handler /metrics 的HTTP处理器
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
