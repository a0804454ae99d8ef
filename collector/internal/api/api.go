package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/han-fei/fleetwatch/collector/internal/analysis"
	"github.com/han-fei/fleetwatch/collector/internal/auth"
	"github.com/han-fei/fleetwatch/collector/internal/history"
	"github.com/han-fei/fleetwatch/collector/internal/ingest"
	"github.com/han-fei/fleetwatch/collector/internal/metrics"
	"github.com/han-fei/fleetwatch/collector/internal/models"
	"github.com/han-fei/fleetwatch/collector/internal/snapshot"
	"github.com/han-fei/fleetwatch/collector/internal/storage"
	"github.com/han-fei/fleetwatch/collector/internal/topology"
	"github.com/han-fei/fleetwatch/collector/internal/websocket"
	"github.com/han-fei/fleetwatch/internal/utils"
)

const version = "1.0.0"

// Deps API处理器的依赖集合
type Deps struct {
	Ingest    *ingest.Service
	Store     storage.Store
	Snapshots *snapshot.Manager
	Topology  *topology.Builder
	Summary   *analysis.Summarizer
	Resolver  *history.Resolver
	Metrics   *metrics.Registry
	WS        *websocket.Server
	JWTAuth   *auth.JWTAuth // 为nil时查询接口不鉴权
	Login     *auth.Handler // 为nil时不注册登录路由
	Staleness time.Duration
}

// Handler API处理器
type Handler struct {
	ingest     *ingest.Service
	store      storage.Store
	snapshots  *snapshot.Manager
	topology   *topology.Builder
	summarizer *analysis.Summarizer
	resolver   *history.Resolver
	metrics    *metrics.Registry
	ws         *websocket.Server
	jwtAuth    *auth.JWTAuth
	login      *auth.Handler
	staleness  time.Duration
}

// NewHandler 创建API处理器
func NewHandler(deps Deps) *Handler {
	return &Handler{
		ingest:     deps.Ingest,
		store:      deps.Store,
		snapshots:  deps.Snapshots,
		topology:   deps.Topology,
		summarizer: deps.Summary,
		resolver:   deps.Resolver,
		metrics:    deps.Metrics,
		ws:         deps.WS,
		jwtAuth:    deps.JWTAuth,
		login:      deps.Login,
		staleness:  deps.Staleness,
	}
}

// Router 构建路由。上报、推送、自监控和状态接口不鉴权，
// 查询接口在配置启用时挂JWT中间件。
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/data", h.handleIngest).Methods("POST")

	router.Handle("/api/peers", h.protected(h.handlePeers)).Methods("GET")
	router.Handle("/api/latest", h.protected(h.handleLatest)).Methods("GET")
	router.Handle("/api/history/range", h.protected(h.handleHistoryRange)).Methods("GET")
	router.Handle("/api/alerts", h.protected(h.handleAlerts)).Methods("GET")
	router.Handle("/api/topology", h.protected(h.handleTopology)).Methods("GET")
	router.Handle("/api/summary", h.protected(h.handleSummary)).Methods("GET")

	router.HandleFunc("/api/status", h.handleStatus).Methods("GET")

	if h.login != nil {
		router.HandleFunc("/api/auth/login", h.login.Login).Methods("POST")
		router.HandleFunc("/api/auth/logout", h.login.Logout).Methods("POST")
	}

	router.HandleFunc("/ws", h.ws.HandleWebSocket).Methods("GET")
	router.Handle("/metrics", h.metrics.Handler()).Methods("GET")

	return router
}

func (h *Handler) protected(fn http.HandlerFunc) http.Handler {
	if h.jwtAuth == nil {
		return fn
	}
	return h.jwtAuth.Middleware(fn)
}

// handleIngest 接收一条代理上报
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var report models.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		h.metrics.IngestTotal.WithLabelValues(metrics.SourceHTTP, metrics.OutcomeClientError).Inc()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.ingest.Ingest(r.Context(), &report, remoteIP(r)); err != nil {
		if utils.IsValidation(err) {
			h.metrics.IngestTotal.WithLabelValues(metrics.SourceHTTP, metrics.OutcomeClientError).Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.metrics.IngestTotal.WithLabelValues(metrics.SourceHTTP, metrics.OutcomeServerError).Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.metrics.IngestTotal.WithLabelValues(metrics.SourceHTTP, metrics.OutcomeOK).Inc()
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handlePeers 返回活跃主机的地址目录，代理用它维护对端探测目标
func (h *Handler) handlePeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	seen := make(map[string]bool)
	var peers []string
	for _, state := range h.snapshots.Active(time.Now(), h.staleness) {
		ip := state.Report.AgentIP
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true
		peers = append(peers, ip)
	}
	sort.Strings(peers)
	if peers == nil {
		peers = []string{}
	}

	json.NewEncoder(w).Encode(map[string][]string{"peers": peers})
}

type latestEntry struct {
	Report           *models.Report `json:"report"`
	SecondsSinceSeen int64          `json:"seconds_since_seen"`
	LastSeenHuman    string         `json:"last_seen_human"`
	HasActiveAlert   bool           `json:"has_active_alert"`
	CPURecent        []float64      `json:"cpu_recent"`
}

// handleLatest 每个活跃主机的最新上报加展示辅助字段
func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	alerts, err := h.store.ListAlerts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hasActive := make(map[string]bool)
	for _, state := range alerts {
		if state.IsActive() {
			hasActive[state.Hostname] = true
		}
	}

	now := time.Now()
	entries := make([]*latestEntry, 0)
	for _, state := range h.snapshots.Active(now, h.staleness) {
		seconds := int64(now.Sub(state.LastSeen).Seconds())
		entries = append(entries, &latestEntry{
			Report:           state.Report,
			SecondsSinceSeen: seconds,
			LastSeenHuman:    humanizeSince(seconds),
			HasActiveAlert:   hasActive[state.Hostname],
			CPURecent:        state.CPUTrend,
		})
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"hosts": entries})
}

// handleHistoryRange 多主机多指标路径的历史区间查询，统一时间轴
func (h *Handler) handleHistoryRange(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	query := r.URL.Query()
	hosts := splitParam(query.Get("hosts"))
	if len(hosts) == 0 {
		http.Error(w, "hosts parameter required", http.StatusBadRequest)
		return
	}
	paths := splitParam(query.Get("metrics"))
	if len(paths) == 0 {
		http.Error(w, "metrics parameter required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	start, err := parseUnixParam(query.Get("start"), now.Add(-1*time.Hour).Unix())
	if err != nil {
		http.Error(w, "Invalid start parameter", http.StatusBadRequest)
		return
	}
	end, err := parseUnixParam(query.Get("end"), now.Unix())
	if err != nil {
		http.Error(w, "Invalid end parameter", http.StatusBadRequest)
		return
	}

	reportsByHost := make(map[string][]*models.Report, len(hosts))
	for _, host := range hosts {
		reports, err := h.store.GetMetricRange(r.Context(), host, start, end)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		reportsByHost[host] = reports
	}

	json.NewEncoder(w).Encode(h.resolver.BuildRange(reportsByHost, paths))
}

// handleAlerts 按状态过滤的告警列表
func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.AlertStatusActive
	}
	if status != models.AlertStatusActive && status != models.AlertStatusResolved && status != "all" {
		http.Error(w, "Invalid status parameter", http.StatusBadRequest)
		return
	}

	all, err := h.store.ListAlerts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	filtered := make([]*models.AlertState, 0)
	for _, state := range all {
		if status == "all" || state.Status == status {
			filtered = append(filtered, state)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].LastActive != filtered[j].LastActive {
			return filtered[i].LastActive > filtered[j].LastActive
		}
		return filtered[i].AlertKey < filtered[j].AlertKey
	})

	json.NewEncoder(w).Encode(map[string]interface{}{"alerts": filtered})
}

// handleTopology 当前拓扑快照
func (h *Handler) handleTopology(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.topology.Build(time.Now()))
}

// handleSummary 机群聚合概览
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	summary, err := h.summarizer.Build(r.Context(), time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(summary)
}

// handleStatus 进程自身状态
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	storageStatus := "ok"
	if err := h.store.Health(r.Context()); err != nil {
		storageStatus = "unreachable"
	}

	status := map[string]interface{}{
		"status":       "ok",
		"version":      version,
		"timestamp":    time.Now().Format(time.RFC3339),
		"active_hosts": len(h.snapshots.Active(time.Now(), h.staleness)),
		"ws_clients":   h.ws.ClientCount(),
		"components": map[string]string{
			"storage": storageStatus,
		},
	}

	json.NewEncoder(w).Encode(status)
}

// remoteIP 取请求对端地址的IP部分
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitParam(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseUnixParam(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func humanizeSince(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	default:
		return fmt.Sprintf("%dh ago", seconds/3600)
	}
}
