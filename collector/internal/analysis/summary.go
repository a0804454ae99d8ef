package analysis

import (
	"context"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/models"
	"github.com/han-fei/fleetwatch/collector/internal/snapshot"
	"github.com/han-fei/fleetwatch/internal/utils"
)

// AlertLister 总览只需要告警列表
type AlertLister interface {
	ListAlerts(ctx context.Context) ([]*models.AlertState, error)
}

// Summary 集群总览
type Summary struct {
	GeneratedAt   int64   `json:"generated_at"`
	TotalHosts    int     `json:"total_hosts"`
	ActiveHosts   int     `json:"active_hosts"`
	StaleHosts    int     `json:"stale_hosts"`
	ActiveAlerts  int     `json:"active_alerts"`
	AvgCPUPercent float64 `json:"avg_cpu_percent"` // 活跃主机均值
	AvgMemPercent float64 `json:"avg_mem_percent"` // 活跃主机均值
	TotalSentMbps float64 `json:"total_sent_mbps"` // 活跃主机发送速率合计
	TotalRecvMbps float64 `json:"total_recv_mbps"` // 活跃主机接收速率合计
}

// Summarizer 集群总览聚合器
type Summarizer struct {
	snapshots *snapshot.Manager
	alerts    AlertLister
	staleness time.Duration
}

// NewSummarizer 创建总览聚合器
func NewSummarizer(snapshots *snapshot.Manager, alerts AlertLister, staleness time.Duration) *Summarizer {
	return &Summarizer{
		snapshots: snapshots,
		alerts:    alerts,
		staleness: staleness,
	}
}

// Build 生成当前总览
func (s *Summarizer) Build(ctx context.Context, now time.Time) (*Summary, error) {
	total := s.snapshots.Len()
	active := s.snapshots.Active(now, s.staleness)

	summary := &Summary{
		GeneratedAt: now.Unix(),
		TotalHosts:  total,
		ActiveHosts: len(active),
		StaleHosts:  total - len(active),
	}

	for _, host := range active {
		summary.AvgCPUPercent += host.Report.CPU.Percent
		summary.AvgMemPercent += host.Report.Memory.Percent
		summary.TotalSentMbps += host.Report.Network.Total.SentRateMbps
		summary.TotalRecvMbps += host.Report.Network.Total.RecvRateMbps
	}
	if len(active) > 0 {
		summary.AvgCPUPercent /= float64(len(active))
		summary.AvgMemPercent /= float64(len(active))
	}

	alerts, err := s.alerts.ListAlerts(ctx)
	if err != nil {
		return nil, utils.Storage("读取告警列表失败: %v", err)
	}
	for _, alert := range alerts {
		if alert.IsActive() {
			summary.ActiveAlerts++
		}
	}
	return summary, nil
}
