package ingest

import (
	"context"
	"net"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/alert"
	"github.com/han-fei/fleetwatch/collector/internal/models"
	"github.com/han-fei/fleetwatch/collector/internal/snapshot"
	"github.com/han-fei/fleetwatch/collector/internal/storage"
	"github.com/han-fei/fleetwatch/internal/utils"
)

// Service 上报摄入管线
// 顺序固定：校验、登记代理、落指标点、刷新内存快照、告警判定、
// 强制恢复下线告警、对外广播。指标点落库失败中止本次摄入，
// 之后的步骤失败不影响请求结果。
type Service struct {
	store     storage.Store
	snapshots *snapshot.Manager
	alerts    *alert.Engine
	notify    func(*models.Report)
}

// NewService 创建摄入管线，notify 在摄入成功后回调，可为 nil
func NewService(store storage.Store, snapshots *snapshot.Manager, alerts *alert.Engine, notify func(*models.Report)) *Service {
	return &Service{
		store:     store,
		snapshots: snapshots,
		alerts:    alerts,
		notify:    notify,
	}
}

// Ingest 处理一条上报
// observedIP 是传输层看到的对端地址，身份字段缺失时用它补全；
// Kafka 消费路径没有对端地址，传空串
func (s *Service) Ingest(ctx context.Context, report *models.Report, observedIP string) error {
	if report == nil {
		return utils.Validation("空上报")
	}
	now := time.Now()

	// 身份补全与校验
	if report.Hostname == "" {
		if observedIP == "" {
			return utils.Validation("上报缺少主机标识")
		}
		report.Hostname = observedIP
	}
	if report.AgentIP == "" {
		report.AgentIP = observedIP
	}
	if report.AgentIP != "" && net.ParseIP(report.AgentIP) == nil {
		return utils.Validation("上报 IP %q 无效", report.AgentIP)
	}
	if report.Timestamp <= 0 {
		report.Timestamp = now.Unix()
	}

	// 登记代理
	record := &models.AgentRecord{
		Hostname:  report.Hostname,
		AgentIP:   report.AgentIP,
		FirstSeen: now.Unix(),
		LastSeen:  now.Unix(),
	}
	if err := s.store.UpsertAgent(ctx, record); err != nil {
		return utils.Storage("登记代理失败: %v", err)
	}

	// 落指标点，失败中止
	if err := s.store.SaveMetricPoint(ctx, report); err != nil {
		return utils.Storage("写入指标点失败: %v", err)
	}

	// 内存快照
	s.snapshots.Update(report, now)

	// 告警判定，随后强制恢复该主机的下线告警
	s.alerts.EvaluateReport(ctx, report, now)
	s.alerts.ForceResolve(ctx, report.Hostname, models.AlertTypeAgentDown, now)

	if s.notify != nil {
		s.notify(report)
	}
	return nil
}
