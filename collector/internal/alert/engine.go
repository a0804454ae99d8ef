package alert

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/config"
	"github.com/han-fei/fleetwatch/collector/internal/models"
	"github.com/han-fei/fleetwatch/collector/internal/storage"
	"github.com/han-fei/fleetwatch/internal/utils"
)

// Engine 告警引擎
// 每条规则都是幂等覆盖：条件为真刷新活跃行，条件为假且行活跃则恢复。
// 同一告警键的读改写由 KeyMutex 串行化，不同主机互不阻塞。
type Engine struct {
	store  storage.Store
	cfg    config.AlertsConfig
	locks  *utils.KeyMutex
	notify func(*models.AlertState)
}

// NewEngine 创建告警引擎，notify 在状态翻转时回调，可为 nil
func NewEngine(store storage.Store, cfg config.AlertsConfig, notify func(*models.AlertState)) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg,
		locks:  utils.NewKeyMutex(),
		notify: notify,
	}
}

// EvaluateReport 对一条上报运行全部阈值规则
func (e *Engine) EvaluateReport(ctx context.Context, report *models.Report, now time.Time) {
	hostname := report.Hostname

	e.evalThreshold(ctx, hostname, models.AlertTypeCPUHigh, "",
		report.CPU.Percent, e.cfg.CPUThreshold, now)
	e.evalThreshold(ctx, hostname, models.AlertTypeMemHigh, "",
		report.Memory.Percent, e.cfg.MemThreshold, now)

	for mount, usage := range report.DiskUsage {
		e.evalThreshold(ctx, hostname, models.AlertTypeDiskHigh, mount,
			usage.Percent, e.cfg.DiskThreshold, now)
	}

	for name, iface := range report.Network.Interfaces {
		// 链路速率未知(利用率为负)或网卡down时不判定拥塞
		if !iface.IsUp || iface.UtilizationPercent < 0 {
			continue
		}
		e.evalThreshold(ctx, hostname, models.AlertTypeInterfaceChoked, name,
			iface.UtilizationPercent, e.cfg.ChokeThreshold, now)
	}

	for target, result := range report.PingResults {
		e.evalPing(ctx, hostname, target, result, now)
	}
}

// ForceResolve 无条件恢复某主机某类型的告警，用于收到上报时关闭下线告警
func (e *Engine) ForceResolve(ctx context.Context, hostname, alertType string, now time.Time) {
	e.resolveIfActive(ctx, models.MakeAlertKey(hostname, alertType, ""), now)
}

// RaiseAgentDown 下线扫描发现的静默主机
func (e *Engine) RaiseAgentDown(ctx context.Context, hostname string, silentFor time.Duration, now time.Time) {
	message := fmt.Sprintf("主机 %s 已 %.0f 秒无上报", hostname, silentFor.Seconds())
	e.raise(ctx, hostname, models.AlertTypeAgentDown, "",
		silentFor.Seconds(), e.cfg.DownThreshold.Seconds(), message, now)
}

// evalThreshold 通用阈值规则：达到阈值刷新活跃行，低于阈值恢复活跃行
func (e *Engine) evalThreshold(ctx context.Context, hostname, alertType, target string, value, threshold float64, now time.Time) {
	if value >= threshold {
		message := thresholdMessage(alertType, target, value, threshold)
		e.raise(ctx, hostname, alertType, target, value, threshold, message, now)
		return
	}
	e.resolveIfActive(ctx, models.MakeAlertKey(hostname, alertType, target), now)
}

// evalPing 探测结果规则
// ping_fail：最近一次失败，且告警已活跃或失败仍在持续窗口内；成功则恢复。
// high_latency：仅在成功样本上判定，与 ping_fail 互相独立。
func (e *Engine) evalPing(ctx context.Context, hostname, target string, result models.PingResult, now time.Time) {
	failKey := models.MakeAlertKey(hostname, models.AlertTypePingFail, target)

	if result.Status == models.PingStatusSuccess {
		e.resolveIfActive(ctx, failKey, now)
		e.evalThreshold(ctx, hostname, models.AlertTypeHighLatency, target,
			result.LatencyMs, e.cfg.LatencyThresholdMs, now)
		return
	}

	withinWindow := now.Sub(time.Unix(result.Timestamp, 0)) <= e.cfg.PingFailWindow
	existing, err := e.getAlert(ctx, failKey)
	if err != nil {
		return
	}
	if (existing != nil && existing.IsActive()) || withinWindow {
		message := fmt.Sprintf("到 %s 的探测失败(%s)", target, result.Status)
		e.raise(ctx, hostname, models.AlertTypePingFail, target,
			0, 0, message, now)
	}
}

// raise 刷新或新建活跃告警行，重开时保留首次触发时间
func (e *Engine) raise(ctx context.Context, hostname, alertType, target string, value, threshold float64, message string, now time.Time) {
	key := models.MakeAlertKey(hostname, alertType, target)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	existing, err := e.getAlert(ctx, key)
	if err != nil {
		return
	}

	state := &models.AlertState{
		AlertKey:       key,
		Hostname:       hostname,
		AlertType:      alertType,
		SpecificTarget: target,
		Status:         models.AlertStatusActive,
		Message:        message,
		CurrentValue:   value,
		ThresholdValue: threshold,
		FirstTriggered: now.Unix(),
		LastActive:     now.Unix(),
	}
	if existing != nil && existing.FirstTriggered > 0 {
		state.FirstTriggered = existing.FirstTriggered
	}

	if err := e.store.UpsertAlert(ctx, state); err != nil {
		log.Printf("写入告警 %s 失败: %v", key, err)
		return
	}
	// 仅在状态翻转时对外广播
	if existing == nil || !existing.IsActive() {
		log.Printf("告警触发: %s %s", key, message)
		e.emit(state)
	}
}

// resolveIfActive 活跃行恢复，无行或已恢复则不动
func (e *Engine) resolveIfActive(ctx context.Context, key string, now time.Time) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	existing, err := e.getAlert(ctx, key)
	if err != nil {
		return
	}
	if existing == nil || !existing.IsActive() {
		return
	}

	existing.Status = models.AlertStatusResolved
	existing.ResolvedAt = now.Unix()
	if err := e.store.UpsertAlert(ctx, existing); err != nil {
		log.Printf("恢复告警 %s 失败: %v", key, err)
		return
	}
	log.Printf("告警恢复: %s", key)
	e.emit(existing)
}

func (e *Engine) getAlert(ctx context.Context, key string) (*models.AlertState, error) {
	existing, err := e.store.GetAlert(ctx, key)
	if err != nil {
		log.Printf("读取告警 %s 失败: %v", key, err)
		return nil, err
	}
	return existing, nil
}

func (e *Engine) emit(state *models.AlertState) {
	if e.notify != nil {
		e.notify(state)
	}
}

func thresholdMessage(alertType, target string, value, threshold float64) string {
	switch alertType {
	case models.AlertTypeCPUHigh:
		return fmt.Sprintf("CPU使用率 %.1f%% 超过阈值 %.1f%%", value, threshold)
	case models.AlertTypeMemHigh:
		return fmt.Sprintf("内存使用率 %.1f%% 超过阈值 %.1f%%", value, threshold)
	case models.AlertTypeDiskHigh:
		return fmt.Sprintf("挂载点 %s 使用率 %.1f%% 超过阈值 %.1f%%", target, value, threshold)
	case models.AlertTypeInterfaceChoked:
		return fmt.Sprintf("网卡 %s 利用率 %.1f%% 超过阈值 %.1f%%", target, value, threshold)
	case models.AlertTypeHighLatency:
		return fmt.Sprintf("到 %s 的延迟 %.1fms 超过阈值 %.1fms", target, value, threshold)
	default:
		return fmt.Sprintf("%s: %.1f 超过阈值 %.1f", alertType, value, threshold)
	}
}
