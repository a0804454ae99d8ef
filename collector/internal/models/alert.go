package models

import "strings"

// 告警状态
const (
	AlertStatusActive   = "active"
	AlertStatusResolved = "resolved"
)

// 告警类型
const (
	AlertTypeCPUHigh         = "cpu_high"
	AlertTypeMemHigh         = "mem_high"
	AlertTypeDiskHigh        = "disk_high"
	AlertTypeInterfaceChoked = "interface_choked"
	AlertTypePingFail        = "ping_fail"
	AlertTypeHighLatency     = "high_latency"
	AlertTypeAgentDown       = "agent_down"
)

// AlertState 单条告警的当前状态，按告警键幂等覆盖
type AlertState struct {
	AlertKey       string  `json:"alert_key"`
	Hostname       string  `json:"hostname"`
	AlertType      string  `json:"alert_type"`
	SpecificTarget string  `json:"specific_target,omitempty"` // 挂载点/网卡/探测目标
	Status         string  `json:"status"`                    // active | resolved
	Message        string  `json:"message"`
	CurrentValue   float64 `json:"current_value"`
	ThresholdValue float64 `json:"threshold_value"`
	FirstTriggered int64   `json:"first_triggered"` // 首次触发(unix 秒)，重开时保留
	LastActive     int64   `json:"last_active"`     // 最近一次判定为真(unix 秒)
	ResolvedAt     int64   `json:"resolved_at"`     // 恢复时间(unix 秒)，活跃时为 0
}

// IsActive 告警是否处于活跃状态
func (a *AlertState) IsActive() bool {
	return a.Status == AlertStatusActive
}

// MakeAlertKey 构造告警键 <hostname>_<type>[_<target>]，
// 子目标中的 / . : 统一替换为下划线
func MakeAlertKey(hostname, alertType, target string) string {
	key := hostname + "_" + alertType
	if target != "" {
		key += "_" + sanitizeTarget(target)
	}
	return key
}

func sanitizeTarget(target string) string {
	r := strings.NewReplacer("/", "_", ".", "_", ":", "_")
	return r.Replace(target)
}
