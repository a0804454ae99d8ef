package models

// 探测结果状态
const (
	PingStatusSuccess = "success"
	PingStatusTimeout = "timeout"
	PingStatusError   = "error"
)

// Report 一次采集周期的完整上报
type Report struct {
	Hostname    string                 `json:"hostname"`     // 主机名
	AgentIP     string                 `json:"agent_ip"`     // 上报 IP
	Timestamp   int64                  `json:"timestamp"`    // 采集时间(unix 秒)
	IntervalSec float64                `json:"interval_sec"` // 实际周期长度(秒)
	CPU         CPUStats               `json:"cpu"`
	Memory      MemoryStats            `json:"memory"`
	DiskUsage   map[string]DiskUsage   `json:"disk_usage"` // 挂载点 -> 用量
	Network     NetworkStats           `json:"network"`
	DiskIO      map[string]DiskIORates `json:"disk_io"`      // 设备 -> IO 速率
	PeerTraffic map[string]PeerFlow    `json:"peer_traffic"` // src_to_dst -> 流量
	PingResults map[string]PingResult  `json:"ping_results"` // 目标 IP -> 探测结果
}

// CPUStats CPU 使用率
type CPUStats struct {
	Percent float64 `json:"percent"`
}

// MemoryStats 内存使用率
type MemoryStats struct {
	Percent float64 `json:"percent"`
}

// DiskUsage 单挂载点磁盘用量
type DiskUsage struct {
	Percent float64 `json:"percent"`
	FreeGB  float64 `json:"free_gb"`
	TotalGB float64 `json:"total_gb"`
}

// NetworkStats 网络速率汇总与分网卡明细
type NetworkStats struct {
	Total      NetTotals                 `json:"total"`
	Interfaces map[string]InterfaceStats `json:"interfaces"`
}

// NetTotals up 状态网卡的速率合计
type NetTotals struct {
	SentRateMbps float64 `json:"sent_rate_mbps"`
	RecvRateMbps float64 `json:"recv_rate_mbps"`
}

// InterfaceStats 单网卡速率与利用率
type InterfaceStats struct {
	IsUp               bool    `json:"is_up"`
	LinkSpeedMbps      int64   `json:"link_speed_mbps"` // 未知时为 0
	SentRateMbps       float64 `json:"sent_rate_mbps"`
	RecvRateMbps       float64 `json:"recv_rate_mbps"`
	UtilizationPercent float64 `json:"utilization_percent"` // 链路速率未知时为 -1
}

// DiskIORates 单设备磁盘 IO 速率
type DiskIORates struct {
	ReadRateMbps   float64 `json:"read_rate_mbps"`
	WriteRateMbps  float64 `json:"write_rate_mbps"`
	ReadOpsPerSec  float64 `json:"read_ops_per_sec"`
	WriteOpsPerSec float64 `json:"write_ops_per_sec"`
}

// PeerFlow 两台受监控主机间单方向的周期流量
type PeerFlow struct {
	Bytes    int64   `json:"bytes"`
	RateMbps float64 `json:"rate_mbps"`
}

// PingResult 单目标一次探测结果
type PingResult struct {
	Status    string  `json:"status"`               // success | timeout | error
	LatencyMs float64 `json:"latency_ms,omitempty"` // 仅成功时有效
	Timestamp int64   `json:"timestamp"`            // 探测时间(unix 秒)
}
