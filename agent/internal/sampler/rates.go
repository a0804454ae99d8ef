package sampler

import (
	"time"

	"github.com/han-fei/fleetwatch/agent/internal/models"
)

// NetCounters 单网卡累计计数器采样
type NetCounters struct {
	BytesSent uint64 // 累计发送字节数
	BytesRecv uint64 // 累计接收字节数
	IsUp      bool   // 网卡是否处于 up 状态
	SpeedMbps int64  // 链路速率，未知为 0
}

// DiskCounters 单设备累计 IO 计数器采样
type DiskCounters struct {
	ReadBytes  uint64 // 累计读字节数
	WriteBytes uint64 // 累计写字节数
	ReadCount  uint64 // 累计读次数
	WriteCount uint64 // 累计写次数
}

// RateEngine 把累计计数器转成周期速率，每个来源保留上一次采样作为基线。
// 某来源首次出现的周期只记录基线，速率为零；计数器回绕或设备重置产生的
// 负增量按零处理。
type RateEngine struct {
	floor    time.Duration
	lastTime time.Time
	lastNet  map[string]NetCounters
	lastDisk map[string]DiskCounters
}

// NewRateEngine 创建速率引擎
func NewRateEngine(floor time.Duration) *RateEngine {
	if floor <= 0 {
		floor = 100 * time.Millisecond
	}
	return &RateEngine{floor: floor}
}

// Advance 记录本次计数器并计算与上次采样之间的速率。
// 距上次调用不足最小间隔时返回 skipped=true，且基线保持不变。
func (e *RateEngine) Advance(now time.Time, nics map[string]NetCounters, disks map[string]DiskCounters) (models.NetworkStats, map[string]models.DiskIORates, bool) {
	stats := models.NetworkStats{Interfaces: make(map[string]models.InterfaceStats)}
	ioRates := make(map[string]models.DiskIORates)

	first := e.lastTime.IsZero()
	var sec float64
	if !first {
		elapsed := now.Sub(e.lastTime)
		if elapsed < e.floor {
			return stats, ioRates, true
		}
		sec = elapsed.Seconds()
	}

	for name, curr := range nics {
		st := models.InterfaceStats{
			IsUp:               curr.IsUp,
			LinkSpeedMbps:      curr.SpeedMbps,
			UtilizationPercent: -1,
		}
		if prev, ok := e.lastNet[name]; ok && !first {
			st.SentRateMbps = bytesToMbps(clampDelta(curr.BytesSent, prev.BytesSent), sec)
			st.RecvRateMbps = bytesToMbps(clampDelta(curr.BytesRecv, prev.BytesRecv), sec)
		}
		if curr.SpeedMbps > 0 {
			peak := st.SentRateMbps
			if st.RecvRateMbps > peak {
				peak = st.RecvRateMbps
			}
			st.UtilizationPercent = peak / float64(curr.SpeedMbps) * 100
		}
		// 只有 up 状态的网卡计入总量，down 网卡仍单独上报
		if curr.IsUp {
			stats.Total.SentRateMbps += st.SentRateMbps
			stats.Total.RecvRateMbps += st.RecvRateMbps
		}
		stats.Interfaces[name] = st
	}

	for dev, curr := range disks {
		var r models.DiskIORates
		if prev, ok := e.lastDisk[dev]; ok && !first {
			r.ReadRateMbps = bytesToMbps(clampDelta(curr.ReadBytes, prev.ReadBytes), sec)
			r.WriteRateMbps = bytesToMbps(clampDelta(curr.WriteBytes, prev.WriteBytes), sec)
			r.ReadOpsPerSec = float64(clampDelta(curr.ReadCount, prev.ReadCount)) / sec
			r.WriteOpsPerSec = float64(clampDelta(curr.WriteCount, prev.WriteCount)) / sec
		}
		ioRates[dev] = r
	}

	e.lastTime = now
	e.lastNet = nics
	e.lastDisk = disks
	return stats, ioRates, false
}

func clampDelta(curr, prev uint64) uint64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}

func bytesToMbps(delta uint64, sec float64) float64 {
	if sec <= 0 {
		return 0
	}
	return float64(delta) * 8 / (sec * 1e6)
}
