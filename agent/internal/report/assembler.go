package report

import (
	"context"
	"log"
	"time"

	"github.com/han-fei/fleetwatch/agent/internal/models"
	"github.com/han-fei/fleetwatch/agent/internal/peerflow"
	"github.com/han-fei/fleetwatch/agent/internal/probe"
	"github.com/han-fei/fleetwatch/agent/internal/sampler"
	"github.com/han-fei/fleetwatch/agent/internal/transport"
)

// SystemSource 系统采样来源
type SystemSource interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
	DiskUsage() (map[string]models.DiskUsage, error)
	NetCounters() (map[string]sampler.NetCounters, error)
	DiskCounters() (map[string]sampler.DiskCounters, error)
}

// Assembler 把系统采样、速率、对端流量和探测结果组装成 Report 并上报。
// 上报时钟在组装成功时推进，投递失败不回滚(最多一次投递)。
type Assembler struct {
	hostname   string
	agentIP    string
	noiseFloor time.Duration

	system  SystemSource
	rates   *sampler.RateEngine
	flows   *peerflow.Accumulator
	tracker *probe.Tracker
	sender  transport.Reporter

	lastBuild time.Time
}

// NewAssembler 创建上报组装器
func NewAssembler(hostname, agentIP string, noiseFloor time.Duration,
	system SystemSource, rates *sampler.RateEngine,
	flows *peerflow.Accumulator, tracker *probe.Tracker,
	sender transport.Reporter) *Assembler {
	return &Assembler{
		hostname:   hostname,
		agentIP:    agentIP,
		noiseFloor: noiseFloor,
		system:     system,
		rates:      rates,
		flows:      flows,
		tracker:    tracker,
		sender:     sender,
		lastBuild:  time.Now(),
	}
}

// BuildReport 组装一期上报。距上次组装不足噪声地板时整个周期跳过，
// 返回 nil 且不换表不推进任何状态。
func (a *Assembler) BuildReport(now time.Time) *models.Report {
	elapsed := now.Sub(a.lastBuild)
	if elapsed < a.noiseFloor {
		return nil
	}
	intervalSec := elapsed.Seconds()

	rpt := &models.Report{
		Hostname:    a.hostname,
		AgentIP:     a.agentIP,
		Timestamp:   now.Unix(),
		IntervalSec: intervalSec,
		DiskUsage:   map[string]models.DiskUsage{},
		PeerTraffic: map[string]models.PeerFlow{},
		PingResults: map[string]models.PingResult{},
	}

	if pct, err := a.system.CPUPercent(); err != nil {
		log.Printf("采样 CPU 失败: %v", err)
	} else {
		rpt.CPU.Percent = pct
	}
	if pct, err := a.system.MemoryPercent(); err != nil {
		log.Printf("采样内存失败: %v", err)
	} else {
		rpt.Memory.Percent = pct
	}
	if usage, err := a.system.DiskUsage(); err != nil {
		log.Printf("采样磁盘用量失败: %v", err)
	} else {
		rpt.DiskUsage = usage
	}

	nics, err := a.system.NetCounters()
	if err != nil {
		log.Printf("采样网卡计数器失败: %v", err)
		nics = nil
	}
	disks, err := a.system.DiskCounters()
	if err != nil {
		log.Printf("采样磁盘计数器失败: %v", err)
		disks = nil
	}
	network, diskIO, _ := a.rates.Advance(now, nics, disks)
	rpt.Network = network
	rpt.DiskIO = diskIO

	// 换出本周期对端流量并折算速率
	for key, bytes := range a.flows.Drain() {
		rpt.PeerTraffic[key] = models.PeerFlow{
			Bytes:    bytes,
			RateMbps: float64(bytes) * 8 / (intervalSec * 1e6),
		}
	}

	for target, r := range a.tracker.Latest() {
		pr := models.PingResult{Status: r.Status, Timestamp: r.Timestamp.Unix()}
		if r.Status == models.PingStatusSuccess {
			pr.LatencyMs = r.LatencyMs
		}
		rpt.PingResults[target] = pr
	}

	a.lastBuild = now
	return rpt
}

// Tick 组装并上报一期，投递失败记录日志后丢弃
func (a *Assembler) Tick(ctx context.Context, now time.Time) {
	rpt := a.BuildReport(now)
	if rpt == nil {
		return
	}
	if err := a.sender.Send(ctx, rpt); err != nil {
		log.Printf("上报失败(丢弃本周期数据): %v", err)
	}
}

// Run 按固定周期组装上报，直到 ctx 取消
func (a *Assembler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Tick(ctx, time.Now())
		}
	}
}
