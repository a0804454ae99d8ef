package sampler

import (
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/han-fei/fleetwatch/agent/internal/models"
)

// SystemSampler 通过 gopsutil 读取系统指标
type SystemSampler struct{}

// NewSystemSampler 创建系统采样器
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{}
}

// CPUPercent 整机 CPU 使用率，基于距上次调用的时间片
func (s *SystemSampler) CPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// MemoryPercent 内存使用率
func (s *SystemSampler) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// DiskUsage 物理分区用量，单分区读取失败时跳过该分区
func (s *SystemSampler) DiskUsage() (map[string]models.DiskUsage, error) {
	parts, err := disk.Partitions(false)
	if err != nil {
		return nil, err
	}
	usage := make(map[string]models.DiskUsage, len(parts))
	for _, p := range parts {
		u, err := disk.Usage(p.Mountpoint)
		if err != nil || u.Total == 0 {
			continue
		}
		usage[p.Mountpoint] = models.DiskUsage{
			Percent: u.UsedPercent,
			FreeGB:  float64(u.Free) / (1 << 30),
			TotalGB: float64(u.Total) / (1 << 30),
		}
	}
	return usage, nil
}

// NetCounters 每网卡累计计数器，过滤回环与虚拟网卡
func (s *SystemSampler) NetCounters() (map[string]NetCounters, error) {
	counters, err := psnet.IOCounters(true)
	if err != nil {
		return nil, err
	}
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, err
	}
	up := make(map[string]bool, len(ifaces))
	for _, it := range ifaces {
		for _, f := range it.Flags {
			if f == "up" {
				up[it.Name] = true
				break
			}
		}
	}

	result := make(map[string]NetCounters, len(counters))
	for _, c := range counters {
		if skipInterface(c.Name) {
			continue
		}
		result[c.Name] = NetCounters{
			BytesSent: c.BytesSent,
			BytesRecv: c.BytesRecv,
			IsUp:      up[c.Name],
			SpeedMbps: linkSpeedMbps(c.Name),
		}
	}
	return result, nil
}

// DiskCounters 每物理设备累计 IO 计数器
func (s *SystemSampler) DiskCounters() (map[string]DiskCounters, error) {
	counters, err := disk.IOCounters()
	if err != nil {
		return nil, err
	}
	result := make(map[string]DiskCounters, len(counters))
	for name, c := range counters {
		result[name] = DiskCounters{
			ReadBytes:  c.ReadBytes,
			WriteBytes: c.WriteBytes,
			ReadCount:  c.ReadCount,
			WriteCount: c.WriteCount,
		}
	}
	return result, nil
}

// skipInterface 过滤回环和常见虚拟网卡
func skipInterface(name string) bool {
	lname := strings.ToLower(name)
	if lname == "lo" {
		return true
	}
	for _, kw := range []string{"loopback", "pseudo", "vmnet", "virtual"} {
		if strings.Contains(lname, kw) {
			return true
		}
	}
	for _, prefix := range []string{"veth", "docker", "br-"} {
		if strings.HasPrefix(lname, prefix) {
			return true
		}
	}
	return false
}

// linkSpeedMbps 从 /sys/class/net 读取链路速率，读不到返回 0
func linkSpeedMbps(name string) int64 {
	data, err := os.ReadFile("/sys/class/net/" + name + "/speed")
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
