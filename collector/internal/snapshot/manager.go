package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/models"
	"github.com/han-fei/fleetwatch/pkg/algorithm"
)

// HostState 单主机的最新状态视图
type HostState struct {
	Hostname string
	LastSeen time.Time
	Report   *models.Report
	CPUTrend []float64 // 最近若干周期的CPU使用率
}

type entry struct {
	lastSeen time.Time
	report   *models.Report
	cpuTrend *algorithm.SlidingWindow
}

// Manager 内存中的最新状态表，供查询接口直接读取
type Manager struct {
	mu            sync.RWMutex
	entries       map[string]*entry
	cpuWindowSize int
}

// NewManager 创建最新状态表
func NewManager(cpuWindowSize int) *Manager {
	if cpuWindowSize <= 0 {
		cpuWindowSize = 30
	}
	return &Manager{
		entries:       make(map[string]*entry),
		cpuWindowSize: cpuWindowSize,
	}
}

// Update 用一条上报刷新主机状态
func (m *Manager) Update(report *models.Report, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[report.Hostname]
	if !ok {
		e = &entry{cpuTrend: algorithm.NewSlidingWindow(m.cpuWindowSize, 0)}
		m.entries[report.Hostname] = e
	}
	e.lastSeen = now
	e.report = report
	e.cpuTrend.Add(report.CPU.Percent)
}

// Get 读取单主机状态
func (m *Manager) Get(hostname string) (*HostState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[hostname]
	if !ok {
		return nil, false
	}
	return e.view(hostname), true
}

// All 全部主机状态，按主机名排序
func (m *Manager) All() []*HostState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*HostState, 0, len(m.entries))
	for hostname, e := range m.entries {
		states = append(states, e.view(hostname))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Hostname < states[j].Hostname })
	return states
}

// Active 静默时长内上报过的主机，按主机名排序
func (m *Manager) Active(now time.Time, staleness time.Duration) []*HostState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*HostState, 0, len(m.entries))
	for hostname, e := range m.entries {
		if now.Sub(e.lastSeen) > staleness {
			continue
		}
		states = append(states, e.view(hostname))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Hostname < states[j].Hostname })
	return states
}

// Len 当前主机数
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// view 导出只读视图，调用方持有读锁
func (e *entry) view(hostname string) *HostState {
	return &HostState{
		Hostname: hostname,
		LastSeen: e.lastSeen,
		Report:   e.report,
		CPUTrend: e.cpuTrend.Values(),
	}
}
