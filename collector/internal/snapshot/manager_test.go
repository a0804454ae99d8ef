package snapshot

import (
	"fmt"
	"testing"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/models"
)

func report(hostname string, cpu float64) *models.Report {
	return &models.Report{
		Hostname: hostname,
		AgentIP:  "10.0.0.1",
		CPU:      models.CPUStats{Percent: cpu},
	}
}

func TestManagerUpdateAndGet(t *testing.T) {
	m := NewManager(5)
	now := time.Now()

	m.Update(report("web-1", 10), now)
	m.Update(report("web-1", 20), now.Add(10*time.Second))

	state, ok := m.Get("web-1")
	if !ok {
		t.Fatal("expected host state")
	}
	if state.Report.CPU.Percent != 20 {
		t.Errorf("expected latest report, got cpu %f", state.Report.CPU.Percent)
	}
	if !state.LastSeen.Equal(now.Add(10 * time.Second)) {
		t.Errorf("last seen not refreshed: %v", state.LastSeen)
	}
	// CPU走势按时间顺序累积
	if len(state.CPUTrend) != 2 || state.CPUTrend[0] != 10 || state.CPUTrend[1] != 20 {
		t.Errorf("unexpected cpu trend: %v", state.CPUTrend)
	}

	if _, ok := m.Get("no-such-host"); ok {
		t.Error("expected miss for unknown host")
	}
}

func TestManagerCPUTrendBounded(t *testing.T) {
	m := NewManager(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		m.Update(report("web-1", float64(i)), now)
	}

	state, _ := m.Get("web-1")
	if len(state.CPUTrend) != 3 {
		t.Fatalf("expected window of 3, got %d", len(state.CPUTrend))
	}
	// 只保留最近3个值
	if state.CPUTrend[0] != 2 || state.CPUTrend[2] != 4 {
		t.Errorf("unexpected trend values: %v", state.CPUTrend)
	}
}

func TestManagerActiveFiltersStale(t *testing.T) {
	m := NewManager(5)
	base := time.Now()

	m.Update(report("fresh-1", 1), base)
	m.Update(report("fresh-2", 2), base.Add(-30*time.Second))
	m.Update(report("stale-1", 3), base.Add(-5*time.Minute))

	active := m.Active(base, 120*time.Second)
	if len(active) != 2 {
		t.Fatalf("expected 2 active hosts, got %d", len(active))
	}
	// 按主机名排序
	if active[0].Hostname != "fresh-1" || active[1].Hostname != "fresh-2" {
		t.Errorf("unexpected active set: %s %s", active[0].Hostname, active[1].Hostname)
	}

	all := m.All()
	if len(all) != 3 {
		t.Errorf("expected 3 total hosts, got %d", len(all))
	}
}

func TestManagerConcurrentUpdates(t *testing.T) {
	m := NewManager(10)
	done := make(chan struct{})

	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				hostname := fmt.Sprintf("host-%d", g)
				m.Update(report(hostname, float64(i)), time.Now())
				m.All()
			}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	if m.Len() != 4 {
		t.Errorf("expected 4 hosts, got %d", m.Len())
	}
}
