package sampler

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestRateEngineBaseline 测试首次采样只建立基线
func TestRateEngineBaseline(t *testing.T) {
	e := NewRateEngine(100 * time.Millisecond)
	base := time.Now()

	stats, io, skipped := e.Advance(base, map[string]NetCounters{
		"eth0": {BytesSent: 5000, BytesRecv: 9000, IsUp: true, SpeedMbps: 1000},
	}, map[string]DiskCounters{
		"sda": {ReadBytes: 1 << 20},
	})

	if skipped {
		t.Fatal("First advance should not be skipped")
	}
	st := stats.Interfaces["eth0"]
	if st.SentRateMbps != 0 || st.RecvRateMbps != 0 {
		t.Errorf("Baseline cycle should report zero rates, got %+v", st)
	}
	if !st.IsUp || st.LinkSpeedMbps != 1000 {
		t.Errorf("Interface status should still be reported, got %+v", st)
	}
	if r := io["sda"]; r.ReadRateMbps != 0 {
		t.Errorf("Baseline disk rates should be zero, got %+v", r)
	}
}

// TestRateEngineRates 测试速率计算
func TestRateEngineRates(t *testing.T) {
	e := NewRateEngine(100 * time.Millisecond)
	base := time.Now()

	e.Advance(base, map[string]NetCounters{
		"eth0": {BytesSent: 0, BytesRecv: 0, IsUp: true, SpeedMbps: 1000},
	}, map[string]DiskCounters{
		"sda": {ReadBytes: 0, WriteBytes: 0, ReadCount: 0, WriteCount: 0},
	})

	// 10 秒内发送 12.5MB = 10 Mbps
	stats, io, skipped := e.Advance(base.Add(10*time.Second), map[string]NetCounters{
		"eth0": {BytesSent: 12500000, BytesRecv: 25000000, IsUp: true, SpeedMbps: 1000},
	}, map[string]DiskCounters{
		"sda": {ReadBytes: 12500000, WriteBytes: 0, ReadCount: 500, WriteCount: 100},
	})

	if skipped {
		t.Fatal("Advance should not be skipped")
	}
	st := stats.Interfaces["eth0"]
	if !almostEqual(st.SentRateMbps, 10) {
		t.Errorf("Expected sent rate 10 Mbps, got %f", st.SentRateMbps)
	}
	if !almostEqual(st.RecvRateMbps, 20) {
		t.Errorf("Expected recv rate 20 Mbps, got %f", st.RecvRateMbps)
	}
	// 利用率取收发中的较大值
	if !almostEqual(st.UtilizationPercent, 2) {
		t.Errorf("Expected utilization 2%%, got %f", st.UtilizationPercent)
	}
	if !almostEqual(stats.Total.SentRateMbps, 10) || !almostEqual(stats.Total.RecvRateMbps, 20) {
		t.Errorf("Unexpected totals: %+v", stats.Total)
	}

	r := io["sda"]
	if !almostEqual(r.ReadRateMbps, 10) {
		t.Errorf("Expected disk read rate 10 Mbps, got %f", r.ReadRateMbps)
	}
	if !almostEqual(r.ReadOpsPerSec, 50) || !almostEqual(r.WriteOpsPerSec, 10) {
		t.Errorf("Unexpected ops rates: %+v", r)
	}
}

// TestRateEngineCounterReset 测试计数器回绕时增量按零处理
func TestRateEngineCounterReset(t *testing.T) {
	e := NewRateEngine(100 * time.Millisecond)
	base := time.Now()

	e.Advance(base, map[string]NetCounters{
		"eth0": {BytesSent: 1000000, IsUp: true},
	}, nil)

	stats, _, _ := e.Advance(base.Add(10*time.Second), map[string]NetCounters{
		"eth0": {BytesSent: 500, IsUp: true}, // 计数器被重置
	}, nil)

	if st := stats.Interfaces["eth0"]; st.SentRateMbps != 0 {
		t.Errorf("Reset counter should yield zero rate, got %f", st.SentRateMbps)
	}
}

// TestRateEngineFloorSkip 测试间隔过短时跳过且不推进基线
func TestRateEngineFloorSkip(t *testing.T) {
	e := NewRateEngine(100 * time.Millisecond)
	base := time.Now()

	e.Advance(base, map[string]NetCounters{
		"eth0": {BytesSent: 1000, IsUp: true},
	}, nil)

	_, _, skipped := e.Advance(base.Add(50*time.Millisecond), map[string]NetCounters{
		"eth0": {BytesSent: 99999999, IsUp: true},
	}, nil)
	if !skipped {
		t.Fatal("Advance within floor should be skipped")
	}

	// 基线仍是第一次的计数：12.5MB / 10s = 10 Mbps
	stats, _, skipped := e.Advance(base.Add(10*time.Second), map[string]NetCounters{
		"eth0": {BytesSent: 1000 + 12500000, IsUp: true},
	}, nil)
	if skipped {
		t.Fatal("Advance past floor should not be skipped")
	}
	if st := stats.Interfaces["eth0"]; !almostEqual(st.SentRateMbps, 10) {
		t.Errorf("Baseline should be unchanged by skipped cycle, got %f Mbps", st.SentRateMbps)
	}
}

// TestRateEngineUnknownSpeed 测试链路速率未知时的哨兵值
func TestRateEngineUnknownSpeed(t *testing.T) {
	e := NewRateEngine(100 * time.Millisecond)
	base := time.Now()

	e.Advance(base, map[string]NetCounters{"wg0": {BytesSent: 0, IsUp: true}}, nil)
	stats, _, _ := e.Advance(base.Add(time.Second), map[string]NetCounters{
		"wg0": {BytesSent: 1000, IsUp: true, SpeedMbps: 0},
	}, nil)

	if st := stats.Interfaces["wg0"]; st.UtilizationPercent != -1 {
		t.Errorf("Unknown link speed should report -1 utilization, got %f", st.UtilizationPercent)
	}
}

// TestRateEngineDownInterface 测试 down 网卡不计入总量但仍单独上报
func TestRateEngineDownInterface(t *testing.T) {
	e := NewRateEngine(100 * time.Millisecond)
	base := time.Now()

	e.Advance(base, map[string]NetCounters{
		"eth0": {BytesSent: 0, IsUp: true},
		"eth1": {BytesSent: 0, IsUp: false},
	}, nil)
	stats, _, _ := e.Advance(base.Add(time.Second), map[string]NetCounters{
		"eth0": {BytesSent: 125000, IsUp: true},  // 1 Mbps
		"eth1": {BytesSent: 250000, IsUp: false}, // 2 Mbps，不计入总量
	}, nil)

	if !almostEqual(stats.Total.SentRateMbps, 1) {
		t.Errorf("Down interface should not contribute to totals, got %f", stats.Total.SentRateMbps)
	}
	st, ok := stats.Interfaces["eth1"]
	if !ok {
		t.Fatal("Down interface should still be reported individually")
	}
	if st.IsUp {
		t.Error("eth1 should be reported as down")
	}
	if !almostEqual(st.SentRateMbps, 2) {
		t.Errorf("Down interface keeps its own rate, got %f", st.SentRateMbps)
	}
}

// TestRateEngineVanishedSource 测试消失的来源不再出现在输出中
func TestRateEngineVanishedSource(t *testing.T) {
	e := NewRateEngine(100 * time.Millisecond)
	base := time.Now()

	e.Advance(base, map[string]NetCounters{
		"eth0": {BytesSent: 0, IsUp: true},
		"eth1": {BytesSent: 0, IsUp: true},
	}, nil)
	stats, _, _ := e.Advance(base.Add(time.Second), map[string]NetCounters{
		"eth0": {BytesSent: 1000, IsUp: true},
	}, nil)

	if _, ok := stats.Interfaces["eth1"]; ok {
		t.Error("Vanished interface should not be reported")
	}
}

// TestSkipInterface 测试虚拟网卡过滤
func TestSkipInterface(t *testing.T) {
	skip := []string{"lo", "docker0", "veth12ab", "br-9f2c", "VMnet1", "Loopback Pseudo-Interface 1"}
	for _, name := range skip {
		if !skipInterface(name) {
			t.Errorf("Interface %s should be skipped", name)
		}
	}
	keep := []string{"eth0", "ens160", "wlan0", "bond0"}
	for _, name := range keep {
		if skipInterface(name) {
			t.Errorf("Interface %s should not be skipped", name)
		}
	}
}
