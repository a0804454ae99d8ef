package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/models"
)

// newTestStorage 连接本地Redis，不可用时返回nil
func newTestStorage(t *testing.T) *RedisStorage {
	s, err := NewRedisStorage(RedisConfig{
		Addresses:  []string{"localhost:6379"},
		KeyPrefix:  fmt.Sprintf("fleetwatch-test-%d:", time.Now().UnixNano()),
		DefaultTTL: time.Hour,
	})
	if err != nil {
		t.Logf("Redis connection failed (expected if redis not running): %v", err)
		return nil
	}
	return s
}

// cleanup 删除测试前缀下的所有键
func cleanup(t *testing.T, s *RedisStorage) {
	ctx := context.Background()
	keys, err := s.client.Keys(ctx, s.keyPrefix+"*").Result()
	if err != nil {
		t.Logf("cleanup keys failed: %v", err)
		return
	}
	if len(keys) > 0 {
		s.client.Del(ctx, keys...)
	}
	s.Close()
}

func TestAgentUpsertKeepsFirstSeen(t *testing.T) {
	s := newTestStorage(t)
	if s == nil {
		return
	}
	defer cleanup(t, s)
	ctx := context.Background()

	// 首次登记
	err := s.UpsertAgent(ctx, &models.AgentRecord{
		Hostname: "web-1", AgentIP: "10.0.0.1", FirstSeen: 1000, LastSeen: 1000,
	})
	if err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}

	// 第二次上报，first_seen 不应被覆盖
	err = s.UpsertAgent(ctx, &models.AgentRecord{
		Hostname: "web-1", AgentIP: "10.0.0.9", FirstSeen: 2000, LastSeen: 2000,
	})
	if err != nil {
		t.Fatalf("second UpsertAgent failed: %v", err)
	}

	record, err := s.GetAgent(ctx, "web-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if record == nil {
		t.Fatal("expected agent record, got nil")
	}
	if record.FirstSeen != 1000 {
		t.Errorf("expected first_seen 1000, got %d", record.FirstSeen)
	}
	if record.LastSeen != 2000 {
		t.Errorf("expected last_seen 2000, got %d", record.LastSeen)
	}
	if record.AgentIP != "10.0.0.9" {
		t.Errorf("expected refreshed agent_ip 10.0.0.9, got %s", record.AgentIP)
	}

	// 未知主机返回 nil
	missing, err := s.GetAgent(ctx, "no-such-host")
	if err != nil {
		t.Fatalf("GetAgent for missing host failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown host, got %+v", missing)
	}
}

func TestMetricPointRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	if s == nil {
		return
	}
	defer cleanup(t, s)
	ctx := context.Background()

	report := &models.Report{
		Hostname:    "web-1",
		AgentIP:     "10.0.0.1",
		Timestamp:   5000,
		IntervalSec: 10.02,
		CPU:         models.CPUStats{Percent: 42.5},
		Memory:      models.MemoryStats{Percent: 61.0},
		DiskUsage: map[string]models.DiskUsage{
			"/": {Percent: 55.2, FreeGB: 120.5, TotalGB: 250.0},
		},
		Network: models.NetworkStats{
			Total: models.NetTotals{SentRateMbps: 1.2, RecvRateMbps: 3.4},
			Interfaces: map[string]models.InterfaceStats{
				"eth0": {IsUp: true, LinkSpeedMbps: 1000, SentRateMbps: 1.2, RecvRateMbps: 3.4, UtilizationPercent: 0.34},
			},
		},
		PeerTraffic: map[string]models.PeerFlow{
			"10.0.0.1_to_10.0.0.2": {Bytes: 6250000, RateMbps: 5.0},
		},
		PingResults: map[string]models.PingResult{
			"10.0.0.2": {Status: models.PingStatusSuccess, LatencyMs: 1.2, Timestamp: 4998},
		},
	}

	if err := s.SaveMetricPoint(ctx, report); err != nil {
		t.Fatalf("SaveMetricPoint failed: %v", err)
	}

	// 范围外查询不应返回数据
	empty, err := s.GetMetricRange(ctx, "web-1", 6000, 7000)
	if err != nil {
		t.Fatalf("GetMetricRange failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no points outside range, got %d", len(empty))
	}

	points, err := s.GetMetricRange(ctx, "web-1", 4000, 6000)
	if err != nil {
		t.Fatalf("GetMetricRange failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}

	got := points[0]
	if got.Hostname != "web-1" || got.Timestamp != 5000 {
		t.Errorf("identity mismatch: %s %d", got.Hostname, got.Timestamp)
	}
	if got.CPU.Percent != 42.5 {
		t.Errorf("expected cpu 42.5, got %f", got.CPU.Percent)
	}
	if got.Network.Interfaces["eth0"].LinkSpeedMbps != 1000 {
		t.Errorf("network section not preserved: %+v", got.Network)
	}
	if got.PeerTraffic["10.0.0.1_to_10.0.0.2"].Bytes != 6250000 {
		t.Errorf("peer traffic section not preserved: %+v", got.PeerTraffic)
	}
	if got.PingResults["10.0.0.2"].Status != models.PingStatusSuccess {
		t.Errorf("ping section not preserved: %+v", got.PingResults)
	}
}

func TestAlertRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	if s == nil {
		return
	}
	defer cleanup(t, s)
	ctx := context.Background()

	alert := &models.AlertState{
		AlertKey:       models.MakeAlertKey("web-1", models.AlertTypeDiskHigh, "/var"),
		Hostname:       "web-1",
		AlertType:      models.AlertTypeDiskHigh,
		SpecificTarget: "/var",
		Status:         models.AlertStatusActive,
		Message:        "磁盘使用率 96.0% 超过阈值 95.0%",
		CurrentValue:   96.0,
		ThresholdValue: 95.0,
		FirstTriggered: 1000,
		LastActive:     1000,
	}
	if err := s.UpsertAlert(ctx, alert); err != nil {
		t.Fatalf("UpsertAlert failed: %v", err)
	}

	got, err := s.GetAlert(ctx, alert.AlertKey)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected alert, got nil")
	}
	if got.AlertKey != "web-1_disk_high__var" {
		t.Errorf("unexpected alert key: %s", got.AlertKey)
	}
	if got.Status != models.AlertStatusActive || got.CurrentValue != 96.0 {
		t.Errorf("alert fields not preserved: %+v", got)
	}

	// 恢复后覆盖写入
	alert.Status = models.AlertStatusResolved
	alert.ResolvedAt = 2000
	if err := s.UpsertAlert(ctx, alert); err != nil {
		t.Fatalf("resolve upsert failed: %v", err)
	}

	alerts, err := s.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Status != models.AlertStatusResolved || alerts[0].ResolvedAt != 2000 {
		t.Errorf("resolved state not preserved: %+v", alerts[0])
	}
	if alerts[0].FirstTriggered != 1000 {
		t.Errorf("first_triggered should survive resolve, got %d", alerts[0].FirstTriggered)
	}
}

func TestRetentionRemovesOldPoints(t *testing.T) {
	s := newTestStorage(t)
	if s == nil {
		return
	}
	defer cleanup(t, s)
	ctx := context.Background()

	if err := s.UpsertAgent(ctx, &models.AgentRecord{
		Hostname: "web-1", AgentIP: "10.0.0.1", FirstSeen: 100, LastSeen: 100,
	}); err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}

	// 写入7个点，批大小3验证多批删除
	for i := int64(0); i < 7; i++ {
		report := &models.Report{Hostname: "web-1", Timestamp: 100 + i*10, IntervalSec: 10}
		if err := s.SaveMetricPoint(ctx, report); err != nil {
			t.Fatalf("SaveMetricPoint failed: %v", err)
		}
	}

	// cutoff 覆盖前5个点(ts 100..140)
	deleted, err := s.RunRetention(ctx, 140, 3)
	if err != nil {
		t.Fatalf("RunRetention failed: %v", err)
	}
	if deleted != 5 {
		t.Errorf("expected 5 deleted points, got %d", deleted)
	}

	remaining, err := s.GetMetricRange(ctx, "web-1", 0, 1000)
	if err != nil {
		t.Fatalf("GetMetricRange failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining points, got %d", len(remaining))
	}
	if remaining[0].Timestamp != 150 || remaining[1].Timestamp != 160 {
		t.Errorf("wrong points survived: %d %d", remaining[0].Timestamp, remaining[1].Timestamp)
	}
}
