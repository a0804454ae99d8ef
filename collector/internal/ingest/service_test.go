package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/alert"
	"github.com/han-fei/fleetwatch/collector/internal/config"
	"github.com/han-fei/fleetwatch/collector/internal/models"
	"github.com/han-fei/fleetwatch/collector/internal/snapshot"
	"github.com/han-fei/fleetwatch/internal/utils"
)

// fakeStore 内存存储，可注入写入失败
type fakeStore struct {
	mu        sync.Mutex
	agents    map[string]*models.AgentRecord
	alerts    map[string]*models.AlertState
	points    []*models.Report
	saveErr   error
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents: make(map[string]*models.AgentRecord),
		alerts: make(map[string]*models.AlertState),
	}
}

func (f *fakeStore) UpsertAgent(ctx context.Context, record *models.AgentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cp := *record
	if old, ok := f.agents[record.Hostname]; ok {
		cp.FirstSeen = old.FirstSeen
	}
	f.agents[record.Hostname] = &cp
	return nil
}

func (f *fakeStore) GetAgent(ctx context.Context, hostname string) (*models.AgentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.agents[hostname]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (f *fakeStore) ListAgents(ctx context.Context) ([]*models.AgentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.AgentRecord, 0, len(f.agents))
	for _, record := range f.agents {
		cp := *record
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) SaveMetricPoint(ctx context.Context, report *models.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.points = append(f.points, report)
	return nil
}

func (f *fakeStore) GetMetricRange(ctx context.Context, hostname string, start, end int64) ([]*models.Report, error) {
	return nil, nil
}

func (f *fakeStore) UpsertAlert(ctx context.Context, state *models.AlertState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *state
	f.alerts[state.AlertKey] = &cp
	return nil
}

func (f *fakeStore) GetAlert(ctx context.Context, alertKey string) (*models.AlertState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.alerts[alertKey]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (f *fakeStore) ListAlerts(ctx context.Context) ([]*models.AlertState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.AlertState, 0, len(f.alerts))
	for _, state := range f.alerts {
		cp := *state
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) RunRetention(ctx context.Context, cutoff int64, batchSize int) (int, error) {
	return 0, nil
}

func (f *fakeStore) Health(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                     { return nil }

func (f *fakeStore) alert(key string) *models.AlertState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts[key]
}

func (f *fakeStore) pointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func newTestService(store *fakeStore, notify func(*models.Report)) (*Service, *snapshot.Manager) {
	snapshots := snapshot.NewManager(10)
	engine := alert.NewEngine(store, config.AlertsConfig{
		CPUThreshold:       90,
		MemThreshold:       90,
		DiskThreshold:      95,
		ChokeThreshold:     80,
		LatencyThresholdMs: 500,
		PingFailWindow:     5 * time.Minute,
		DownThreshold:      240 * time.Second,
	}, nil)
	return NewService(store, snapshots, engine, notify), snapshots
}

func TestIngestHappyPath(t *testing.T) {
	store := newFakeStore()
	var notified *models.Report
	svc, snapshots := newTestService(store, func(r *models.Report) { notified = r })
	ctx := context.Background()

	report := &models.Report{
		Hostname:  "web-1",
		AgentIP:   "10.0.0.1",
		Timestamp: time.Now().Unix(),
		CPU:       models.CPUStats{Percent: 33},
	}
	if err := svc.Ingest(ctx, report, "10.0.0.1"); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	record, _ := store.GetAgent(ctx, "web-1")
	if record == nil || record.AgentIP != "10.0.0.1" {
		t.Fatalf("agent not registered: %+v", record)
	}
	if store.pointCount() != 1 {
		t.Errorf("expected 1 metric point, got %d", store.pointCount())
	}
	if _, ok := snapshots.Get("web-1"); !ok {
		t.Error("snapshot not updated")
	}
	if notified == nil || notified.Hostname != "web-1" {
		t.Error("notify hook not called")
	}
}

func TestIngestDefaultsIdentityFromObservedAddr(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, nil)
	ctx := context.Background()

	report := &models.Report{Timestamp: time.Now().Unix()}
	if err := svc.Ingest(ctx, report, "10.0.0.7"); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	record, _ := store.GetAgent(ctx, "10.0.0.7")
	if record == nil {
		t.Fatal("expected agent keyed by observed address")
	}
	if record.AgentIP != "10.0.0.7" {
		t.Errorf("expected defaulted agent_ip, got %q", record.AgentIP)
	}
}

func TestIngestRejectsMalformedIPWithoutMutation(t *testing.T) {
	store := newFakeStore()
	svc, snapshots := newTestService(store, nil)
	ctx := context.Background()

	report := &models.Report{
		Hostname:  "web-1",
		AgentIP:   "not-an-ip",
		Timestamp: time.Now().Unix(),
	}
	err := svc.Ingest(ctx, report, "10.0.0.1")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !utils.IsValidation(err) {
		t.Errorf("expected validation kind, got %v", utils.KindOf(err))
	}

	// 拒绝的上报不留痕迹
	if record, _ := store.GetAgent(ctx, "web-1"); record != nil {
		t.Error("rejected report must not register agent")
	}
	if store.pointCount() != 0 {
		t.Error("rejected report must not store metric point")
	}
	if _, ok := snapshots.Get("web-1"); ok {
		t.Error("rejected report must not touch snapshot")
	}
}

func TestIngestMissingBothIdentities(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, nil)

	err := svc.Ingest(context.Background(), &models.Report{}, "")
	if err == nil || !utils.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestStorageAbort(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("redis down")
	var notified bool
	svc, snapshots := newTestService(store, func(*models.Report) { notified = true })

	report := &models.Report{
		Hostname: "web-1", AgentIP: "10.0.0.1", Timestamp: time.Now().Unix(),
	}
	err := svc.Ingest(context.Background(), report, "10.0.0.1")
	if err == nil || !utils.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}

	// 中止后不再推进后续步骤
	if _, ok := snapshots.Get("web-1"); ok {
		t.Error("aborted ingest must not update snapshot")
	}
	if notified {
		t.Error("aborted ingest must not notify")
	}
}

func TestIngestForceResolvesAgentDown(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, nil)
	ctx := context.Background()

	// 预置活跃的下线告警
	store.UpsertAlert(ctx, &models.AlertState{
		AlertKey:  "web-1_agent_down",
		Hostname:  "web-1",
		AlertType: models.AlertTypeAgentDown,
		Status:    models.AlertStatusActive,
	})

	// 该上报同时触发CPU告警
	report := &models.Report{
		Hostname:  "web-1",
		AgentIP:   "10.0.0.1",
		Timestamp: time.Now().Unix(),
		CPU:       models.CPUStats{Percent: 99},
	}
	if err := svc.Ingest(ctx, report, "10.0.0.1"); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if state := store.alert("web-1_agent_down"); state == nil || state.IsActive() {
		t.Errorf("agent_down must be force resolved, got %+v", state)
	}
	if state := store.alert("web-1_cpu_high"); state == nil || !state.IsActive() {
		t.Errorf("cpu alert must open in the same ingest, got %+v", state)
	}
}

func TestIngestFillsMissingTimestamp(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store, nil)

	report := &models.Report{Hostname: "web-1", AgentIP: "10.0.0.1"}
	before := time.Now().Unix()
	if err := svc.Ingest(context.Background(), report, ""); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if report.Timestamp < before {
		t.Errorf("expected timestamp defaulted to now, got %d", report.Timestamp)
	}
}
