package alert

import (
	"context"
	"log"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/storage"
)

// Scanner 下线扫描器
// 周期性检查代理的最近上报时间，静默超过阈值即触发下线告警。
// 下线告警只在这里触发，恢复只由摄入路径完成。
type Scanner struct {
	store         storage.Store
	engine        *Engine
	downThreshold time.Duration
	interval      time.Duration
}

// NewScanner 创建下线扫描器
func NewScanner(store storage.Store, engine *Engine, downThreshold, interval time.Duration) *Scanner {
	return &Scanner{
		store:         store,
		engine:        engine,
		downThreshold: downThreshold,
		interval:      interval,
	}
}

// Run 扫描循环，随上下文取消退出
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx, time.Now())
		}
	}
}

// Scan 单轮扫描
func (s *Scanner) Scan(ctx context.Context, now time.Time) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		log.Printf("下线扫描读取代理列表失败: %v", err)
		return
	}

	for _, agent := range agents {
		silentFor := now.Sub(time.Unix(agent.LastSeen, 0))
		if silentFor > s.downThreshold {
			s.engine.RaiseAgentDown(ctx, agent.Hostname, silentFor, now)
		}
	}
}
