package probe

import (
	"context"
	"sort"
	"sync"
)

// Tracker 周期性探测目标集，保存最近一轮的完整结果。
// 每轮结果整表替换上一轮，不再被探测的目标自然消失。
type Tracker struct {
	prober Prober
	mu     sync.RWMutex
	latest map[string]Result
}

// NewTracker 创建探测跟踪器
func NewTracker(prober Prober) *Tracker {
	return &Tracker{
		prober: prober,
		latest: make(map[string]Result),
	}
}

// Targets 组装本轮目标集：对端 ∪ 汇聚端 − 自身
func Targets(peers []string, collectorHost, self string) []string {
	set := make(map[string]struct{}, len(peers)+1)
	for _, p := range peers {
		if p != "" && p != self {
			set[p] = struct{}{}
		}
	}
	if collectorHost != "" && collectorHost != self {
		set[collectorHost] = struct{}{}
	}

	targets := make([]string, 0, len(set))
	for t := range set {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// RunRound 并行探测全部目标后整表替换结果。
// 目标集为空时本轮为空操作。
func (t *Tracker) RunRound(ctx context.Context, targets []string) {
	if len(targets) == 0 {
		return
	}

	results := make(map[string]Result, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			r := t.prober.Probe(ctx, target)
			mu.Lock()
			results[target] = r
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	t.mu.Lock()
	t.latest = results
	t.mu.Unlock()
}

// Latest 返回最近一轮结果的副本
func (t *Tracker) Latest() map[string]Result {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Result, len(t.latest))
	for k, v := range t.latest {
		out[k] = v
	}
	return out
}
