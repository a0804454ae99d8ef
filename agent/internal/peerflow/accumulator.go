package peerflow

import (
	"fmt"
	"sync"
)

// FlowKey 方向化流标识，格式 "src_to_dst"
func FlowKey(src, dst string) string {
	return fmt.Sprintf("%s_to_%s", src, dst)
}

// Accumulator 按方向流累计周期内字节数。
// Drain 以整表换出的方式取走累计值，对并发 Add 原子：
// 换表之后分类的包自然落入下一个周期。
type Accumulator struct {
	mu    sync.Mutex
	flows map[string]int64
}

// NewAccumulator 创建流量累计器
func NewAccumulator() *Accumulator {
	return &Accumulator{flows: make(map[string]int64)}
}

// Add 累加一次观测到的包大小
func (a *Accumulator) Add(src, dst string, size int) {
	key := FlowKey(src, dst)
	a.mu.Lock()
	a.flows[key] += int64(size)
	a.mu.Unlock()
}

// Drain 换出并清空当前累计表
func (a *Accumulator) Drain() map[string]int64 {
	fresh := make(map[string]int64)
	a.mu.Lock()
	old := a.flows
	a.flows = fresh
	a.mu.Unlock()
	return old
}
