package algorithm

import (
	"sync"
	"time"
)

// SlidingWindow 滑动窗口，保存最近 N 个采样值
type SlidingWindow struct {
	size       int           // 窗口大小
	values     []float64     // 窗口中的值
	timestamps []time.Time   // 对应的时间戳
	sum        float64       // 当前窗口值的总和
	maxAge     time.Duration // 数据最大存活时间，0 表示只按条数淘汰
	mu         sync.Mutex
}

// NewSlidingWindow 创建滑动窗口
func NewSlidingWindow(size int, maxAge time.Duration) *SlidingWindow {
	if size <= 0 {
		size = 30
	}
	return &SlidingWindow{
		size:       size,
		values:     make([]float64, 0, size),
		timestamps: make([]time.Time, 0, size),
		maxAge:     maxAge,
	}
}

// Add 添加新值到窗口
func (sw *SlidingWindow) Add(value float64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.cleanExpired(now)

	// 窗口已满时移除最旧的值
	if len(sw.values) >= sw.size {
		sw.sum -= sw.values[0]
		sw.values = sw.values[1:]
		sw.timestamps = sw.timestamps[1:]
	}

	sw.values = append(sw.values, value)
	sw.timestamps = append(sw.timestamps, now)
	sw.sum += value
}

// Average 获取窗口平均值
func (sw *SlidingWindow) Average() float64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanExpired(time.Now())
	if len(sw.values) == 0 {
		return 0
	}
	return sw.sum / float64(len(sw.values))
}

// Last 获取最新值，窗口为空时返回 0
func (sw *SlidingWindow) Last() float64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanExpired(time.Now())
	if len(sw.values) == 0 {
		return 0
	}
	return sw.values[len(sw.values)-1]
}

// Count 获取窗口中的值数量
func (sw *SlidingWindow) Count() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanExpired(time.Now())
	return len(sw.values)
}

// Values 获取窗口中所有值的副本
func (sw *SlidingWindow) Values() []float64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanExpired(time.Now())
	result := make([]float64, len(sw.values))
	copy(result, sw.values)
	return result
}

// Reset 重置窗口
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.values = sw.values[:0]
	sw.timestamps = sw.timestamps[:0]
	sw.sum = 0
}

// cleanExpired 清理过期数据
// 注意：调用此方法前必须已获取锁
func (sw *SlidingWindow) cleanExpired(now time.Time) {
	if sw.maxAge <= 0 || len(sw.values) == 0 {
		return
	}

	cutoff := now.Add(-sw.maxAge)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if !sw.timestamps[i].Before(cutoff) {
			break
		}
		sw.sum -= sw.values[i]
	}
	if i > 0 {
		sw.values = sw.values[i:]
		sw.timestamps = sw.timestamps[i:]
	}
}
