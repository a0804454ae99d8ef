package algorithm

import (
	"testing"
	"time"
)

// TestSlidingWindowAdd 测试添加与容量淘汰
func TestSlidingWindowAdd(t *testing.T) {
	sw := NewSlidingWindow(3, 0)

	sw.Add(1)
	sw.Add(2)
	sw.Add(3)
	sw.Add(4) // 挤掉 1

	if got := sw.Count(); got != 3 {
		t.Errorf("Expected count 3, got %d", got)
	}

	values := sw.Values()
	if len(values) != 3 || values[0] != 2 || values[2] != 4 {
		t.Errorf("Expected values [2 3 4], got %v", values)
	}

	if got := sw.Average(); got != 3 {
		t.Errorf("Expected average 3, got %f", got)
	}

	if got := sw.Last(); got != 4 {
		t.Errorf("Expected last 4, got %f", got)
	}
}

// TestSlidingWindowEmpty 测试空窗口
func TestSlidingWindowEmpty(t *testing.T) {
	sw := NewSlidingWindow(5, 0)

	if sw.Average() != 0 || sw.Last() != 0 || sw.Count() != 0 {
		t.Error("Empty window should report zeros")
	}
	if len(sw.Values()) != 0 {
		t.Error("Empty window should return no values")
	}
}

// TestSlidingWindowExpire 测试按时间淘汰
func TestSlidingWindowExpire(t *testing.T) {
	sw := NewSlidingWindow(10, 50*time.Millisecond)

	sw.Add(10)
	sw.Add(20)
	time.Sleep(80 * time.Millisecond)

	if got := sw.Count(); got != 0 {
		t.Errorf("Expected all values expired, got %d", got)
	}

	sw.Add(30)
	if got := sw.Average(); got != 30 {
		t.Errorf("Expected average 30 after expiry, got %f", got)
	}
}

// TestSlidingWindowReset 测试重置
func TestSlidingWindowReset(t *testing.T) {
	sw := NewSlidingWindow(5, 0)
	sw.Add(1)
	sw.Add(2)
	sw.Reset()

	if sw.Count() != 0 || sw.Average() != 0 {
		t.Error("Reset should clear the window")
	}
}

// BenchmarkSlidingWindowAdd 基准测试：窗口写入
func BenchmarkSlidingWindowAdd(b *testing.B) {
	sw := NewSlidingWindow(100, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sw.Add(float64(i % 100))
	}
}
