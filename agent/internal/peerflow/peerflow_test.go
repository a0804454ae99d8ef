package peerflow

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestAccumulatorDrain 测试并发累计与换表
func TestAccumulatorDrain(t *testing.T) {
	acc := NewAccumulator()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				acc.Add("10.0.0.1", "10.0.0.2", 100)
			}
		}()
	}
	wg.Wait()

	flows := acc.Drain()
	if got := flows["10.0.0.1_to_10.0.0.2"]; got != 800000 {
		t.Errorf("Expected 800000 bytes, got %d", got)
	}

	// 换表后累计器为空
	if flows = acc.Drain(); len(flows) != 0 {
		t.Errorf("Second drain should be empty, got %v", flows)
	}
}

// TestAccumulatorConcurrentDrain 测试边累计边换表不丢不重
func TestAccumulatorConcurrentDrain(t *testing.T) {
	acc := NewAccumulator()

	const total = 10000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			acc.Add("10.0.0.1", "10.0.0.2", 10)
		}
	}()

	var sum int64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		for _, v := range acc.Drain() {
			sum += v
		}
		select {
		case <-done:
			for _, v := range acc.Drain() {
				sum += v
			}
			if sum != total*10 {
				t.Errorf("Expected %d bytes across drains, got %d", total*10, sum)
			}
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// TestPeerSetReplace 测试整体替换与查询
func TestPeerSetReplace(t *testing.T) {
	ps := NewPeerSet(1000, 3)

	if ps.Contains("10.0.0.1") {
		t.Error("Empty set should contain nothing")
	}

	ps.Replace([]string{"10.0.0.1", "10.0.0.2", ""})
	if !ps.Contains("10.0.0.1") || !ps.Contains("10.0.0.2") {
		t.Error("Replaced members should be present")
	}
	if ps.Contains("10.0.0.9") {
		t.Error("Non-member should be absent")
	}
	if ps.Size() != 2 {
		t.Errorf("Empty strings should be dropped, size = %d", ps.Size())
	}

	// 再次替换后旧成员消失
	ps.Replace([]string{"10.0.0.3"})
	if ps.Contains("10.0.0.1") {
		t.Error("Old member should be gone after replace")
	}
	if !ps.Contains("10.0.0.3") {
		t.Error("New member should be present")
	}
}

// TestPeerSetSnapshot 测试成员副本
func TestPeerSetSnapshot(t *testing.T) {
	ps := NewPeerSet(1000, 3)
	ps.Replace([]string{"10.0.0.1", "10.0.0.2"})

	snap := ps.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(snap))
	}

	// 修改副本不影响集合
	snap[0] = "192.168.1.1"
	if ps.Contains("192.168.1.1") {
		t.Error("Snapshot should be a copy")
	}
}

// TestClassifierBothEndpoints 测试双端都在集合内才累计
func TestClassifierBothEndpoints(t *testing.T) {
	ps := NewPeerSet(1000, 3)
	ps.Replace([]string{"10.0.0.1", "10.0.0.2"})
	acc := NewAccumulator()
	c := NewClassifier(ps, acc)

	c.Observe(Packet{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Size: 100}) // 双端已知
	c.Observe(Packet{SrcIP: "10.0.0.1", DstIP: "8.8.8.8", Size: 100})  // 目的未知
	c.Observe(Packet{SrcIP: "8.8.8.8", DstIP: "10.0.0.2", Size: 100})  // 源未知
	c.Observe(Packet{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Size: 0})   // 非法大小

	flows := acc.Drain()
	if len(flows) != 1 {
		t.Fatalf("Expected exactly one flow, got %v", flows)
	}
	if flows["10.0.0.1_to_10.0.0.2"] != 100 {
		t.Errorf("Expected 100 bytes, got %d", flows["10.0.0.1_to_10.0.0.2"])
	}
}

// TestClassifierSetReplaceTakesEffect 测试集合替换对后续包立即生效
func TestClassifierSetReplaceTakesEffect(t *testing.T) {
	ps := NewPeerSet(1000, 3)
	ps.Replace([]string{"10.0.0.1", "10.0.0.2"})
	acc := NewAccumulator()
	c := NewClassifier(ps, acc)

	c.Observe(Packet{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Size: 50})
	ps.Replace([]string{"10.0.0.1"}) // 10.0.0.2 退出集合
	c.Observe(Packet{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Size: 50})

	flows := acc.Drain()
	if flows["10.0.0.1_to_10.0.0.2"] != 50 {
		t.Errorf("Expected only the first packet counted, got %d", flows["10.0.0.1_to_10.0.0.2"])
	}
}

// TestClassifierRun 测试从采集源消费
func TestClassifierRun(t *testing.T) {
	ps := NewPeerSet(1000, 3)
	ps.Replace([]string{"10.0.0.1", "10.0.0.2"})
	acc := NewAccumulator()
	c := NewClassifier(ps, acc)

	src := &fakeSource{ch: make(chan Packet, 4)}
	src.ch <- Packet{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Size: 10}
	src.ch <- Packet{SrcIP: "10.0.0.2", DstIP: "10.0.0.1", Size: 20}
	close(src.ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.Run(ctx, src)

	flows := acc.Drain()
	if flows["10.0.0.1_to_10.0.0.2"] != 10 || flows["10.0.0.2_to_10.0.0.1"] != 20 {
		t.Errorf("Unexpected flows: %v", flows)
	}
}

// fakeSource 测试用采集源
type fakeSource struct {
	ch chan Packet
}

func (f *fakeSource) Packets() <-chan Packet { return f.ch }
func (f *fakeSource) Close() error           { return nil }

// BenchmarkClassifierObserve 基准测试：包分类热路径
func BenchmarkClassifierObserve(b *testing.B) {
	ps := NewPeerSet(100000, 3)
	ps.Replace([]string{"10.0.0.1", "10.0.0.2"})
	acc := NewAccumulator()
	c := NewClassifier(ps, acc)
	p := Packet{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Size: 1500}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Observe(p)
	}
}

// BenchmarkClassifierReject 基准测试：布隆过滤器排除无关地址
func BenchmarkClassifierReject(b *testing.B) {
	ps := NewPeerSet(100000, 3)
	ps.Replace([]string{"10.0.0.1", "10.0.0.2"})
	acc := NewAccumulator()
	c := NewClassifier(ps, acc)
	p := Packet{SrcIP: "203.0.113.7", DstIP: "10.0.0.2", Size: 1500}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Observe(p)
	}
}
