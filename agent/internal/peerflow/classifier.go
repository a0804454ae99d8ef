package peerflow

import (
	"context"
)

// Packet 采集到的一个 IP 包
type Packet struct {
	SrcIP string // 源地址
	DstIP string // 目的地址
	Size  int    // 包大小(字节)
}

// PacketSource 抓包协作者。Packets 返回的通道关闭表示采集结束。
// TODO: 接入 AF_PACKET 采集源作为 Linux 下的内置实现
type PacketSource interface {
	Packets() <-chan Packet
	Close() error
}

// NopPacketSource 空采集源，未启用抓包时使用
type NopPacketSource struct{}

// Packets 返回永不投递的通道
func (NopPacketSource) Packets() <-chan Packet { return nil }

// Close 无操作
func (NopPacketSource) Close() error { return nil }

// Classifier 包分类器：源和目的都在对端集合内的包才计入流量
type Classifier struct {
	peers *PeerSet
	acc   *Accumulator
}

// NewClassifier 创建分类器
func NewClassifier(peers *PeerSet, acc *Accumulator) *Classifier {
	return &Classifier{peers: peers, acc: acc}
}

// Observe 分类一个包。集合查询和累计分别持各自的锁，
// 不嵌套持有，避免与刷新定时器形成锁序死锁。
func (c *Classifier) Observe(p Packet) {
	if p.Size <= 0 || p.SrcIP == "" || p.DstIP == "" {
		return
	}
	if !c.peers.Contains(p.SrcIP) || !c.peers.Contains(p.DstIP) {
		return
	}
	c.acc.Add(p.SrcIP, p.DstIP, p.Size)
}

// Run 从采集源消费包直到通道关闭或 ctx 取消
func (c *Classifier) Run(ctx context.Context, source PacketSource) {
	packets := source.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			c.Observe(p)
		}
	}
}
