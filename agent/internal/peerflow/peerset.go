package peerflow

import (
	"sync"

	"github.com/willf/bloom"
)

// PeerSet 当前已知对端 IP 集合。布隆过滤器在精确集合之前挡掉
// 绝大多数无关地址，替换列表时整体重建。
type PeerSet struct {
	mu        sync.RWMutex
	exact     map[string]struct{}
	filter    *bloom.BloomFilter
	size      uint
	hashFuncs uint
}

// NewPeerSet 创建对端集合
func NewPeerSet(filterSize, hashFuncs uint) *PeerSet {
	if filterSize == 0 {
		filterSize = 100000
	}
	if hashFuncs == 0 {
		hashFuncs = 3
	}
	return &PeerSet{
		exact:     make(map[string]struct{}),
		filter:    bloom.New(filterSize, hashFuncs),
		size:      filterSize,
		hashFuncs: hashFuncs,
	}
}

// Replace 用新列表整体替换集合并重建布隆过滤器。
// 刷新失败的调用方直接不调用本方法即可保持"无变化"。
func (p *PeerSet) Replace(ips []string) {
	exact := make(map[string]struct{}, len(ips))
	filter := bloom.New(p.size, p.hashFuncs)
	for _, ip := range ips {
		if ip == "" {
			continue
		}
		exact[ip] = struct{}{}
		filter.AddString(ip)
	}

	p.mu.Lock()
	p.exact = exact
	p.filter = filter
	p.mu.Unlock()
}

// Contains 判断 IP 是否在集合内
func (p *PeerSet) Contains(ip string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// 布隆过滤器先做快速排除，命中后再查精确集合
	if !p.filter.TestString(ip) {
		return false
	}
	_, ok := p.exact[ip]
	return ok
}

// Snapshot 返回集合成员的副本
func (p *PeerSet) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ips := make([]string, 0, len(p.exact))
	for ip := range p.exact {
		ips = append(ips, ip)
	}
	return ips
}

// Size 当前集合大小
func (p *PeerSet) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.exact)
}
