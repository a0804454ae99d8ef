package topology

import (
	"sort"
	"strings"
	"time"

	"github.com/han-fei/fleetwatch/collector/internal/snapshot"
)

// 节点与边的类型
const (
	NodeTypeCollector = "collector"
	NodeTypeHost      = "host"

	EdgeTypeReporting   = "reporting"
	EdgeTypePeerTraffic = "peer_traffic"
)

// Node 拓扑节点
type Node struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	IP   string `json:"ip,omitempty"`
}

// Edge 拓扑边，方向保留，A到B与B到A是两条边
type Edge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	RateMbps float64 `json:"rate_mbps,omitempty"`
}

// Graph 拓扑图
type Graph struct {
	GeneratedAt int64  `json:"generated_at"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
}

// Builder 拓扑构建器，完全基于内存快照，不触存储
type Builder struct {
	snapshots *snapshot.Manager
	staleness time.Duration
	minRate   float64
}

// NewBuilder 创建拓扑构建器
func NewBuilder(snapshots *snapshot.Manager, staleness time.Duration, minRate float64) *Builder {
	return &Builder{
		snapshots: snapshots,
		staleness: staleness,
		minRate:   minRate,
	}
}

// Build 生成当前拓扑
// 节点为汇聚端加静默期内的主机；对端流量边只在两端IP都能
// 解析到活跃主机时出图，同向重复观测保留较大速率
func (b *Builder) Build(now time.Time) *Graph {
	active := b.snapshots.Active(now, b.staleness)

	graph := &Graph{
		GeneratedAt: now.Unix(),
		Nodes:       make([]Node, 0, len(active)+1),
		Edges:       make([]Edge, 0, len(active)),
	}
	graph.Nodes = append(graph.Nodes, Node{ID: NodeTypeCollector, Type: NodeTypeCollector})

	ipToHost := make(map[string]string, len(active))
	for _, host := range active {
		graph.Nodes = append(graph.Nodes, Node{
			ID:   host.Hostname,
			Type: NodeTypeHost,
			IP:   host.Report.AgentIP,
		})
		if host.Report.AgentIP != "" {
			ipToHost[host.Report.AgentIP] = host.Hostname
		}
		graph.Edges = append(graph.Edges, Edge{
			Source: NodeTypeCollector,
			Target: host.Hostname,
			Type:   EdgeTypeReporting,
		})
	}

	// 两端各自观测同一方向的流量时取较大值
	peerEdges := make(map[[2]string]float64)
	for _, host := range active {
		for flowKey, flow := range host.Report.PeerTraffic {
			srcIP, dstIP, ok := splitFlowKey(flowKey)
			if !ok {
				continue
			}
			srcHost, srcOK := ipToHost[srcIP]
			dstHost, dstOK := ipToHost[dstIP]
			if !srcOK || !dstOK {
				continue
			}
			if flow.RateMbps < b.minRate {
				continue
			}
			pair := [2]string{srcHost, dstHost}
			if flow.RateMbps > peerEdges[pair] {
				peerEdges[pair] = flow.RateMbps
			}
		}
	}
	for pair, rate := range peerEdges {
		graph.Edges = append(graph.Edges, Edge{
			Source:   pair[0],
			Target:   pair[1],
			Type:     EdgeTypePeerTraffic,
			RateMbps: rate,
		})
	}

	sort.Slice(graph.Edges, func(i, j int) bool {
		a, b := graph.Edges[i], graph.Edges[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Target < b.Target
	})
	return graph
}

// splitFlowKey 解析 <srcIP>_to_<dstIP> 流量键
func splitFlowKey(key string) (string, string, bool) {
	parts := strings.SplitN(key, "_to_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
