package history

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/han-fei/fleetwatch/collector/internal/models"
)

// sectionFunc 从上报中取出一节
type sectionFunc func(*models.Report) interface{}

// Resolver 把点号指标路径解析到上报的对应节
// 节根经基数树做最长前缀匹配，剩余路径在节的JSON形态上逐段下钻
type Resolver struct {
	tree *Tree
}

// NewResolver 创建带全部节根的解析器
func NewResolver() *Resolver {
	r := &Resolver{tree: NewTree()}
	r.register("cpu", func(rep *models.Report) interface{} { return rep.CPU })
	r.register("memory", func(rep *models.Report) interface{} { return rep.Memory })
	r.register("disk_usage", func(rep *models.Report) interface{} { return rep.DiskUsage })
	r.register("network", func(rep *models.Report) interface{} { return rep.Network })
	r.register("disk_io", func(rep *models.Report) interface{} { return rep.DiskIO })
	r.register("peer_traffic", func(rep *models.Report) interface{} { return rep.PeerTraffic })
	r.register("ping_results", func(rep *models.Report) interface{} { return rep.PingResults })
	r.register("interval_sec", func(rep *models.Report) interface{} { return rep.IntervalSec })
	return r
}

func (r *Resolver) register(root string, fn sectionFunc) {
	r.tree.Insert(root, fn)
}

// Resolve 取出路径在一条上报中的数值，无法解析或非数值时返回 nil
func (r *Resolver) Resolve(report *models.Report, path string) *float64 {
	root, value, ok := r.tree.LongestPrefix(path)
	if !ok {
		return nil
	}
	// 匹配必须落在段边界上，避免 network_x 命中 network
	if len(path) > len(root) && path[len(root)] != '.' {
		return nil
	}

	section := value.(sectionFunc)(report)

	// 剩余路径在解码后的JSON映射上逐段下钻
	data, err := json.Marshal(section)
	if err != nil {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}

	remainder := strings.TrimPrefix(strings.TrimPrefix(path, root), ".")
	return walkValue(decoded, remainder)
}

// walkValue 按剩余路径下钻，叶子必须是数值
func walkValue(value interface{}, remainder string) *float64 {
	if remainder != "" {
		for _, segment := range strings.Split(remainder, ".") {
			m, ok := value.(map[string]interface{})
			if !ok {
				return nil
			}
			value, ok = m[segment]
			if !ok {
				return nil
			}
		}
	}

	switch v := value.(type) {
	case float64:
		return &v
	case bool:
		// is_up 之类的布尔量按 0/1 出数
		f := 0.0
		if v {
			f = 1.0
		}
		return &f
	default:
		return nil
	}
}

// RangeResult 多主机多路径的历史序列，对齐到统一时间轴
type RangeResult struct {
	Timestamps []int64                          `json:"timestamps"`
	Series     map[string]map[string][]*float64 `json:"series"` // 主机 -> 路径 -> 按轴对齐的值
}

// BuildRange 把各主机的指标点合并成统一时间轴上的序列
// 轴是所有主机时间戳的并集，某主机在某刻无样本时该位置为 null
func (r *Resolver) BuildRange(reportsByHost map[string][]*models.Report, paths []string) *RangeResult {
	axisSet := make(map[int64]struct{})
	for _, reports := range reportsByHost {
		for _, report := range reports {
			axisSet[report.Timestamp] = struct{}{}
		}
	}

	axis := make([]int64, 0, len(axisSet))
	for ts := range axisSet {
		axis = append(axis, ts)
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i] < axis[j] })

	result := &RangeResult{
		Timestamps: axis,
		Series:     make(map[string]map[string][]*float64, len(reportsByHost)),
	}

	for hostname, reports := range reportsByHost {
		byTS := make(map[int64]*models.Report, len(reports))
		for _, report := range reports {
			byTS[report.Timestamp] = report
		}

		hostSeries := make(map[string][]*float64, len(paths))
		for _, path := range paths {
			values := make([]*float64, len(axis))
			for i, ts := range axis {
				if report, ok := byTS[ts]; ok {
					values[i] = r.Resolve(report, path)
				}
			}
			hostSeries[path] = values
		}
		result.Series[hostname] = hostSeries
	}
	return result
}
