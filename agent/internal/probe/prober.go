package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/han-fei/fleetwatch/agent/internal/models"
)

// Result 单目标一次探测结果
type Result struct {
	Target    string    // 目标 IP
	Status    string    // success | timeout | error
	LatencyMs float64   // 平均往返时延，仅成功时有效
	Timestamp time.Time // 探测时间
}

// Prober 可达性探测协作者
type Prober interface {
	Probe(ctx context.Context, target string) Result
}

// PingProber 调用系统 ping 命令的探测实现
type PingProber struct {
	count   int
	timeout time.Duration
}

// iputils 与 BSD ping 的 rtt 汇总行，取 avg 字段
var rttPattern = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max[^=]*= [\d.]+/([\d.]+)/`)

// NewPingProber 创建 ping 探测器，系统缺少 ping 命令时返回错误
func NewPingProber(count int, timeout time.Duration) (*PingProber, error) {
	if _, err := exec.LookPath("ping"); err != nil {
		return nil, fmt.Errorf("未找到 ping 命令: %v", err)
	}
	if count <= 0 {
		count = 1
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &PingProber{count: count, timeout: timeout}, nil
}

// Probe 探测单个目标，多个回包时取平均往返时延
func (p *PingProber) Probe(ctx context.Context, target string) Result {
	res := Result{Target: target, Timestamp: time.Now()}

	waitSec := int(p.timeout.Seconds())
	if waitSec < 1 {
		waitSec = 1
	}
	// 整体超时覆盖全部发包再留余量
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(p.count)*p.timeout+2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(runCtx, "ping",
		"-c", strconv.Itoa(p.count),
		"-W", strconv.Itoa(waitSec),
		target).CombinedOutput()

	if avg, ok := parseAvgLatency(out); ok {
		res.Status = models.PingStatusSuccess
		res.LatencyMs = avg
		return res
	}
	if runCtx.Err() != nil || isNoReplyExit(err) {
		res.Status = models.PingStatusTimeout
	} else {
		res.Status = models.PingStatusError
	}
	return res
}

// parseAvgLatency 从 ping 输出中提取平均往返时延(毫秒)
func parseAvgLatency(out []byte) (float64, bool) {
	m := rttPattern.FindSubmatch(out)
	if m == nil {
		return 0, false
	}
	avg, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, false
	}
	return avg, true
}

// isNoReplyExit iputils 的退出码 1 表示发包成功但无回包
func isNoReplyExit(err error) bool {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode() == 1
	}
	return false
}
