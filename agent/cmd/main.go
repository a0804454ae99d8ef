package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/han-fei/fleetwatch/agent/internal/config"
	"github.com/han-fei/fleetwatch/agent/internal/peerflow"
	"github.com/han-fei/fleetwatch/agent/internal/probe"
	"github.com/han-fei/fleetwatch/agent/internal/report"
	"github.com/han-fei/fleetwatch/agent/internal/sampler"
	"github.com/han-fei/fleetwatch/agent/internal/transport"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/agent.yaml", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	if cfg.Log.Path != "" {
		f, err := os.OpenFile(cfg.Log.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("打开日志文件失败: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	// 解析自身身份，失败直接退出
	hostname := cfg.Agent.Hostname
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			log.Fatalf("无法确定主机名: %v", err)
		}
	}
	agentIP := cfg.Agent.IP
	if agentIP == "" {
		agentIP, err = detectLocalIP(cfg.Collector.URL)
		if err != nil {
			log.Fatalf("无法确定本机地址: %v", err)
		}
	}
	collectorHost := collectorHostname(cfg.Collector.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 上报通道：启用 Kafka 时走 Kafka，否则 HTTP
	var sender transport.Reporter
	if cfg.Kafka.Enabled {
		sender = transport.NewKafkaReporter(cfg.Kafka)
		log.Printf("上报通道: kafka %v 主题 %s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		sender = transport.NewHTTPReporter(cfg.Collector.URL, cfg.Collector.Timeout)
		log.Printf("上报通道: %s", cfg.Collector.URL)
	}
	defer sender.Close()

	directory := transport.NewDirectoryClient(cfg.Collector.URL, cfg.Collector.Timeout)
	peers := peerflow.NewPeerSet(cfg.Advanced.BloomFilterSize, cfg.Advanced.BloomHashFuncs)
	flows := peerflow.NewAccumulator()
	classifier := peerflow.NewClassifier(peers, flows)

	// 抓包后端不可用时对端流量统计整个进程内禁用，其余照常
	var source peerflow.PacketSource = peerflow.NopPacketSource{}
	if cfg.Capture.Enabled {
		log.Printf("抓包后端不可用，对端流量统计禁用")
	}

	// ping 命令缺失时探测子系统整个进程内禁用
	var prober probe.Prober
	if cfg.Probe.Enabled {
		p, err := probe.NewPingProber(cfg.Probe.Count, cfg.Probe.Timeout)
		if err != nil {
			log.Printf("探测子系统禁用: %v", err)
		} else {
			prober = p
		}
	}
	tracker := probe.NewTracker(prober)

	assembler := report.NewAssembler(hostname, agentIP, cfg.Collect.NoiseFloor,
		sampler.NewSystemSampler(), sampler.NewRateEngine(cfg.Collect.RateFloor),
		flows, tracker, sender)

	g, gctx := errgroup.WithContext(ctx)

	// 上报循环
	g.Go(func() error {
		return assembler.Run(gctx, cfg.Collect.Interval)
	})

	// 包分类
	g.Go(func() error {
		classifier.Run(gctx, source)
		return gctx.Err()
	})

	// 对端目录刷新
	g.Go(func() error {
		refreshPeers(gctx, directory, peers)
		ticker := time.NewTicker(cfg.Collector.PeerRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				refreshPeers(gctx, directory, peers)
			}
		}
	})

	// 探测轮
	if prober != nil {
		g.Go(func() error {
			round := func() {
				targets := probe.Targets(peers.Snapshot(), collectorHost, agentIP)
				tracker.RunRound(gctx, targets)
			}
			round()
			ticker := time.NewTicker(cfg.Probe.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					round()
				}
			}
		})
	}

	fmt.Println("fleetwatch 采集代理已启动...")
	log.Printf("主机 %s (%s) 每 %v 上报一次", hostname, agentIP, cfg.Collect.Interval)

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("正在关闭采集代理...")
	case <-gctx.Done():
	}
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("后台任务退出: %v", err)
	}
	fmt.Println("采集代理已关闭")
}

// refreshPeers 拉取对端目录，失败视为目录无变化
func refreshPeers(ctx context.Context, directory *transport.DirectoryClient, peers *peerflow.PeerSet) {
	ips, err := directory.FetchPeers(ctx)
	if err != nil {
		log.Printf("刷新对端目录失败(保持现状): %v", err)
		return
	}
	peers.Replace(ips)
}

// collectorHostname 从汇聚端 URL 提取主机部分，用作探测目标
func collectorHostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// detectLocalIP 通过到汇聚端的 UDP 连接探测本机出口地址
func detectLocalIP(collectorURL string) (string, error) {
	u, err := url.Parse(collectorURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("无法解析汇聚端地址 %q", collectorURL)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}

	conn, err := net.Dial("udp", host)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("意外的本地地址类型 %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
