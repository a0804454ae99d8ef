package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 采集代理配置
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Collect   CollectConfig   `yaml:"collect"`
	Collector CollectorConfig `yaml:"collector"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Probe     ProbeConfig     `yaml:"probe"`
	Capture   CaptureConfig   `yaml:"capture"`
	Log       LogConfig       `yaml:"log"`
	Advanced  AdvancedConfig  `yaml:"advanced"`
}

// AgentConfig 代理基本配置
type AgentConfig struct {
	Hostname string `yaml:"hostname"` // 主机名，留空时取系统主机名
	IP       string `yaml:"ip"`       // 上报 IP，留空时自动探测出口地址
}

// CollectConfig 采集配置
type CollectConfig struct {
	Interval   time.Duration `yaml:"interval"`    // 采集上报周期
	RateFloor  time.Duration `yaml:"rate_floor"`  // 速率计算的最小间隔
	NoiseFloor time.Duration `yaml:"noise_floor"` // 低于该间隔的周期整体跳过
}

// CollectorConfig 汇聚端配置
type CollectorConfig struct {
	URL         string        `yaml:"url"`          // 汇聚端基础地址
	Timeout     time.Duration `yaml:"timeout"`      // HTTP 请求超时
	PeerRefresh time.Duration `yaml:"peer_refresh"` // 对端目录刷新周期
}

// KafkaConfig Kafka 上报配置
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`       // 启用后走 Kafka 而非 HTTP
	Brokers      []string      `yaml:"brokers"`       // Kafka 服务器地址列表
	Topic        string        `yaml:"topic"`         // 主题名称
	BatchSize    int           `yaml:"batch_size"`    // 批处理大小
	BatchTimeout time.Duration `yaml:"batch_timeout"` // 批处理超时时间
	MaxRetry     int           `yaml:"max_retry"`     // 最大重试次数
}

// ProbeConfig 主动探测配置
type ProbeConfig struct {
	Enabled  bool          `yaml:"enabled"`  // 是否启用 ping 探测
	Interval time.Duration `yaml:"interval"` // 探测轮次周期
	Count    int           `yaml:"count"`    // 每目标发包数
	Timeout  time.Duration `yaml:"timeout"`  // 单目标超时
}

// CaptureConfig 流量采集配置
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"` // 是否启用对端流量统计
	Device  string `yaml:"device"`  // 采集网卡，留空为全部
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"` // 日志级别
	Path  string `yaml:"path"`  // 日志文件路径，留空输出到标准错误
}

// AdvancedConfig 高级配置
type AdvancedConfig struct {
	BloomFilterSize uint `yaml:"bloom_filter_size"` // 对端集合布隆过滤器位数
	BloomHashFuncs  uint `yaml:"bloom_hash_funcs"`  // 布隆过滤器哈希函数个数
}

var (
	config *Config
	once   sync.Once
)

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		config = &Config{}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			err = readErr
			return
		}
		err = yaml.Unmarshal(data, config)
		if err != nil {
			return
		}

		// 设置默认值
		if config.Collect.Interval == 0 {
			config.Collect.Interval = 10 * time.Second
		}
		if config.Collect.RateFloor == 0 {
			config.Collect.RateFloor = 100 * time.Millisecond
		}
		if config.Collect.NoiseFloor == 0 {
			config.Collect.NoiseFloor = 100 * time.Millisecond
		}
		if config.Collector.URL == "" {
			config.Collector.URL = "http://localhost:8087"
		}
		if config.Collector.Timeout == 0 {
			config.Collector.Timeout = 5 * time.Second
		}
		if config.Collector.PeerRefresh == 0 {
			config.Collector.PeerRefresh = 60 * time.Second
		}
		if config.Probe.Interval == 0 {
			config.Probe.Interval = 30 * time.Second
		}
		if config.Probe.Count == 0 {
			config.Probe.Count = 1
		}
		if config.Probe.Timeout == 0 {
			config.Probe.Timeout = 1 * time.Second
		}
		if config.Advanced.BloomFilterSize == 0 {
			config.Advanced.BloomFilterSize = 100000
		}
		if config.Advanced.BloomHashFuncs == 0 {
			config.Advanced.BloomHashFuncs = 3
		}

		// 设置 Kafka 默认值
		if config.Kafka.BatchSize == 0 {
			config.Kafka.BatchSize = 100
		}
		if config.Kafka.BatchTimeout == 0 {
			config.Kafka.BatchTimeout = 1 * time.Second
		}
		if config.Kafka.MaxRetry == 0 {
			config.Kafka.MaxRetry = 3
		}
		if config.Kafka.Topic == "" {
			config.Kafka.Topic = "fleetwatch-reports"
		}
	})
	return config, err
}

// GetConfig 获取配置
func GetConfig() *Config {
	return config
}
