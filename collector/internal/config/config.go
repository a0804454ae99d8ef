package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config 汇聚端配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Topology  TopologyConfig  `yaml:"topology"`
	Retention RetentionConfig `yaml:"retention"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	QUIC      QUICConfig      `yaml:"quic"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addresses      []string `yaml:"addresses"`
	Password       string   `yaml:"password"`
	DB             int      `yaml:"db"`
	PoolSize       int      `yaml:"pool_size"`
	KeyPrefix      string   `yaml:"key_prefix"`
	EnableCluster  bool     `yaml:"enable_cluster"`
	EnableSentinel bool     `yaml:"enable_sentinel"`
	SentinelAddrs  []string `yaml:"sentinel_addrs"`
	SentinelMaster string   `yaml:"sentinel_master"`
}

// KafkaConfig Kafka消费配置
type KafkaConfig struct {
	Enabled     bool          `yaml:"enabled"`      // 启用后同时从 Kafka 消费上报
	Brokers     []string      `yaml:"brokers"`      // Kafka 服务器地址列表
	Topic       string        `yaml:"topic"`        // 主题名称
	GroupID     string        `yaml:"group_id"`     // 消费组
	Workers     int           `yaml:"workers"`      // 处理协程数
	QueueSize   int           `yaml:"queue_size"`   // 工作队列长度
	ReadTimeout time.Duration `yaml:"read_timeout"` // 单次拉取超时
}

// AlertsConfig 告警阈值配置
type AlertsConfig struct {
	CPUThreshold       float64       `yaml:"cpu_threshold"`        // CPU使用率告警阈值(%)
	MemThreshold       float64       `yaml:"mem_threshold"`        // 内存使用率告警阈值(%)
	DiskThreshold      float64       `yaml:"disk_threshold"`       // 磁盘使用率告警阈值(%)
	ChokeThreshold     float64       `yaml:"choke_threshold"`      // 网卡利用率告警阈值(%)
	LatencyThresholdMs float64       `yaml:"latency_threshold_ms"` // 高延迟告警阈值(毫秒)
	PingFailWindow     time.Duration `yaml:"ping_fail_window"`     // 探测失败的持续窗口
	Staleness          time.Duration `yaml:"staleness"`            // 主机视为活跃的最大静默时长
	DownThreshold      time.Duration `yaml:"down_threshold"`       // 判定下线的静默时长
	ScanInterval       time.Duration `yaml:"scan_interval"`        // 下线扫描周期
}

// TopologyConfig 拓扑配置
type TopologyConfig struct {
	MinRateMbps float64 `yaml:"min_rate_mbps"` // 低于该速率的边不出图
}

// RetentionConfig 数据保留配置
type RetentionConfig struct {
	Horizon         time.Duration `yaml:"horizon"`          // 指标保留时长
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // 清理任务周期
	BatchSize       int           `yaml:"batch_size"`       // 单批删除条数
}

// SnapshotConfig 最新状态缓存配置
type SnapshotConfig struct {
	CPUWindowSize int `yaml:"cpu_window_size"` // CPU走势窗口点数
}

// AuthConfig 查询接口认证配置
type AuthConfig struct {
	Enabled     bool              `yaml:"enabled"`
	JWTSecret   string            `yaml:"jwt_secret"`
	TokenExpiry time.Duration     `yaml:"token_expiration"`
	Users       map[string]string `yaml:"users"` // 用户名 -> bcrypt哈希
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	BufferSize      int           `yaml:"buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// QUICConfig QUIC推送配置
type QUICConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
	MaxIdleTimeout time.Duration `yaml:"max_idle_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	// 设置默认值
	setDefaults(config)

	return config, nil
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	// 服务默认值
	if config.Server.Port == 0 {
		config.Server.Port = 8087
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 15 * time.Second
	}
	if config.Server.IdleTimeout == 0 {
		config.Server.IdleTimeout = 60 * time.Second
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 5 * time.Second
	}

	// Redis默认值
	if len(config.Storage.Redis.Addresses) == 0 {
		config.Storage.Redis.Addresses = []string{"localhost:6379"}
	}
	if config.Storage.Redis.PoolSize == 0 {
		config.Storage.Redis.PoolSize = 10
	}
	if config.Storage.Redis.KeyPrefix == "" {
		config.Storage.Redis.KeyPrefix = "fleetwatch:"
	}

	// Kafka默认值
	if config.Kafka.Topic == "" {
		config.Kafka.Topic = "fleetwatch-reports"
	}
	if config.Kafka.GroupID == "" {
		config.Kafka.GroupID = "fleetwatch-collector"
	}
	if config.Kafka.Workers == 0 {
		config.Kafka.Workers = 4
	}
	if config.Kafka.QueueSize == 0 {
		config.Kafka.QueueSize = 256
	}
	if config.Kafka.ReadTimeout == 0 {
		config.Kafka.ReadTimeout = 10 * time.Second
	}

	// 告警默认值
	if config.Alerts.CPUThreshold == 0 {
		config.Alerts.CPUThreshold = 90
	}
	if config.Alerts.MemThreshold == 0 {
		config.Alerts.MemThreshold = 90
	}
	if config.Alerts.DiskThreshold == 0 {
		config.Alerts.DiskThreshold = 95
	}
	if config.Alerts.ChokeThreshold == 0 {
		config.Alerts.ChokeThreshold = 80
	}
	if config.Alerts.LatencyThresholdMs == 0 {
		config.Alerts.LatencyThresholdMs = 500
	}
	if config.Alerts.PingFailWindow == 0 {
		config.Alerts.PingFailWindow = 5 * time.Minute
	}
	if config.Alerts.Staleness == 0 {
		config.Alerts.Staleness = 120 * time.Second
	}
	if config.Alerts.DownThreshold == 0 {
		config.Alerts.DownThreshold = 240 * time.Second
	}
	if config.Alerts.ScanInterval == 0 {
		config.Alerts.ScanInterval = 30 * time.Second
	}

	// 拓扑默认值
	if config.Topology.MinRateMbps == 0 {
		config.Topology.MinRateMbps = 0.01
	}

	// 保留策略默认值
	if config.Retention.Horizon == 0 {
		config.Retention.Horizon = 7 * 24 * time.Hour
	}
	if config.Retention.CleanupInterval == 0 {
		config.Retention.CleanupInterval = 24 * time.Hour
	}
	if config.Retention.BatchSize == 0 {
		config.Retention.BatchSize = 5000
	}

	// 快照默认值
	if config.Snapshot.CPUWindowSize == 0 {
		config.Snapshot.CPUWindowSize = 30
	}

	// 认证默认值
	if config.Auth.TokenExpiry == 0 {
		config.Auth.TokenExpiry = 1 * time.Hour
	}

	// WebSocket默认值
	if config.WebSocket.ReadBufferSize == 0 {
		config.WebSocket.ReadBufferSize = 1024
	}
	if config.WebSocket.WriteBufferSize == 0 {
		config.WebSocket.WriteBufferSize = 1024
	}
	if config.WebSocket.MaxMessageSize == 0 {
		config.WebSocket.MaxMessageSize = 4096
	}
	if config.WebSocket.BufferSize == 0 {
		config.WebSocket.BufferSize = 256
	}
	if config.WebSocket.PingInterval == 0 {
		config.WebSocket.PingInterval = 30 * time.Second
	}
	if config.WebSocket.PingTimeout == 0 {
		config.WebSocket.PingTimeout = 90 * time.Second
	}
	if config.WebSocket.PongTimeout == 0 {
		config.WebSocket.PongTimeout = 60 * time.Second
	}
	if config.WebSocket.WriteTimeout == 0 {
		config.WebSocket.WriteTimeout = 10 * time.Second
	}

	// QUIC默认值
	if config.QUIC.Addr == "" {
		config.QUIC.Addr = ":8443"
	}
	if config.QUIC.MaxIdleTimeout == 0 {
		config.QUIC.MaxIdleTimeout = 30 * time.Second
	}

	// 日志默认值
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}
