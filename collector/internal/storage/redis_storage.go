package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/han-fei/fleetwatch/collector/internal/models"
)

// RedisStorage Redis存储实现
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	keyTTL    time.Duration
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addresses      []string      `json:"addresses"`
	Password       string        `json:"password"`
	DB             int           `json:"db"`
	PoolSize       int           `json:"pool_size"`
	KeyPrefix      string        `json:"key_prefix"`
	DefaultTTL     time.Duration `json:"default_ttl"`
	EnableCluster  bool          `json:"enable_cluster"`
	EnableSentinel bool          `json:"enable_sentinel"`
	SentinelAddrs  []string      `json:"sentinel_addrs"`
	SentinelMaster string        `json:"sentinel_master"`
}

// NewRedisStorage 创建Redis存储
func NewRedisStorage(config RedisConfig) (*RedisStorage, error) {
	var client redis.UniversalClient

	// 根据配置创建不同的Redis客户端
	if config.EnableSentinel && len(config.SentinelAddrs) > 0 {
		// 哨兵模式
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    config.SentinelMaster,
			SentinelAddrs: config.SentinelAddrs,
			Password:      config.Password,
			DB:            config.DB,
			PoolSize:      config.PoolSize,
		})
	} else if config.EnableCluster && len(config.Addresses) > 1 {
		// 集群模式
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        config.Addresses,
			Password:     config.Password,
			PoolSize:     config.PoolSize,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		})
	} else {
		// 单机模式
		addr := "localhost:6379"
		if len(config.Addresses) > 0 {
			addr = config.Addresses[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     config.Password,
			DB:           config.DB,
			PoolSize:     config.PoolSize,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		})
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %v", err)
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "fleetwatch:"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 7 * 24 * time.Hour
	}

	return &RedisStorage{
		client:    client,
		keyPrefix: config.KeyPrefix,
		keyTTL:    config.DefaultTTL,
	}, nil
}

// Close 关闭存储
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Health 健康检查
func (s *RedisStorage) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// formatKey 格式化键
func (s *RedisStorage) formatKey(key string) string {
	return s.keyPrefix + key
}

// UpsertAgent 登记代理
func (s *RedisStorage) UpsertAgent(ctx context.Context, record *models.AgentRecord) error {
	key := s.formatKey("agent:" + record.Hostname)

	pipe := s.client.Pipeline()
	// first_seen 只在键首次出现时写入，后续上报不覆盖
	pipe.HSetNX(ctx, key, "first_seen", record.FirstSeen)
	pipe.HSet(ctx, key, "hostname", record.Hostname)
	pipe.HSet(ctx, key, "agent_ip", record.AgentIP)
	pipe.HSet(ctx, key, "last_seen", record.LastSeen)
	pipe.SAdd(ctx, s.formatKey("agents"), record.Hostname)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入代理记录失败: %v", err)
	}
	return nil
}

// GetAgent 读取代理记录
func (s *RedisStorage) GetAgent(ctx context.Context, hostname string) (*models.AgentRecord, error) {
	result, err := s.client.HGetAll(ctx, s.formatKey("agent:"+hostname)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	return &models.AgentRecord{
		Hostname:  result["hostname"],
		AgentIP:   result["agent_ip"],
		FirstSeen: parseInt64(result["first_seen"]),
		LastSeen:  parseInt64(result["last_seen"]),
	}, nil
}

// ListAgents 列出全部代理
func (s *RedisStorage) ListAgents(ctx context.Context) ([]*models.AgentRecord, error) {
	hostnames, err := s.client.SMembers(ctx, s.formatKey("agents")).Result()
	if err != nil {
		return nil, err
	}

	agents := make([]*models.AgentRecord, 0, len(hostnames))
	for _, hostname := range hostnames {
		record, err := s.GetAgent(ctx, hostname)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		agents = append(agents, record)
	}
	return agents, nil
}

// SaveMetricPoint 保存指标点
// 每个点是一个哈希，按节存放 JSON，另有按时间戳排序的 ZSET 索引
func (s *RedisStorage) SaveMetricPoint(ctx context.Context, report *models.Report) error {
	key := fmt.Sprintf("metrics:%s:%d", report.Hostname, report.Timestamp)
	formattedKey := s.formatKey(key)

	sections := map[string]interface{}{
		"cpu":          report.CPU,
		"memory":       report.Memory,
		"disk_usage":   report.DiskUsage,
		"network":      report.Network,
		"disk_io":      report.DiskIO,
		"peer_traffic": report.PeerTraffic,
		"ping_results": report.PingResults,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, formattedKey, "hostname", report.Hostname)
	pipe.HSet(ctx, formattedKey, "timestamp", report.Timestamp)
	pipe.HSet(ctx, formattedKey, "interval_sec", report.IntervalSec)
	for name, section := range sections {
		data, err := json.Marshal(section)
		if err != nil {
			return fmt.Errorf("序列化指标节 %s 失败: %v", name, err)
		}
		pipe.HSet(ctx, formattedKey, "metric:"+name, data)
	}
	pipe.Expire(ctx, formattedKey, s.keyTTL)

	// 时间序列索引
	indexKey := s.formatKey("index:metrics:" + report.Hostname)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(report.Timestamp),
		Member: key, // 未加前缀的key作为成员，范围查询直接复用
	})
	pipe.Expire(ctx, indexKey, s.keyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Redis管道执行失败: %v", err)
		return fmt.Errorf("写入指标点失败: %v", err)
	}
	return nil
}

// GetMetricRange 按时间范围读取指标点
func (s *RedisStorage) GetMetricRange(ctx context.Context, hostname string, start, end int64) ([]*models.Report, error) {
	indexKey := s.formatKey("index:metrics:" + hostname)

	keys, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(start, 10),
		Max: strconv.FormatInt(end, 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	reports := make([]*models.Report, 0, len(keys))
	for _, key := range keys {
		report, err := s.readMetricPoint(ctx, s.formatKey(key))
		if err != nil {
			log.Printf("读取指标点 %s 失败: %v", key, err)
			continue
		}
		if report != nil {
			reports = append(reports, report)
		}
	}
	return reports, nil
}

// readMetricPoint 解析单个指标点哈希
func (s *RedisStorage) readMetricPoint(ctx context.Context, formattedKey string) (*models.Report, error) {
	result, err := s.client.HGetAll(ctx, formattedKey).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		// 已过期的索引成员
		return nil, nil
	}

	report := &models.Report{
		Hostname:    result["hostname"],
		Timestamp:   parseInt64(result["timestamp"]),
		IntervalSec: parseFloat(result["interval_sec"]),
	}
	unmarshalSection(result["metric:cpu"], &report.CPU)
	unmarshalSection(result["metric:memory"], &report.Memory)
	unmarshalSection(result["metric:disk_usage"], &report.DiskUsage)
	unmarshalSection(result["metric:network"], &report.Network)
	unmarshalSection(result["metric:disk_io"], &report.DiskIO)
	unmarshalSection(result["metric:peer_traffic"], &report.PeerTraffic)
	unmarshalSection(result["metric:ping_results"], &report.PingResults)
	return report, nil
}

// UpsertAlert 覆盖写入告警状态
func (s *RedisStorage) UpsertAlert(ctx context.Context, alert *models.AlertState) error {
	key := s.formatKey("alert:" + alert.AlertKey)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"alert_key", alert.AlertKey,
		"hostname", alert.Hostname,
		"alert_type", alert.AlertType,
		"specific_target", alert.SpecificTarget,
		"status", alert.Status,
		"message", alert.Message,
		"current_value", alert.CurrentValue,
		"threshold_value", alert.ThresholdValue,
		"first_triggered", alert.FirstTriggered,
		"last_active", alert.LastActive,
		"resolved_at", alert.ResolvedAt,
	)
	// 每次更新都刷新保留期，告警与指标按同一周期老化
	pipe.Expire(ctx, key, s.keyTTL)
	pipe.SAdd(ctx, s.formatKey("alerts"), alert.AlertKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入告警状态失败: %v", err)
	}
	return nil
}

// GetAlert 读取告警状态
func (s *RedisStorage) GetAlert(ctx context.Context, alertKey string) (*models.AlertState, error) {
	result, err := s.client.HGetAll(ctx, s.formatKey("alert:"+alertKey)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	return &models.AlertState{
		AlertKey:       result["alert_key"],
		Hostname:       result["hostname"],
		AlertType:      result["alert_type"],
		SpecificTarget: result["specific_target"],
		Status:         result["status"],
		Message:        result["message"],
		CurrentValue:   parseFloat(result["current_value"]),
		ThresholdValue: parseFloat(result["threshold_value"]),
		FirstTriggered: parseInt64(result["first_triggered"]),
		LastActive:     parseInt64(result["last_active"]),
		ResolvedAt:     parseInt64(result["resolved_at"]),
	}, nil
}

// ListAlerts 列出全部告警
func (s *RedisStorage) ListAlerts(ctx context.Context) ([]*models.AlertState, error) {
	keys, err := s.client.SMembers(ctx, s.formatKey("alerts")).Result()
	if err != nil {
		return nil, err
	}

	alerts := make([]*models.AlertState, 0, len(keys))
	for _, key := range keys {
		alert, err := s.GetAlert(ctx, key)
		if err != nil {
			return nil, err
		}
		if alert == nil {
			// 状态键已按保留期过期，顺带清理集合成员
			s.client.SRem(ctx, s.formatKey("alerts"), key)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// RunRetention 分批删除过期指标点
// 每批先取一段索引成员，删除数据键后再移除索引，短批即该主机清理完成
func (s *RedisStorage) RunRetention(ctx context.Context, cutoff int64, batchSize int) (int, error) {
	hostnames, err := s.client.SMembers(ctx, s.formatKey("agents")).Result()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, hostname := range hostnames {
		indexKey := s.formatKey("index:metrics:" + hostname)
		for {
			if err := ctx.Err(); err != nil {
				return total, err
			}

			keys, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
				Min:    "-inf",
				Max:    strconv.FormatInt(cutoff, 10),
				Offset: 0,
				Count:  int64(batchSize),
			}).Result()
			if err != nil {
				return total, err
			}
			if len(keys) == 0 {
				break
			}

			formattedKeys := make([]string, len(keys))
			members := make([]interface{}, len(keys))
			for i, key := range keys {
				formattedKeys[i] = s.formatKey(key)
				members[i] = key
			}

			pipe := s.client.Pipeline()
			pipe.Del(ctx, formattedKeys...)
			pipe.ZRem(ctx, indexKey, members...)
			if _, err := pipe.Exec(ctx); err != nil {
				return total, fmt.Errorf("清理主机 %s 指标失败: %v", hostname, err)
			}

			total += len(keys)
			if len(keys) < batchSize {
				break
			}
		}
	}
	return total, nil
}

func unmarshalSection(data string, v interface{}) {
	if data == "" {
		return
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		log.Printf("解析指标节失败: %v", err)
	}
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
