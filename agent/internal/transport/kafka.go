package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/han-fei/fleetwatch/agent/internal/config"
	"github.com/han-fei/fleetwatch/agent/internal/models"
)

// KafkaReporter 通过 Kafka 主题上报
type KafkaReporter struct {
	writer   *kafka.Writer
	maxRetry int
}

// NewKafkaReporter 创建 Kafka 上报器
func NewKafkaReporter(cfg config.KafkaConfig) *KafkaReporter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaReporter{
		writer:   writer,
		maxRetry: cfg.MaxRetry,
	}
}

// Send 序列化后写入主题，失败时指数退避重试
func (k *KafkaReporter) Send(ctx context.Context, report *models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化上报数据失败: %v", err)
	}

	msg := kafka.Message{
		Key:   []byte(report.Hostname),
		Value: data,
		Time:  time.Now(),
	}

	var lastErr error
	for i := 0; i < k.maxRetry; i++ {
		if lastErr = k.writer.WriteMessages(ctx, msg); lastErr == nil {
			return nil
		}
		// 指数退避
		time.Sleep(time.Duration(1<<uint(i)) * 100 * time.Millisecond)
	}
	return fmt.Errorf("写入 Kafka 失败(重试 %d 次): %v", k.maxRetry, lastErr)
}

// Close 关闭底层 writer
func (k *KafkaReporter) Close() error {
	return k.writer.Close()
}
