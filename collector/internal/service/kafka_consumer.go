package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/han-fei/fleetwatch/collector/internal/config"
	"github.com/han-fei/fleetwatch/collector/internal/ingest"
	"github.com/han-fei/fleetwatch/collector/internal/metrics"
	"github.com/han-fei/fleetwatch/collector/internal/models"
	"github.com/han-fei/fleetwatch/internal/utils"
)

// KafkaConsumer Kafka消费者，把主题里的上报交给采集服务
//
// 位点在消息投递到工作池后立即提交，消费语义为至多一次。
type KafkaConsumer struct {
	config  config.KafkaConfig
	reader  *kafka.Reader
	enabled bool
	pool    *utils.WorkerPool
	ingest  *ingest.Service
	metrics *metrics.Registry
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewKafkaConsumer 创建新的Kafka消费者
func NewKafkaConsumer(cfg config.KafkaConfig, svc *ingest.Service, reg *metrics.Registry) *KafkaConsumer {
	c := &KafkaConsumer{
		config:  cfg,
		ingest:  svc,
		metrics: reg,
		stopCh:  make(chan struct{}),
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return c
	}

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.LastOffset,
	})
	c.pool = utils.NewWorkerPool(cfg.Workers, cfg.QueueSize)
	c.enabled = true
	return c
}

// Start 启动消费者
func (c *KafkaConsumer) Start(ctx context.Context) error {
	if !c.enabled {
		log.Printf("Kafka消费者未启用，跳过启动")
		return nil
	}

	log.Printf("启动Kafka消费者，连接到: %v, 主题: %s, 组ID: %s",
		c.config.Brokers, c.config.Topic, c.config.GroupID)

	c.pool.Start()
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	return nil
}

// Stop 停止消费者并等待在处理的消息完成
func (c *KafkaConsumer) Stop() error {
	if !c.enabled {
		return nil
	}

	close(c.stopCh)
	c.wg.Wait()
	c.pool.Stop()

	if c.reader != nil {
		if err := c.reader.Close(); err != nil {
			return err
		}
	}

	return nil
}

// consumeLoop 消费循环
func (c *KafkaConsumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	readTimeout := c.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("Kafka消费循环收到ctx.Done信号，正在退出")
			return
		case <-c.stopCh:
			log.Printf("Kafka消费循环收到停止信号，正在退出")
			return
		default:
			readCtx, cancel := context.WithTimeout(ctx, readTimeout)
			m, err := c.reader.FetchMessage(readCtx)
			cancel()

			if err != nil {
				if err == context.DeadlineExceeded || err == context.Canceled {
					// 超时或取消，继续循环
					continue
				}
				log.Printf("从Kafka读取消息失败: %v", err)
				time.Sleep(1 * time.Second) // 避免CPU空转
				continue
			}

			value := m.Value
			if err := c.pool.SubmitWithTimeout(func() {
				c.processMessage(ctx, value)
			}, readTimeout); err != nil {
				// 工作池排不进去就在消费循环里就地处理
				c.processMessage(ctx, value)
			}

			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Printf("提交Kafka位点失败: %v", err)
			}
		}
	}
}

// processMessage 解析并入库一条上报
func (c *KafkaConsumer) processMessage(ctx context.Context, value []byte) {
	var report models.Report
	if err := json.Unmarshal(value, &report); err != nil {
		c.metrics.IngestTotal.WithLabelValues(metrics.SourceKafka, metrics.OutcomeClientError).Inc()
		log.Printf("解析Kafka消息失败: %v", err)
		return
	}

	// Kafka链路没有对端地址，身份字段缺失即拒绝
	if err := c.ingest.Ingest(ctx, &report, ""); err != nil {
		outcome := metrics.OutcomeServerError
		if utils.IsValidation(err) {
			outcome = metrics.OutcomeClientError
		}
		c.metrics.IngestTotal.WithLabelValues(metrics.SourceKafka, outcome).Inc()
		log.Printf("处理Kafka上报失败: %v", err)
		return
	}

	c.metrics.IngestTotal.WithLabelValues(metrics.SourceKafka, metrics.OutcomeOK).Inc()
}
