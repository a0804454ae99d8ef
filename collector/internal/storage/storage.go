package storage

import (
	"context"

	"github.com/han-fei/fleetwatch/collector/internal/models"
)

// Store 汇聚端存储接口
type Store interface {
	// UpsertAgent 登记代理，已存在时保留首次上报时间
	UpsertAgent(ctx context.Context, record *models.AgentRecord) error

	// GetAgent 读取单个代理记录，不存在时返回 nil
	GetAgent(ctx context.Context, hostname string) (*models.AgentRecord, error)

	// ListAgents 列出全部已知代理
	ListAgents(ctx context.Context) ([]*models.AgentRecord, error)

	// SaveMetricPoint 追加一条指标点，写入失败视为本次摄入失败
	SaveMetricPoint(ctx context.Context, report *models.Report) error

	// GetMetricRange 按时间范围读取某主机的指标点，时间升序
	GetMetricRange(ctx context.Context, hostname string, start, end int64) ([]*models.Report, error)

	// UpsertAlert 覆盖写入告警状态并刷新保留期
	UpsertAlert(ctx context.Context, alert *models.AlertState) error

	// GetAlert 读取单条告警状态，不存在时返回 nil
	GetAlert(ctx context.Context, alertKey string) (*models.AlertState, error)

	// ListAlerts 列出全部告警状态
	ListAlerts(ctx context.Context) ([]*models.AlertState, error)

	// RunRetention 删除早于 cutoff 的指标点，分批进行，返回删除条数
	RunRetention(ctx context.Context, cutoff int64, batchSize int) (int, error)

	// Health 存储健康检查
	Health(ctx context.Context) error

	// Close 关闭存储连接
	Close() error
}
