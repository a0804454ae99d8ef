package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/han-fei/fleetwatch/agent/internal/models"
)

// Reporter 上报通道
type Reporter interface {
	Send(ctx context.Context, report *models.Report) error
	Close() error
}

// HTTPReporter 通过 HTTP POST 向汇聚端上报
type HTTPReporter struct {
	dataURL string
	client  *http.Client
}

// NewHTTPReporter 创建 HTTP 上报器
func NewHTTPReporter(baseURL string, timeout time.Duration) *HTTPReporter {
	return &HTTPReporter{
		dataURL: strings.TrimRight(baseURL, "/") + "/data",
		client:  &http.Client{Timeout: timeout},
	}
}

// Send 序列化并上报一个 Report
func (r *HTTPReporter) Send(ctx context.Context, report *models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化上报数据失败: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.dataURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("上报请求失败: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("汇聚端返回状态 %d", resp.StatusCode)
	}
	return nil
}

// Close 无连接状态可释放
func (r *HTTPReporter) Close() error { return nil }

// DirectoryClient 对端目录客户端
type DirectoryClient struct {
	peersURL string
	client   *http.Client
}

// NewDirectoryClient 创建目录客户端
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{
		peersURL: strings.TrimRight(baseURL, "/") + "/api/peers",
		client:   &http.Client{Timeout: timeout},
	}
}

// FetchPeers 拉取当前活跃对端 IP 列表
func (d *DirectoryClient) FetchPeers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.peersURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("拉取对端目录失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("对端目录返回状态 %d", resp.StatusCode)
	}

	var body struct {
		Peers []string `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("解析对端目录失败: %v", err)
	}
	return body.Peers, nil
}
