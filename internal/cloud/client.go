package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 云端开放接口路径（身份通过 code/token 查询参数传递）
const (
	pingPath        = "/open-accommodation-machines/ping"
	emergenciesPath = "/open-accommodation-machines/sync-emergencies"
)

// PingRequest 心跳载荷
type PingRequest struct {
	IPAddress       string `json:"ip_address"`
	MACAddress      string `json:"mac_address"`
	RoomCount       int    `json:"room_count"`
	FirmwareVersion string `json:"firmware_version"`
	Mode            string `json:"mode"`
	DeviceTime      string `json:"device_time"`
}

// EmergencyRecord 云端同步的报警记录
// 布尔值按约定渲染为小写 "true"/"false" 字符串（嵌入式 JSON 编码器的历史包袱，
// 云端照此解析，不能改）。
type EmergencyRecord struct {
	RoomName  string `json:"roomName"`
	AlarmTime string `json:"alarmTime"`
	Reference string `json:"reference"`
	IsSent    string `json:"isSent"`
	Mode      string `json:"mode"`
	Synced    string `json:"synced"`
}

// Client 云端 API 客户端
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient 创建云端客户端
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0). // 重试交给下一个心跳周期
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:   client,
		logger: logger,
	}
}

// Ping 心跳：PUT {base}/open-accommodation-machines/ping?code=&token=
// 200 时返回响应体（裸母机地址字符串，可能为空）。
func (c *Client) Ping(ctx context.Context, code, token string, req *PingRequest) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("code", code).
		SetQueryParam("token", token).
		SetBody(req).
		Put(pingPath)
	if err != nil {
		return "", fmt.Errorf("failed to ping cloud: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("ping rejected: status %d", resp.StatusCode())
	}

	body := strings.TrimSpace(resp.String())
	body = strings.Trim(body, `"`)
	return body, nil
}

// SyncEmergencies 批量上报未同步报警：
// POST {base}/open-accommodation-machines/sync-emergencies?code=&token=
// 200 响应体是已入账的 reference 列表。
func (c *Client) SyncEmergencies(ctx context.Context, code, token string, batch []EmergencyRecord) ([]string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("code", code).
		SetQueryParam("token", token).
		SetBody(batch).
		Post(emergenciesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to sync emergencies: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("emergency sync rejected: status %d", resp.StatusCode())
	}

	var references []string
	if err := json.Unmarshal(resp.Body(), &references); err != nil {
		return nil, fmt.Errorf("failed to parse sync response: %w", err)
	}

	c.logger.Debug("Emergency sync acknowledged",
		zap.Int("sent", len(batch)),
		zap.Int("acknowledged", len(references)),
	)
	return references, nil
}
