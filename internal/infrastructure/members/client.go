package members

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"finledger/internal/config"
	"finledger/internal/service"
)

// Client 会员目录服务的 HTTP 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.MembersConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Resolve 按会员 ID 查询展示信息
func (c *Client) Resolve(ctx context.Context, memberID int64) (*service.MemberProfile, error) {
	url := fmt.Sprintf("%s/api/members/%d", c.baseURL, memberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构造会员目录请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求会员目录失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("会员目录返回异常状态: %d", resp.StatusCode)
	}

	var profile service.MemberProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("解析会员目录响应失败: %w", err)
	}
	return &profile, nil
}
