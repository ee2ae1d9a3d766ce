package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"AdForge-server/config"
	"AdForge-server/models"
)

// MaxUpscaleInputBytes 超分服务的像素预算近似换算；超限直接报错，
// 由调用方预先压缩
const MaxUpscaleInputBytes = 16 << 20

// UpscaleClient 图像超分。可选能力：key 为空时 Enabled() 返回 false
type UpscaleClient struct {
	api    string
	key    string
	client *http.Client
	mock   bool
}

func NewUpscaleClient(api, key string, callTimeout time.Duration) *UpscaleClient {
	return &UpscaleClient{
		api:    api,
		key:    key,
		client: newHTTPClient(callTimeout),
		mock:   api == config.MockSentinel,
	}
}

func (c *UpscaleClient) Enabled() bool {
	return c.mock || (c.api != "" && c.key != "")
}

func (c *UpscaleClient) Upscale(ctx context.Context, img []byte) ([]byte, error) {
	if !c.Enabled() {
		return nil, &models.ValidationError{Msg: "upscaler not configured"}
	}
	if len(img) > MaxUpscaleInputBytes {
		return nil, &models.ValidationError{Msg: fmt.Sprintf("upscale input exceeds %d bytes", int64(MaxUpscaleInputBytes))}
	}

	if c.mock {
		// mock 超分：原样返回并追加标记，便于测试断言走过这一步
		out := make([]byte, 0, len(img)+4)
		out = append(out, img...)
		return append(out, []byte("up2x")...), nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"image_b64": base64.StdEncoding.EncodeToString(img),
		"scale":     2,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api+"/v1/upscale", bytes.NewReader(body))
	if err != nil {
		return nil, &models.ProviderError{Provider: "upscale", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &models.ProviderError{Provider: "upscale", Err: err}
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, &models.ProviderError{Provider: "upscale", Err: fmt.Errorf("status code: %d", resp.StatusCode)}
	}

	var out struct {
		ImageB64 string `json:"image_b64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &models.ProviderError{Provider: "upscale", Err: fmt.Errorf("decode response: %v", err)}
	}
	upscaled, err := base64.StdEncoding.DecodeString(out.ImageB64)
	if err != nil {
		return nil, &models.ProviderError{Provider: "upscale", Err: fmt.Errorf("decode image: %v", err)}
	}
	return upscaled, nil
}
