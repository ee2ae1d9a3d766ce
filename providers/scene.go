package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"AdForge-server/config"
	"AdForge-server/models"

	"github.com/go-playground/validator/v10"
)

// MaxSourceImageBytes 源图大小上限
const MaxSourceImageBytes = 10 << 20

// 源图 content-type 白名单
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// SceneClient 调用外部背景生成服务：拉取产品源图 + prompt -> 场景图字节
type SceneClient struct {
	api         string
	key         string
	fetchClient *http.Client
	callClient  *http.Client
	validate    *validator.Validate
	mock        bool
}

func NewSceneClient(api, key string, fetchTimeout, callTimeout time.Duration) *SceneClient {
	return &SceneClient{
		api:         api,
		key:         key,
		fetchClient: newHTTPClient(fetchTimeout),
		callClient:  newHTTPClient(callTimeout),
		validate:    validator.New(),
		mock:        api == config.MockSentinel,
	}
}

func (c *SceneClient) Generate(ctx context.Context, req SceneRequest) ([]byte, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, &models.ValidationError{Msg: err.Error()}
	}

	if c.mock {
		return mockPNG(), nil
	}

	src, err := c.fetchSource(ctx, req.SourceURL)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]interface{}{
		"image_b64": base64.StdEncoding.EncodeToString(src),
		"prompt":    req.Prompt,
		"width":     req.Width,
		"height":    req.Height,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api+"/v1/scene", bytes.NewReader(body))
	if err != nil {
		return nil, &models.ProviderError{Provider: "scene", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.callClient.Do(httpReq)
	if err != nil {
		return nil, &models.ProviderError{Provider: "scene", Err: err}
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, &models.ProviderError{Provider: "scene", Err: fmt.Errorf("status code: %d", resp.StatusCode)}
	}

	var out struct {
		ImageB64 string `json:"image_b64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &models.ProviderError{Provider: "scene", Err: fmt.Errorf("decode response: %v", err)}
	}
	img, err := base64.StdEncoding.DecodeString(out.ImageB64)
	if err != nil {
		return nil, &models.ProviderError{Provider: "scene", Err: fmt.Errorf("decode image: %v", err)}
	}
	return img, nil
}

// fetchSource 拉取用户产品图：仅 https、白名单类型、强制字节上限
func (c *SceneClient) fetchSource(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.ValidationError{Msg: "bad source url: " + err.Error()}
	}
	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, &models.ProviderError{Provider: "scene", Err: fmt.Errorf("fetch source: %v", err)}
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, &models.ProviderError{Provider: "scene", Err: fmt.Errorf("fetch source status: %d", resp.StatusCode)}
	}
	ct := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !allowedImageTypes[ct] {
		return nil, &models.ValidationError{Msg: "unsupported source content-type: " + ct}
	}
	if resp.ContentLength > MaxSourceImageBytes {
		return nil, &models.ValidationError{Msg: fmt.Sprintf("source image exceeds %d bytes", int64(MaxSourceImageBytes))}
	}
	return readLimited(resp.Body, MaxSourceImageBytes)
}
