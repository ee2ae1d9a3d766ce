package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"AdForge-server/config"
	"AdForge-server/models"

	"github.com/google/uuid"
)

// AnimateClient 图生视频。提交后返回远端 task id，完成与否由
// 轮询协调器驱动 Check 观测。
type AnimateClient struct {
	api    string
	key    string
	client *http.Client
	mock   bool
}

func NewAnimateClient(api, key string, callTimeout time.Duration) *AnimateClient {
	return &AnimateClient{
		api:    api,
		key:    key,
		client: newHTTPClient(callTimeout),
		mock:   api == config.MockSentinel,
	}
}

func (c *AnimateClient) Submit(ctx context.Context, imageURL, motionPrompt string) (string, error) {
	if imageURL == "" {
		return "", &models.ValidationError{Msg: "animate: image url is empty"}
	}

	if c.mock {
		return "mock-" + uuid.NewString(), nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"image_url": imageURL,
		"prompt":    motionPrompt,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api+"/v1/animate", bytes.NewReader(body))
	if err != nil {
		return "", &models.ProviderError{Provider: "animate", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &models.ProviderError{Provider: "animate", Err: err}
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", &models.ProviderError{Provider: "animate", Err: fmt.Errorf("submit status code: %d", resp.StatusCode)}
	}

	var out struct {
		TaskID string `json:"task_id"`
		ID     string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &models.ProviderError{Provider: "animate", Err: fmt.Errorf("decode response: %v", err)}
	}
	if out.TaskID != "" {
		return out.TaskID, nil
	}
	if out.ID != "" {
		return out.ID, nil
	}
	return "", &models.ProviderError{Provider: "animate", Err: fmt.Errorf("response missing task id")}
}

func (c *AnimateClient) Check(ctx context.Context, taskID string) (TaskState, error) {
	if c.mock {
		// mock 任务一查即完成
		return TaskState{Status: TaskCompleted, VideoURL: config.MockSentinel}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/tasks/%s", c.api, taskID), nil)
	if err != nil {
		return TaskState{}, &models.ProviderError{Provider: "animate", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return TaskState{}, &models.ProviderError{Provider: "animate", Err: err}
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		return TaskState{}, &models.ProviderError{Provider: "animate", Err: fmt.Errorf("check status code: %d", resp.StatusCode)}
	}

	var out struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TaskState{}, &models.ProviderError{Provider: "animate", Err: fmt.Errorf("decode response: %v", err)}
	}

	// 不同 vendor 的终态命名不统一，这里归一化
	switch out.Status {
	case "completed", "succeeded", "success", "finished":
		return TaskState{Status: TaskCompleted, VideoURL: out.VideoURL}, nil
	case "failed", "error", "cancelled":
		return TaskState{Status: TaskFailed, Reason: out.Error}, nil
	default:
		return TaskState{Status: TaskPending}, nil
	}
}

func (c *AnimateClient) Download(ctx context.Context, videoURL string) ([]byte, error) {
	if c.mock || videoURL == config.MockSentinel {
		return mockMP4, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, &models.ProviderError{Provider: "animate", Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &models.ProviderError{Provider: "animate", Err: fmt.Errorf("download: %v", err)}
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, &models.ProviderError{Provider: "animate", Err: fmt.Errorf("download status: %d", resp.StatusCode)}
	}
	data, err := readLimited(resp.Body, 256<<20)
	if err != nil {
		return nil, &models.ProviderError{Provider: "animate", Err: err}
	}
	return data, nil
}
