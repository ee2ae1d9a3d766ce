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

// TTSClient 语音合成。未配置 api/key 时退化为确定性静音音频，
// 保证无凭证也能跑通整条管线
type TTSClient struct {
	api    string
	key    string
	client *http.Client
	mock   bool
}

func NewTTSClient(api, key string, callTimeout time.Duration) *TTSClient {
	return &TTSClient{
		api:    api,
		key:    key,
		client: newHTTPClient(callTimeout),
		mock:   api == config.MockSentinel,
	}
}

func (c *TTSClient) Synthesize(ctx context.Context, text, voice string) (SpeechResult, error) {
	if text == "" {
		return SpeechResult{}, &models.ValidationError{Msg: "tts text is empty"}
	}

	// mock 或无凭证：静音 WAV 兜底
	if c.mock || c.api == "" || c.key == "" {
		return SpeechResult{Audio: silentWAV(2), MimeType: "audio/wav"}, nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"text":  text,
		"voice": voice,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api+"/v1/speech", bytes.NewReader(body))
	if err != nil {
		return SpeechResult{}, &models.ProviderError{Provider: "tts", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return SpeechResult{}, &models.ProviderError{Provider: "tts", Err: err}
	}
	defer drainClose(resp)
	if resp.StatusCode != http.StatusOK {
		return SpeechResult{}, &models.ProviderError{Provider: "tts", Err: fmt.Errorf("status code: %d", resp.StatusCode)}
	}

	var out struct {
		AudioB64 string `json:"audio_b64"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SpeechResult{}, &models.ProviderError{Provider: "tts", Err: fmt.Errorf("decode response: %v", err)}
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioB64)
	if err != nil {
		return SpeechResult{}, &models.ProviderError{Provider: "tts", Err: fmt.Errorf("decode audio: %v", err)}
	}
	mime := out.MimeType
	if mime == "" {
		mime = "audio/mpeg"
	}
	return SpeechResult{Audio: audio, MimeType: mime}, nil
}
