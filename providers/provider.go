// Package providers 封装四个外部生成能力（场景图、超分、TTS、图生视频）
// 和本地合成器。每个 Provider 归一化成功/失败为 models 错误类型，
// 并支持 mock 模式（配置哨兵值 "mock"）离线运行整条管线。
package providers

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"time"

	"AdForge-server/models"
)

// 动画任务的轮询状态
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskState Animator.Check 的归一化结果
type TaskState struct {
	Status   string // TaskPending / TaskCompleted / TaskFailed
	VideoURL string // completed 时有效
	Reason   string // failed 时有效
}

// SceneRequest 场景图生成输入
type SceneRequest struct {
	SourceURL string `validate:"required,startswith=https://"`
	Prompt    string `validate:"required"`
	Width     int    `validate:"gt=0,lte=4096"`
	Height    int    `validate:"gt=0,lte=4096"`
}

// SpeechResult 语音合成输出
type SpeechResult struct {
	Audio    []byte
	MimeType string
}

// CompositionInput 成片合成输入；VideoFragment/SpeechAudio 允许为空
type CompositionInput struct {
	Title         string
	SellingPoints []string
	AspectRatio   string
	SceneImage    []byte
	VideoFragment []byte
	SpeechAudio   []byte
	SpeechMime    string
	MusicURL      string
}

type SceneGenerator interface {
	Generate(ctx context.Context, req SceneRequest) ([]byte, error)
}

type Upscaler interface {
	// Enabled 未配置 key 时返回 false，整步跳过
	Enabled() bool
	Upscale(ctx context.Context, img []byte) ([]byte, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (SpeechResult, error)
}

type Animator interface {
	// Submit 提交异步任务，返回远端 task id
	Submit(ctx context.Context, imageURL, motionPrompt string) (string, error)
	// Check 查询一次任务状态，结果交给轮询协调器判定
	Check(ctx context.Context, taskID string) (TaskState, error)
	// Download 拉取完成后的视频字节
	Download(ctx context.Context, videoURL string) ([]byte, error)
}

type Compositor interface {
	// Compose 渲染成片到本地临时文件，调用方负责上传与清理
	Compose(ctx context.Context, in CompositionInput) (string, error)
}

// readLimited 读取响应体并强制字节上限
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &models.ValidationError{Msg: fmt.Sprintf("payload exceeds %d bytes", limit)}
	}
	return data, nil
}

func drainClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// mockPNG 确定性的 64x64 灰色 PNG，mock 模式下充当生成图
func mockPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

// silentWAV 生成 durSec 秒的静音 16bit/8kHz 单声道 WAV，
// 无 TTS 凭证时的确定性离线兜底
func silentWAV(durSec int) []byte {
	const sampleRate = 8000
	samples := sampleRate * durSec
	dataLen := samples * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

// mockMP4 mock 动画/合成输出；只需字节确定即可
var mockMP4 = []byte("\x00\x00\x00\x18ftypmp42mock-video-fragment")

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
