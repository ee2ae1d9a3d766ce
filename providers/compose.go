package providers

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"AdForge-server/config"
	"AdForge-server/models"

	"github.com/google/uuid"
)

// FFmpegCompositor 本地 ffmpeg 合成成片：场景图/动画片段 + 旁白 + 配乐。
// mock 模式不依赖 ffmpeg 二进制，直接写确定性字节。
type FFmpegCompositor struct {
	bin     string
	workDir string
	mock    bool
}

func NewFFmpegCompositor(bin, workDir string) *FFmpegCompositor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &FFmpegCompositor{
		bin:     bin,
		workDir: workDir,
		mock:    bin == config.MockSentinel,
	}
}

func (c *FFmpegCompositor) Compose(ctx context.Context, in CompositionInput) (string, error) {
	if len(in.SceneImage) == 0 && len(in.VideoFragment) == 0 {
		return "", &models.ValidationError{Msg: "compose: no scene image or video fragment"}
	}

	dir := filepath.Join(c.workDir, "render-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &models.ProviderError{Provider: "compose", Err: err}
	}
	outPath := filepath.Join(dir, "final.mp4")

	if c.mock {
		if err := os.WriteFile(outPath, mockMP4, 0o644); err != nil {
			return "", &models.ProviderError{Provider: "compose", Err: err}
		}
		return outPath, nil
	}

	args, err := c.buildArgs(dir, outPath, in)
	if err != nil {
		return "", err
	}

	log.Printf("[Compose] %s %s", c.bin, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return "", &models.ProviderError{Provider: "compose", Err: fmt.Errorf("ffmpeg: %v: %s", err, msg)}
	}
	return outPath, nil
}

// buildArgs 把输入字节落盘并拼 ffmpeg 参数。
// 视频轨优先用动画片段，否则用静态场景图循环 6 秒。
func (c *FFmpegCompositor) buildArgs(dir, outPath string, in CompositionInput) ([]string, error) {
	args := []string{"-y"}

	if len(in.VideoFragment) > 0 {
		fragPath := filepath.Join(dir, "fragment.mp4")
		if err := os.WriteFile(fragPath, in.VideoFragment, 0o644); err != nil {
			return nil, &models.ProviderError{Provider: "compose", Err: err}
		}
		args = append(args, "-i", fragPath)
	} else {
		imgPath := filepath.Join(dir, "scene.png")
		if err := os.WriteFile(imgPath, in.SceneImage, 0o644); err != nil {
			return nil, &models.ProviderError{Provider: "compose", Err: err}
		}
		args = append(args, "-loop", "1", "-t", "6", "-i", imgPath)
	}

	audioInputs := 0
	if len(in.SpeechAudio) > 0 {
		ext := ".mp3"
		if strings.Contains(in.SpeechMime, "wav") {
			ext = ".wav"
		}
		speechPath := filepath.Join(dir, "speech"+ext)
		if err := os.WriteFile(speechPath, in.SpeechAudio, 0o644); err != nil {
			return nil, &models.ProviderError{Provider: "compose", Err: err}
		}
		args = append(args, "-i", speechPath)
		audioInputs++
	}
	if in.MusicURL != "" {
		args = append(args, "-i", in.MusicURL)
		audioInputs++
	}

	switch audioInputs {
	case 2:
		// 旁白为主，配乐压低
		args = append(args, "-filter_complex",
			"[1:a]volume=1.0[va];[2:a]volume=0.25[vb];[va][vb]amix=inputs=2:duration=first[aout]",
			"-map", "0:v", "-map", "[aout]")
	case 1:
		args = append(args, "-map", "0:v", "-map", "1:a")
	default:
		args = append(args, "-map", "0:v")
	}

	scale := "1080:1920"
	if in.AspectRatio == "16:9" {
		scale = "1920:1080"
	} else if in.AspectRatio == "1:1" {
		scale = "1080:1080"
	}
	vf := fmt.Sprintf("scale=%s:force_original_aspect_ratio=decrease,pad=%s:(ow-iw)/2:(oh-ih)/2", scale, scale)
	// 标题压顶部，卖点从下三分之一逐行排
	if in.Title != "" {
		vf += fmt.Sprintf(",drawtext=text='%s':fontsize=64:fontcolor=white:borderw=3:bordercolor=black:x=(w-text_w)/2:y=h*0.08",
			drawtextEscape(in.Title))
	}
	for i, point := range in.SellingPoints {
		vf += fmt.Sprintf(",drawtext=text='%s':fontsize=40:fontcolor=white:borderw=2:bordercolor=black:x=(w-text_w)/2:y=h*0.7+%d",
			drawtextEscape(point), i*56)
	}
	args = append(args,
		"-vf", vf,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-shortest",
		outPath,
	)
	return args, nil
}

// drawtextEscape 转义 drawtext 文本里的 filter 特殊字符
func drawtextEscape(s string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	).Replace(s)
}
