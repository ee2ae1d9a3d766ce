package service

import (
	"context"
	"os"
	"path/filepath"

	"AdForge-server/models"
	"AdForge-server/providers"
)

// 各 Provider 的测试替身；编排器依赖接口，这里直接替换

type fakeScene struct {
	img   []byte
	err   error
	calls int
	last  providers.SceneRequest
}

func (f *fakeScene) Generate(ctx context.Context, req providers.SceneRequest) ([]byte, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.img == nil {
		return []byte("scene-png"), nil
	}
	return f.img, nil
}

type fakeUpscaler struct {
	enabled bool
	err     error
	calls   int
}

func (f *fakeUpscaler) Enabled() bool { return f.enabled }

func (f *fakeUpscaler) Upscale(ctx context.Context, img []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append(append([]byte{}, img...), []byte("-2x")...), nil
}

type fakeTTS struct {
	err   error
	calls int
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, voice string) (providers.SpeechResult, error) {
	f.calls++
	if f.err != nil {
		return providers.SpeechResult{}, f.err
	}
	return providers.SpeechResult{Audio: []byte("audio-wav"), MimeType: "audio/wav"}, nil
}

// fakeAnimator Check 按 states 序列依次返回，走完后重复最后一个
type fakeAnimator struct {
	submitErr   error
	states      []providers.TaskState
	checkIdx    int
	video       []byte
	downloadErr error
}

func (f *fakeAnimator) Submit(ctx context.Context, imageURL, prompt string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "task-1", nil
}

func (f *fakeAnimator) Check(ctx context.Context, taskID string) (providers.TaskState, error) {
	if len(f.states) == 0 {
		return providers.TaskState{Status: providers.TaskCompleted, VideoURL: "https://out/fragment.mp4"}, nil
	}
	st := f.states[f.checkIdx]
	if f.checkIdx < len(f.states)-1 {
		f.checkIdx++
	}
	return st, nil
}

func (f *fakeAnimator) Download(ctx context.Context, videoURL string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	if f.video == nil {
		return []byte("fragment-mp4"), nil
	}
	return f.video, nil
}

type fakeCompositor struct {
	err  error
	last providers.CompositionInput
}

func (f *fakeCompositor) Compose(ctx context.Context, in providers.CompositionInput) (string, error) {
	f.last = in
	if f.err != nil {
		return "", f.err
	}
	dir, err := os.MkdirTemp("", "render-test-")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "final.mp4")
	if err := os.WriteFile(path, []byte("final-mp4"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func failingProvider(name, msg string) error {
	return &models.ProviderError{Provider: name, Err: errString(msg)}
}

type errString string

func (e errString) Error() string { return string(e) }
