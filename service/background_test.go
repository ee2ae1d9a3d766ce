package service

import (
	"context"
	"testing"

	"AdForge-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProject(t *testing.T, store models.Store, status string, settings models.Settings) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:       "p1",
		UserID:   "u1",
		Status:   status,
		Settings: settings,
	}
	require.NoError(t, store.CreateProject(context.Background(), p))
	return p
}

func newBackground(store models.Store, blob BlobStore) (*BackgroundOrchestrator, *fakeScene, *fakeUpscaler, *fakeTTS) {
	scene := &fakeScene{}
	up := &fakeUpscaler{enabled: true}
	tts := &fakeTTS{}
	return &BackgroundOrchestrator{
		Store:    store,
		Blob:     blob,
		Scene:    scene,
		Upscaler: up,
		TTS:      tts,
	}, scene, up, tts
}

// 端到端 A：源图已配、所有 Provider 成功 -> image_ready，
// 恰好一张场景资产，active 指针指向它
func TestBackgroundHappyPath(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	blob := NewMemoryBlob()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{
		ProductName: "Thermos",
		MainImage:   "https://cdn.example.com/thermos.png",
	})

	o, scene, up, _ := newBackground(store, blob)
	require.NoError(t, o.Run(ctx, "p1"))

	p, err := store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusImageReady, p.Status)

	scenes, err := store.FindAssets(ctx, "p1", models.AssetTypeScene)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, scenes[0].ID, p.Settings.ActiveSceneAssetID)
	assert.Equal(t, "scene+upscale", scenes[0].Provider)
	// 实际使用的 prompt 被回写
	assert.NotEmpty(t, p.Settings.ScenePrompt)
	assert.Equal(t, 1, scene.calls)
	assert.Equal(t, 1, up.calls)
}

// 优雅降级：超分一直失败 -> 仍到 image_ready，用未超分图
func TestBackgroundUpscalerFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	blob := NewMemoryBlob()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{
		MainImage: "https://cdn.example.com/thermos.png",
	})

	o, _, up, _ := newBackground(store, blob)
	up.err = failingProvider("upscale", "out of credits")

	require.NoError(t, o.Run(ctx, "p1"))

	p, _ := store.GetProject(ctx, "p1")
	assert.Equal(t, models.ProjectStatusImageReady, p.Status)
	scenes, _ := store.FindAssets(ctx, "p1", models.AssetTypeScene)
	require.Len(t, scenes, 1)
	assert.Equal(t, "scene", scenes[0].Provider)
	assert.Equal(t, false, scenes[0].Meta["upscaled"])
}

// TTS 开启且失败 -> 不产音频资产但阶段照常完成
func TestBackgroundTTSFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	blob := NewMemoryBlob()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{
		MainImage:  "https://cdn.example.com/thermos.png",
		TTSEnabled: true,
		TTSText:    "buy this thermos",
	})

	o, _, _, tts := newBackground(store, blob)
	tts.err = failingProvider("tts", "quota exceeded")

	require.NoError(t, o.Run(ctx, "p1"))

	p, _ := store.GetProject(ctx, "p1")
	assert.Equal(t, models.ProjectStatusImageReady, p.Status)
	speeches, _ := store.FindAssets(ctx, "p1", models.AssetTypeSpeech)
	assert.Empty(t, speeches)
}

func TestBackgroundCreatesSpeechAsset(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	blob := NewMemoryBlob()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{
		MainImage:  "https://cdn.example.com/thermos.png",
		TTSEnabled: true,
		TTSText:    "buy this thermos",
		TTSVoice:   "aria",
	})

	o, _, _, _ := newBackground(store, blob)
	require.NoError(t, o.Run(ctx, "p1"))

	speeches, _ := store.FindAssets(ctx, "p1", models.AssetTypeSpeech)
	require.Len(t, speeches, 1)
	assert.Equal(t, "aria", speeches[0].Meta["voice"])
	assert.Equal(t, "tts", speeches[0].Provider)
}

// 无源图：ValidationError，不可重试
func TestBackgroundNoSourceImageFailsFast(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{ProductName: "Thermos"})

	o, _, _, _ := newBackground(store, NewMemoryBlob())
	err := o.Run(ctx, "p1")

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, models.IsRetryable(err))
	// fail-fast 不碰状态，终次落 failed 由 Processor 负责
	p, _ := store.GetProject(ctx, "p1")
	assert.Equal(t, models.ProjectStatusQueued, p.Status)
}

// 并发重复入队：已越过 queued 的项目直接 no-op
func TestBackgroundDuplicateRunIsNoop(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	blob := NewMemoryBlob()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{
		MainImage: "https://cdn.example.com/thermos.png",
	})

	o, scene, _, _ := newBackground(store, blob)
	require.NoError(t, o.Run(ctx, "p1"))
	require.NoError(t, o.Run(ctx, "p1"), "duplicate invocation must no-op")

	assert.Equal(t, 1, scene.calls, "second run must not regenerate")
	scenes, _ := store.FindAssets(ctx, "p1", models.AssetTypeScene)
	assert.Len(t, scenes, 1)
}

// 幂等历史：重新生成追加新场景并重指 active，旧资产保留在历史里
func TestBackgroundRegenerateAppendsHistory(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	blob := NewMemoryBlob()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{
		MainImage: "https://cdn.example.com/thermos.png",
	})

	o, _, _, _ := newBackground(store, blob)
	require.NoError(t, o.Run(ctx, "p1"))
	first, _ := store.GetProject(ctx, "p1")

	// 用户发起重新生成：image_ready -> queued -> 再跑一轮
	_, err := store.AtomicUpdate(ctx, "p1", models.UpdateSpec{
		ExpectFrom: []string{models.ProjectStatusImageReady},
		Status:     models.ProjectStatusQueued,
	})
	require.NoError(t, err)
	require.NoError(t, o.Run(ctx, "p1"))

	second, _ := store.GetProject(ctx, "p1")
	scenes, _ := store.FindAssets(ctx, "p1", models.AssetTypeScene)
	require.Len(t, scenes, 2, "history is append-only")
	assert.NotEqual(t, first.Settings.ActiveSceneAssetID, second.Settings.ActiveSceneAssetID)
	assert.Equal(t, scenes[0].ID, second.Settings.ActiveSceneAssetID, "active points at the newest scene")
	// 旧的 active 资产仍可取回
	_, err = store.GetAsset(ctx, first.Settings.ActiveSceneAssetID)
	assert.NoError(t, err)
}
