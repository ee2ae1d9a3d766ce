package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{ProjectStatusDraft, ProjectStatusQueued, true},
		{ProjectStatusDraft, ProjectStatusGeneratingImage, true},
		{ProjectStatusQueued, ProjectStatusGeneratingImage, true},
		{ProjectStatusGeneratingImage, ProjectStatusImageReady, true},
		{ProjectStatusImageReady, ProjectStatusGeneratingVideo, true},
		{ProjectStatusImageReady, ProjectStatusQueued, true}, // 重新生成
		{ProjectStatusGeneratingVideo, ProjectStatusCompleted, true},
		{ProjectStatusFailed, ProjectStatusQueued, true},
		// failed 只能从执行中状态进入
		{ProjectStatusQueued, ProjectStatusFailed, true},
		{ProjectStatusGeneratingImage, ProjectStatusFailed, true},
		{ProjectStatusGeneratingVideo, ProjectStatusFailed, true},
		{ProjectStatusDraft, ProjectStatusFailed, false},
		// 禁止跳级
		{ProjectStatusDraft, ProjectStatusCompleted, false},
		{ProjectStatusDraft, ProjectStatusImageReady, false},
		{ProjectStatusQueued, ProjectStatusCompleted, false},
		{ProjectStatusImageReady, ProjectStatusCompleted, false},
		// 终态不可离开（除 failed 重试）
		{ProjectStatusCompleted, ProjectStatusQueued, false},
		{ProjectStatusCompleted, ProjectStatusFailed, false},
		// 人工关卡不可被管线自动越过
		{ProjectStatusGeneratingImage, ProjectStatusGeneratingVideo, false},
		// 重试重入
		{ProjectStatusGeneratingImage, ProjectStatusGeneratingImage, true},
		{ProjectStatusGeneratingVideo, ProjectStatusGeneratingVideo, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestSettingsApply(t *testing.T) {
	s := Settings{
		ProductName: "Thermos",
		Description: "keeps drinks hot",
		MusicTheme:  "calm",
	}

	name := "Thermos Pro"
	active := "asset-1"
	s.Apply(&SettingsPatch{
		ProductName:        &name,
		ActiveSceneAssetID: &active,
	})

	assert.Equal(t, "Thermos Pro", s.ProductName)
	assert.Equal(t, "asset-1", s.ActiveSceneAssetID)
	// 未出现在补丁里的键不被碰
	assert.Equal(t, "keeps drinks hot", s.Description)
	assert.Equal(t, "calm", s.MusicTheme)

	// nil 补丁是 no-op
	s.Apply(nil)
	assert.Equal(t, "Thermos Pro", s.ProductName)
}

func newTestProject(t *testing.T, store Store, status string) *Project {
	t.Helper()
	p := &Project{
		ID:     "p1",
		UserID: "u1",
		Status: status,
		Settings: Settings{
			ProductName: "Thermos",
			MainImage:   "https://cdn.example.com/thermos.png",
		},
	}
	require.NoError(t, store.CreateProject(context.Background(), p))
	return p
}

func TestMemoryStoreAtomicUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newTestProject(t, store, ProjectStatusQueued)

	// 状态与补丁一次写入
	prompt := "studio shot"
	p, err := store.AtomicUpdate(ctx, "p1", UpdateSpec{
		ExpectFrom: []string{ProjectStatusQueued},
		Status:     ProjectStatusGeneratingImage,
		Patch:      &SettingsPatch{ScenePrompt: &prompt},
	})
	require.NoError(t, err)
	assert.Equal(t, ProjectStatusGeneratingImage, p.Status)
	assert.Equal(t, "studio shot", p.Settings.ScenePrompt)

	// 期望状态不匹配：StateConflictError，且项目不被改动
	_, err = store.AtomicUpdate(ctx, "p1", UpdateSpec{
		ExpectFrom: []string{ProjectStatusDraft},
		Status:     ProjectStatusQueued,
	})
	var sc *StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, ProjectStatusGeneratingImage, sc.Current)

	got, err := store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ProjectStatusGeneratingImage, got.Status)

	// 非法流转同样被拒绝（即使没有 ExpectFrom）
	_, err = store.AtomicUpdate(ctx, "p1", UpdateSpec{Status: ProjectStatusCompleted})
	require.ErrorAs(t, err, &sc)

	// 不存在的项目
	_, err = store.AtomicUpdate(ctx, "missing", UpdateSpec{Status: ProjectStatusQueued})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFailedRecordsError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	newTestProject(t, store, ProjectStatusGeneratingImage)

	msg := "provider scene: status code: 502"
	now := time.Now()
	p, err := store.AtomicUpdate(ctx, "p1", UpdateSpec{
		Status: ProjectStatusFailed,
		Patch:  &SettingsPatch{LastError: &msg, FailedAt: &now},
	})
	require.NoError(t, err)
	assert.Equal(t, ProjectStatusFailed, p.Status)
	assert.Equal(t, msg, p.Settings.LastError)
	require.NotNil(t, p.Settings.FailedAt)
}

func TestMemoryStoreAssets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	older := &Asset{ID: "a1", ProjectID: "p1", Type: AssetTypeScene, CreatedAt: time.Now().Add(-time.Minute)}
	newer := &Asset{ID: "a2", ProjectID: "p1", Type: AssetTypeScene, CreatedAt: time.Now()}
	other := &Asset{ID: "a3", ProjectID: "p1", Type: AssetTypeUpscaled, CreatedAt: time.Now()}
	require.NoError(t, store.CreateAsset(ctx, older))
	require.NoError(t, store.CreateAsset(ctx, newer))
	require.NoError(t, store.CreateAsset(ctx, other))

	scenes, err := store.FindAssets(ctx, "p1", AssetTypeScene)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	// 创建时间倒序
	assert.Equal(t, "a2", scenes[0].ID)
	assert.Equal(t, "a1", scenes[1].ID)

	all, err := store.FindAssets(ctx, "p1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = store.GetAsset(ctx, "a3")
	require.NoError(t, err)
	_, err = store.GetAsset(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
