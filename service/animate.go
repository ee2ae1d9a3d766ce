package service

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"AdForge-server/models"
	"AdForge-server/providers"

	"github.com/google/uuid"
)

// AnimationOrchestrator 第二阶段：批准后的场景图 -> 动画片段（尽力而为）
// -> 成片合成 -> completed。只允许从 image_ready 进入。
type AnimationOrchestrator struct {
	Store      models.Store
	Blob       BlobStore
	Animator   providers.Animator
	Compositor providers.Compositor

	PollMaxAttempts int
	PollInterval    time.Duration
}

// Run 执行一次动画阶段尝试。动画子步骤失败时降级为静态场景图成片，
// 用户始终能拿到可交付产物；合成/上传失败上抛给队列重试。
func (o *AnimationOrchestrator) Run(ctx context.Context, projectID string) error {
	project, err := o.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	// 前置条件强校验：阶段不可从任意状态重入。
	// generating_video 例外，是本阶段自身重试的重入态。
	if project.Status != models.ProjectStatusImageReady && project.Status != models.ProjectStatusGeneratingVideo {
		return &models.PreconditionError{ProjectID: projectID, Status: project.Status, Want: models.ProjectStatusImageReady}
	}

	project, err = o.Store.AtomicUpdate(ctx, projectID, models.UpdateSpec{
		ExpectFrom: []string{models.ProjectStatusImageReady, models.ProjectStatusGeneratingVideo},
		Status:     models.ProjectStatusGeneratingVideo,
	})
	if err != nil {
		return err
	}

	scene, err := o.resolveActiveScene(ctx, project)
	if err != nil {
		return err
	}
	speech := o.resolveSpeech(ctx, projectID)

	fragment := o.animate(ctx, project, scene)

	sceneBytes, err := o.Blob.Download(ctx, scene.StorageURL)
	if err != nil {
		return &models.ProviderError{Provider: "storage", Err: fmt.Errorf("read scene asset: %w", err)}
	}

	in := providers.CompositionInput{
		Title:         project.Settings.ProductName,
		SellingPoints: project.Settings.SellingPoints,
		AspectRatio:   project.Settings.AspectRatio,
		SceneImage:    sceneBytes,
		VideoFragment: fragment,
		MusicURL:      MusicForTheme(project.Settings.MusicTheme),
	}
	if speech != nil {
		audio, aErr := o.Blob.Download(ctx, speech.StorageURL)
		if aErr != nil {
			log.Printf("[Animate] speech asset unreadable, composing without narration: %v", aErr)
		} else {
			in.SpeechAudio = audio
			if mime, ok := speech.Meta["mime"].(string); ok {
				in.SpeechMime = mime
			}
		}
	}

	localPath, err := o.Compositor.Compose(ctx, in)
	if err != nil {
		return err
	}
	// 本地渲染产物无论上传成败都清掉，清理失败只记日志
	defer func() {
		if rmErr := os.RemoveAll(filepath.Dir(localPath)); rmErr != nil {
			log.Printf("[Animate] temp render cleanup failed: %v", rmErr)
		}
	}()

	finalURL, err := o.uploadFinal(ctx, projectID, localPath)
	if err != nil {
		return err
	}

	_, err = o.Store.AtomicUpdate(ctx, projectID, models.UpdateSpec{
		ExpectFrom:     []string{models.ProjectStatusGeneratingVideo},
		Status:         models.ProjectStatusCompleted,
		ResultVideoURL: &finalURL,
	})
	if err != nil {
		return err
	}
	log.Printf("[Animate] project %s completed: %s", projectID, finalURL)
	return nil
}

// resolveActiveScene 找当前使用的场景图：优先 settings.activeSceneAssetId，
// 指针失效时回退到最新一张场景图并告警。
func (o *AnimationOrchestrator) resolveActiveScene(ctx context.Context, project *models.Project) (*models.Asset, error) {
	if id := project.Settings.ActiveSceneAssetID; id != "" {
		asset, err := o.Store.GetAsset(ctx, id)
		if err == nil {
			return asset, nil
		}
		log.Printf("[Animate] project %s activeSceneAssetId %s is stale, falling back to latest scene", project.ID, id)
	}
	scenes, err := o.Store.FindAssets(ctx, project.ID, models.AssetTypeScene)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, &models.PreconditionError{ProjectID: project.ID, Status: project.Status, Want: "a scene asset"}
	}
	return &scenes[0], nil
}

// resolveSpeech 最新旁白音频，可为空
func (o *AnimationOrchestrator) resolveSpeech(ctx context.Context, projectID string) *models.Asset {
	speeches, err := o.Store.FindAssets(ctx, projectID, models.AssetTypeSpeech)
	if err != nil || len(speeches) == 0 {
		return nil
	}
	return &speeches[0]
}

// animate 图生视频整链（提交/轮询/下载/落资产）尽力而为：
// 任何一步失败都返回 nil，成片退回静态场景图。
func (o *AnimationOrchestrator) animate(ctx context.Context, project *models.Project, scene *models.Asset) []byte {
	taskID, err := o.Animator.Submit(ctx, scene.StorageURL, project.Settings.AnimationPrompt)
	if err != nil {
		log.Printf("[Animate] submit failed, degrading to static scene: %v", err)
		return nil
	}

	videoURL, err := Poll(ctx, taskID, func(ctx context.Context, id string) (CheckResult, error) {
		st, cErr := o.Animator.Check(ctx, id)
		if cErr != nil {
			return CheckResult{}, cErr
		}
		switch st.Status {
		case providers.TaskCompleted:
			return CheckResult{State: PollCompleted, Payload: st.VideoURL}, nil
		case providers.TaskFailed:
			return CheckResult{State: PollFailed, Reason: st.Reason}, nil
		default:
			return CheckResult{State: PollPending}, nil
		}
	}, o.PollMaxAttempts, o.PollInterval)
	if err != nil {
		log.Printf("[Animate] task %s did not complete, degrading to static scene: %v", taskID, err)
		return nil
	}

	data, err := o.Animator.Download(ctx, videoURL)
	if err != nil {
		log.Printf("[Animate] download failed, degrading to static scene: %v", err)
		return nil
	}

	assetID := uuid.NewString()
	objectName := fmt.Sprintf("projects/%s/fragments/%s.mp4", project.ID, assetID)
	fragURL, err := o.Blob.Upload(ctx, bytes.NewReader(data), int64(len(data)), objectName)
	if err != nil {
		log.Printf("[Animate] fragment upload failed, degrading to static scene: %v", err)
		return nil
	}
	if err := o.Store.CreateAsset(ctx, &models.Asset{
		ID:         assetID,
		ProjectID:  project.ID,
		Type:       models.AssetTypeVideoFragment,
		Provider:   "animate",
		StorageURL: fragURL,
		Meta: models.AssetMeta{
			"prompt":       project.Settings.AnimationPrompt,
			"sceneAssetId": scene.ID,
			"taskId":       taskID,
		},
	}); err != nil {
		log.Printf("[Animate] fragment asset create failed (keeping video in storage): %v", err)
	}
	return data
}

func (o *AnimationOrchestrator) uploadFinal(ctx context.Context, projectID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &models.ProviderError{Provider: "storage", Err: fmt.Errorf("open render output: %w", err)}
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return "", &models.ProviderError{Provider: "storage", Err: err}
	}

	objectName := fmt.Sprintf("projects/%s/final/%s.mp4", projectID, uuid.NewString())
	finalURL, err := o.Blob.Upload(ctx, f, stat.Size(), objectName)
	if err != nil {
		return "", &models.ProviderError{Provider: "storage", Err: err}
	}
	return finalURL, nil
}
