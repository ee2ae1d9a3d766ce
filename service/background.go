package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"AdForge-server/models"
	"AdForge-server/providers"

	"github.com/google/uuid"
)

const defaultTTSVoice = "xiaoyan"

// BackgroundOrchestrator 第一阶段：产品图 -> 场景图（可选超分）
// -> 可选旁白预览 -> image_ready 人工关卡。
// 依赖全部显式注入，测试时替换为 mock。
type BackgroundOrchestrator struct {
	Store    models.Store
	Blob     BlobStore
	Scene    providers.SceneGenerator
	Upscaler providers.Upscaler
	TTS      providers.SpeechSynthesizer
}

// Run 执行一次背景生成尝试。步骤严格有序，超分与 TTS 失败降级继续，
// 其余失败上抛给队列按重试预算处理（本函数不落 failed 状态）。
func (o *BackgroundOrchestrator) Run(ctx context.Context, projectID string) error {
	project, err := o.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	// 无源图直接失败，重试无意义
	if project.Settings.MainImage == "" {
		return &models.ValidationError{Msg: "project has no source image (settings.mainImage)"}
	}

	// 串行化点：并发重复入队在这里被挡掉。
	// generating_image 允许重入（上次尝试中断后的重试）。
	project, err = o.Store.AtomicUpdate(ctx, projectID, models.UpdateSpec{
		ExpectFrom: []string{models.ProjectStatusDraft, models.ProjectStatusQueued, models.ProjectStatusGeneratingImage},
		Status:     models.ProjectStatusGeneratingImage,
	})
	if err != nil {
		var sc *models.StateConflictError
		if errors.As(err, &sc) {
			log.Printf("[Background] project %s already %s, skipping duplicate run", projectID, sc.Current)
			return nil
		}
		return err
	}

	prompt := project.Settings.ScenePrompt
	if prompt == "" {
		prompt = defaultScenePrompt(&project.Settings)
	}
	width, height := dimensionsFor(project.Settings.AspectRatio)

	img, err := o.Scene.Generate(ctx, providers.SceneRequest{
		SourceURL: project.Settings.MainImage,
		Prompt:    prompt,
		Width:     width,
		Height:    height,
	})
	if err != nil {
		return err
	}

	// 超分尽力而为：失败继续用原图
	sceneProvider := "scene"
	upscaled := false
	if o.Upscaler != nil && o.Upscaler.Enabled() {
		if up, upErr := o.Upscaler.Upscale(ctx, img); upErr != nil {
			log.Printf("[Background] upscale failed, continuing with base image: %v", upErr)
		} else {
			img = up
			sceneProvider = "scene+upscale"
			upscaled = true
		}
	}

	assetID := uuid.NewString()
	objectName := fmt.Sprintf("projects/%s/scenes/%s.png", projectID, assetID)
	sceneURL, err := o.Blob.Upload(ctx, bytes.NewReader(img), int64(len(img)), objectName)
	if err != nil {
		return &models.ProviderError{Provider: "storage", Err: err}
	}
	if err := o.Store.CreateAsset(ctx, &models.Asset{
		ID:         assetID,
		ProjectID:  projectID,
		Type:       models.AssetTypeScene,
		Provider:   sceneProvider,
		StorageURL: sceneURL,
		Meta: models.AssetMeta{
			"prompt":   prompt,
			"width":    width,
			"height":   height,
			"upscaled": upscaled,
		},
	}); err != nil {
		return err
	}

	// 旁白预览尽力而为：失败只丢音频不丢阶段
	if project.Settings.TTSEnabled {
		o.synthesizeSpeech(ctx, project)
	}

	// 状态与 activeSceneAssetId、实际使用的 prompt 一次性原子落库
	_, err = o.Store.AtomicUpdate(ctx, projectID, models.UpdateSpec{
		ExpectFrom: []string{models.ProjectStatusGeneratingImage},
		Status:     models.ProjectStatusImageReady,
		Patch: &models.SettingsPatch{
			ActiveSceneAssetID: &assetID,
			ScenePrompt:        &prompt,
		},
	})
	if err != nil {
		return err
	}
	log.Printf("[Background] project %s reached image_ready (scene asset %s)", projectID, assetID)
	return nil
}

func (o *BackgroundOrchestrator) synthesizeSpeech(ctx context.Context, project *models.Project) {
	text := project.Settings.TTSText
	if text == "" {
		text = project.Settings.Description
	}
	if text == "" {
		return
	}
	voice := project.Settings.TTSVoice
	if voice == "" {
		voice = defaultTTSVoice
	}

	speech, err := o.TTS.Synthesize(ctx, text, voice)
	if err != nil {
		log.Printf("[Background] tts failed, continuing without audio: %v", err)
		return
	}

	assetID := uuid.NewString()
	ext := ".mp3"
	if speech.MimeType == "audio/wav" {
		ext = ".wav"
	}
	objectName := fmt.Sprintf("projects/%s/speech/%s%s", project.ID, assetID, ext)
	audioURL, err := o.Blob.Upload(ctx, bytes.NewReader(speech.Audio), int64(len(speech.Audio)), objectName)
	if err != nil {
		log.Printf("[Background] speech upload failed, continuing without audio: %v", err)
		return
	}
	if err := o.Store.CreateAsset(ctx, &models.Asset{
		ID:         assetID,
		ProjectID:  project.ID,
		Type:       models.AssetTypeSpeech,
		Provider:   "tts",
		StorageURL: audioURL,
		Meta: models.AssetMeta{
			"voice": voice,
			"text":  text,
			"mime":  speech.MimeType,
		},
	}); err != nil {
		log.Printf("[Background] speech asset create failed, continuing without audio: %v", err)
	}
}

// defaultScenePrompt 未配置 prompt 时根据产品信息拼默认文案
func defaultScenePrompt(s *models.Settings) string {
	name := s.ProductName
	if name == "" {
		name = "the product"
	}
	return fmt.Sprintf("professional e-commerce photo of %s on a clean studio backdrop, soft lighting", name)
}

// dimensionsFor 画幅 -> 生成尺寸；默认竖屏 9:16
func dimensionsFor(aspectRatio string) (int, int) {
	switch aspectRatio {
	case "16:9":
		return 1920, 1080
	case "1:1":
		return 1080, 1080
	default:
		return 1080, 1920
	}
}
