package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"AdForge-server/models"
	"AdForge-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// store/blob 由 main 注入（Init），handler 不直接摸全局 DB
var store models.Store
var blob service.BlobStore

func Init(s models.Store, b service.BlobStore) {
	store = s
	blob = b
}

// 入队函数可替换，测试不依赖 Redis
var enqueueGenerate = service.EnqueueGenerateBackground
var enqueueAnimate = service.EnqueueAnimateImage

// 创建项目：落 draft，源图顺带登记为 clean_photo 资产
func CreateProject(c *gin.Context) {
	var req struct {
		UserID        string   `json:"user_id" binding:"required"`
		ProductName   string   `json:"product_name" binding:"required"`
		Description   string   `json:"description"`
		SellingPoints []string `json:"selling_points"`
		MainImage     string   `json:"main_image" binding:"omitempty,startswith=https://"`
		AspectRatio   string   `json:"aspect_ratio" binding:"omitempty,oneof=9:16 16:9 1:1"`
		MusicTheme    string   `json:"music_theme"`
		ScenePrompt   string   `json:"scene_prompt"`
		TTSEnabled    bool     `json:"tts_enabled"`
		TTSText       string   `json:"tts_text"`
		TTSVoice      string   `json:"tts_voice"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project := models.Project{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Status: models.ProjectStatusDraft,
		Settings: models.Settings{
			ProductName:   req.ProductName,
			Description:   req.Description,
			SellingPoints: req.SellingPoints,
			MainImage:     req.MainImage,
			AspectRatio:   req.AspectRatio,
			MusicTheme:    req.MusicTheme,
			ScenePrompt:   req.ScenePrompt,
			TTSEnabled:    req.TTSEnabled,
			TTSText:       req.TTSText,
			TTSVoice:      req.TTSVoice,
		},
	}
	if err := store.CreateProject(c.Request.Context(), &project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	if req.MainImage != "" {
		if err := store.CreateAsset(c.Request.Context(), &models.Asset{
			ID:         uuid.NewString(),
			ProjectID:  project.ID,
			Type:       models.AssetTypeCleanPhoto,
			Provider:   "upload",
			StorageURL: req.MainImage,
			Meta:       models.AssetMeta{"uploadedAt": time.Now()},
		}); err != nil {
			log.Printf("登记源图资产失败: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

func GetProject(c *gin.Context) {
	project, err := store.GetProject(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 合并更新 settings：补丁走原子路径，不整包覆盖，
// 避免和编排器的并发写互相丢字段
func UpdateProject(c *gin.Context) {
	var patch models.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// 管线内部字段不接受外部直写
	patch.ActiveSceneAssetID = nil
	patch.LastError = nil
	patch.FailedAt = nil

	project, err := store.AtomicUpdate(c.Request.Context(), c.Param("project_id"), models.UpdateSpec{Patch: &patch})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 管理操作：删除项目（管线自身从不删项目）。
// 对象存储清理尽力而为，失败只记日志不影响删除结果。
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")
	ctx := c.Request.Context()

	assets, err := store.FindAssets(ctx, projectID, "")
	if err != nil {
		log.Printf("查询项目资产失败，跳过对象清理: %v", err)
	}
	for _, a := range assets {
		if a.Type == models.AssetTypeCleanPhoto {
			// 用户上传的源图不归我们管
			continue
		}
		if err := blob.Delete(ctx, a.StorageURL); err != nil {
			log.Printf("删除对象失败 %s: %v", a.StorageURL, err)
		}
	}

	if p, err := store.GetProject(ctx, projectID); err == nil && p.ResultVideoURL != "" {
		if err := blob.Delete(ctx, p.ResultVideoURL); err != nil {
			log.Printf("删除成片失败 %s: %v", p.ResultVideoURL, err)
		}
	}

	if err := store.DeleteProject(ctx, projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// 触发第一阶段：draft/failed/image_ready -> queued 后入队。
// 状态流转先行，重复点击在这里或编排器的串行化点被挡掉。
// queued 也在集合里：入队失败留在 queued 的项目可以再触发，
// 重复入队由编排器的串行化点兜底成 no-op。
func GenerateBackground(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := store.AtomicUpdate(c.Request.Context(), projectID, models.UpdateSpec{
		ExpectFrom: []string{models.ProjectStatusDraft, models.ProjectStatusFailed, models.ProjectStatusImageReady, models.ProjectStatusQueued},
		Status:     models.ProjectStatusQueued,
	})
	if err != nil {
		var sc *models.StateConflictError
		if errors.As(err, &sc) {
			c.JSON(http.StatusConflict, gin.H{"error": sc.Error()})
			return
		}
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := enqueueGenerate(projectID); err != nil {
		log.Printf("背景任务入队失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID, "status": project.Status})
}

// 人工关卡批准：仅 image_ready 可进入动画阶段
func ApproveAnimate(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if project.Status != models.ProjectStatusImageReady {
		c.JSON(http.StatusConflict, gin.H{"error": "project is " + project.Status + ", approve requires image_ready"})
		return
	}

	if err := enqueueAnimate(projectID); err != nil {
		log.Printf("动画任务入队失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID, "message": "动画任务已入队"})
}
