package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 资产历史：?type= 过滤（scene_image / speech_audio / video_fragment ...）
func GetAssets(c *gin.Context) {
	projectID := c.Param("project_id")
	assets, err := store.FindAssets(c.Request.Context(), projectID, c.Query("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取资产失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assets":     assets,
		"project_id": projectID,
		"total":      len(assets),
	})
}
