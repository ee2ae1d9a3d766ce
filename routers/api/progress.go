package api

import (
	"net/http"
	"time"

	"AdForge-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 项目进度 WebSocket 推送：以数据库为来源，每秒轮询并推送状态变化，
// 到终态（completed / failed）发送最终快照后关闭。
func ProjectProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	p, err := store.GetProject(c.Request.Context(), projectID)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"error": "project not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(p)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := p.Status
	for range ticker.C {
		// 状态不变时没有数据帧，用 ping 探测断连，防止 goroutine 挂死
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			break
		}

		cur, err := store.GetProject(c.Request.Context(), projectID)
		if err != nil {
			// 查询失败继续重试
			continue
		}

		if cur.Status != prevStatus {
			if err := conn.WriteJSON(cur); err != nil {
				break
			}
			prevStatus = cur.Status
		}

		if cur.Status == models.ProjectStatusCompleted || cur.Status == models.ProjectStatusFailed {
			_ = conn.WriteJSON(cur)
			break
		}
	}
}
