package routers

import (
	"AdForge-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/static", "./static")
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PATCH("/projects/:project_id", api.UpdateProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.POST("/projects/:project_id/generate", api.GenerateBackground)
		v1.POST("/projects/:project_id/animate", api.ApproveAnimate)
		v1.GET("/projects/:project_id/assets", api.GetAssets)
	}
	r.GET("/projects/:project_id/wss", api.ProjectProgressWebSocket)
	return r
}
