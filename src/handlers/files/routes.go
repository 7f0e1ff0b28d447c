package files

import "github.com/gin-gonic/gin"

func RegisterRoutes(rg *gin.RouterGroup, h *Handler) {
	files := rg.Group("/files")
	files.GET("", h.List)
	files.GET("/:id", h.Download)
	files.DELETE("/:id", h.Delete)
	files.GET("/storage/info", h.StorageInfo)
	files.POST("/storage/recalculate", h.RecalculateQuota)

	uploads := rg.Group("/uploads")
	uploads.POST("", h.InitUpload)
	uploads.PUT("/:upload_id/chunks/:index", h.UploadChunk)
	uploads.POST("/:upload_id/finalize", h.FinalizeUpload)
	uploads.DELETE("/:upload_id", h.CancelUpload)
}
