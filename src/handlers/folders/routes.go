package folders

import "github.com/gin-gonic/gin"

func RegisterRoutes(rg *gin.RouterGroup, h *Handler) {
	folders := rg.Group("/folders")
	folders.POST("", h.Create)
	folders.GET("", h.ListChildren)
	folders.GET("/:id", h.Get)
	folders.DELETE("/:id", h.Delete)
}
