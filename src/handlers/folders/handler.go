// Package folders implements the folder hierarchy CRUD surface
// supplementing the distilled spec's file-only HTTP surface.
package folders

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/middleware"
	folders_repo "github.com/cryptvault/api/src/repository/folders"
)

type Handler struct {
	folders *folders_repo.FolderRepository
	logger  *logrus.Logger
}

func NewHandler(folders *folders_repo.FolderRepository, logger *logrus.Logger) *Handler {
	return &Handler{folders: folders, logger: logger}
}

type createRequest struct {
	Name     string  `json:"name" binding:"required"`
	ParentID *string `json:"parent_id"`
}

func (h *Handler) Create(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Validation("invalid folder payload"))
		return
	}

	if req.ParentID != nil && *req.ParentID != "" {
		if _, err := h.folders.GetByID(c.Request.Context(), *req.ParentID, userID); err != nil {
			c.Error(err)
			return
		}
	}

	folder, err := h.folders.Create(c.Request.Context(), userID, req.Name, req.ParentID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, folder)
}

func (h *Handler) ListChildren(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	var parentID *string
	if v := c.Query("parent_id"); v != "" {
		parentID = &v
	}

	children, err := h.folders.ListChildren(c.Request.Context(), userID, parentID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": children})
}

func (h *Handler) Get(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	folder, err := h.folders.GetByID(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, folder)
}

func (h *Handler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if err := h.folders.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
