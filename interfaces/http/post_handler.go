package http

import (
	"net/http"

	"intelliconn/domain/dto"
	"intelliconn/infrastructure/logger"
	"intelliconn/usecase"

	"github.com/gin-gonic/gin"
)

type IPostHandler interface {
	Submit(c *gin.Context)
	Get(c *gin.Context)
	Publish(c *gin.Context)
	Delete(c *gin.Context)
}

type PostHandler struct {
	publishUsecase usecase.IPublishUsecase
}

func NewPostHandler(publishUsecase usecase.IPublishUsecase) IPostHandler {
	return &PostHandler{publishUsecase: publishUsecase}
}

// Submit publishes immediately (200 with the result) or stores a scheduled
// post (202 with the post).
func (h *PostHandler) Submit(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	var req dto.PostSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithField("error", err).Error(ErrorUnmarshal)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	post, result, err := h.publishUsecase.Submit(c.Request.Context(), ownerID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	if result == nil {
		c.JSON(http.StatusAccepted, post)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PostHandler) Get(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	detail, err := h.publishUsecase.Get(c.Request.Context(), c.Param("postId"), ownerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Publish re-drives platforms that have no publication yet.
func (h *PostHandler) Publish(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	result, err := h.publishUsecase.Publish(c.Request.Context(), c.Param("postId"), ownerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PostHandler) Delete(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	if err := h.publishUsecase.Delete(c.Request.Context(), c.Param("postId"), ownerID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
