package http

import (
	"errors"
	"net/http"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

const (
	ErrorUnmarshal = "Error while unmarshal"
)

// statusFor maps domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrPostNotFound),
		errors.Is(err, model.ErrCredentialNotFound),
		errors.Is(err, model.ErrPublicationNotFound),
		errors.Is(err, model.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPublishInProgress),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidPost),
		errors.Is(err, model.ErrInvalidCredential):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.GetLogger().WithField("error", err.Error()).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ownerOf returns the authenticated user or aborts with 401.
func ownerOf(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: missing user_id"})
		return "", false
	}
	return userID, true
}
