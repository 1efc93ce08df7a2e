package http

import (
	"net/http"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
	"intelliconn/infrastructure/logger"
	"intelliconn/usecase"

	"github.com/gin-gonic/gin"
)

type ICredentialHandler interface {
	Put(c *gin.Context)
	List(c *gin.Context)
	Validate(c *gin.Context)
}

type CredentialHandler struct {
	tokens usecase.ITokenStore
}

func NewCredentialHandler(tokens usecase.ITokenStore) ICredentialHandler {
	return &CredentialHandler{tokens: tokens}
}

// Put stores the tokens produced by the OAuth connect flow. Reconnecting
// clears a previous invalid flag.
func (h *CredentialHandler) Put(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	platform, err := model.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req dto.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithField("error", err).Error(ErrorUnmarshal)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	cred := &model.Credential{
		OwnerID:      ownerID,
		Platform:     platform,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenSecret:  req.TokenSecret,
		ExpiresAt:    req.ExpiresAt,
		Scopes:       req.Scopes,
		AccountID:    req.AccountID,
		TokenType:    req.TokenType,
		Tier:         req.Tier,
	}
	if err := h.tokens.Put(c.Request.Context(), cred); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewCredentialStatus(cred))
}

func (h *CredentialHandler) List(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	creds, err := h.tokens.List(c.Request.Context(), ownerID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]dto.CredentialStatus, 0, len(creds))
	for i := range creds {
		out = append(out, dto.NewCredentialStatus(&creds[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *CredentialHandler) Validate(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	platform, err := model.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cred, err := h.tokens.Get(c.Request.Context(), ownerID, platform)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.tokens.Validate(c.Request.Context(), cred)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
