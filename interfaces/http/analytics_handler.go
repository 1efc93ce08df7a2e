package http

import (
	"net/http"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/usecase"

	"github.com/gin-gonic/gin"
)

type IAnalyticsHandler interface {
	PostAnalytics(c *gin.Context)
	Daily(c *gin.Context)
}

type AnalyticsHandler struct {
	ledger usecase.IAnalyticsLedger
	posts  usecase.IPublishUsecase
	now    func() time.Time
}

func NewAnalyticsHandler(ledger usecase.IAnalyticsLedger, posts usecase.IPublishUsecase) IAnalyticsHandler {
	return &AnalyticsHandler{ledger: ledger, posts: posts, now: time.Now}
}

func (h *AnalyticsHandler) PostAnalytics(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	postID := c.Param("postId")
	// Ownership check; another owner's post reads as not found.
	if _, err := h.posts.Get(c.Request.Context(), postID, ownerID); err != nil {
		writeError(c, err)
		return
	}
	res, err := h.ledger.PostAnalytics(c.Request.Context(), postID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AnalyticsHandler) Daily(c *gin.Context) {
	ownerID, ok := ownerOf(c)
	if !ok {
		return
	}
	var req dto.DailyAnalyticsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	from, to, err := req.Range(h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dates must be YYYY-MM-DD"})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from is after to"})
		return
	}
	days, err := h.ledger.OwnerDaily(c.Request.Context(), ownerID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from.Format("2006-01-02"), "to": to.Format("2006-01-02"), "days": days})
}
