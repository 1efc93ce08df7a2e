package realtime

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"intelliconn/domain/dto"

	"github.com/gin-gonic/gin"
)

// Hub keeps per-owner SSE subscribers and implements the event publisher
// used by the orchestrator and the ledger.
type Hub struct {
	mu        sync.RWMutex
	users     map[string]map[chan dto.Event]struct{}
	heartbeat time.Duration
}

func NewHub() *Hub {
	return &Hub{users: make(map[string]map[chan dto.Event]struct{}), heartbeat: 25 * time.Second}
}

// Serve streams the authenticated owner's events (user_id set by middleware).
func (h *Hub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering

	ch := make(chan dto.Event, 16)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(userID, ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			_, _ = w.Write([]byte(":ping\n\n"))
			return true
		case ev := <-ch:
			c.SSEvent(ev.Type, ev)
			return true
		}
	})
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, ev dto.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.users[ev.OwnerID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribers reports how many streams the owner has open.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) addSubscriber(userID string, ch chan dto.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan dto.Event]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *Hub) removeSubscriber(userID string, ch chan dto.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}
