package progress

import (
	"io"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	broadcaster *Broadcaster
}

func NewHandler(broadcaster *Broadcaster) *Handler {
	return &Handler{broadcaster: broadcaster}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/upload-progress/:sessionId", h.Stream)
}

// Stream forwards every event published for the path's session id to the
// client as server-sent events until the client disconnects. Closing the
// stream only revokes the subscription; the pipeline keeps running.
func (h *Handler) Stream(c *gin.Context) {
	sessionID := c.Param("sessionId")

	ch, cancel := h.broadcaster.Subscribe(sessionID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	// Flush the headers right away so the client sees the stream open
	// before the first event arrives.
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("progress", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
