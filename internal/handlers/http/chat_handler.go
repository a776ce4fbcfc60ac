package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"peercall/pkg/errors"
	"peercall/pkg/utils"

	"github.com/gin-gonic/gin"
)

// ChatHandler streams a canned reply to a prompt, one fragment per tick.
type ChatHandler struct {
	interval time.Duration
	clock    utils.Clock
}

func NewChatHandler(interval time.Duration, clock utils.Clock) *ChatHandler {
	if clock == nil {
		clock = utils.RealClock()
	}
	return &ChatHandler{interval: interval, clock: clock}
}

func (h *ChatHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/api/ai", h.Stream)
}

func (h *ChatHandler) Stream(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.Error(errors.InvalidInput("Invalid prompt"))
		return
	}

	chunks := ReplyChunks(req.Prompt, h.clock.Now())

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-h.clock.After(h.interval):
			}
		}
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// ReplyChunks returns the fragments streamed for prompt.
func ReplyChunks(prompt string, now time.Time) []string {
	return []string{
		fmt.Sprintf("You said: %s\n", prompt),
		"Thinking about your input...\n",
		"Here is a mock answer: ",
		"This is a streamed response demo ",
		"built on a chunked HTTP response. ",
		fmt.Sprintf("(time: %s)", now.Format("15:04:05")),
	}
}
