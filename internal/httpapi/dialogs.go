package httpapi

import (
	"net/http"
	"strings"

	"engagement-platform/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// --- Conversations ---

// Inbound routes a customer message from a relay that is not a Twilio webhook
// (chat widget, email parser).
func (h Handlers) Inbound(c *gin.Context) {
	var in orchestrator.Inbound
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if in.CustomerID == "" && in.Phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "customer_id or phone required"})
		return
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = h.now()
	}
	reply, err := h.Engine.HandleInbound(c.Request.Context(), in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h Handlers) GetDialog(c *gin.Context) {
	exec, err := h.Engine.Dialogs.Execution(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

type dialogMessageRequest struct {
	Body string `json:"body"`
}

func (h Handlers) DialogMessage(c *gin.Context) {
	var req dialogMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	turn, err := h.Engine.Dialogs.Advance(c.Request.Context(), c.Param("id"), req.Body)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

type collectRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h Handlers) DialogCollect(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "key required"})
		return
	}
	exec, err := h.Engine.Dialogs.Collect(c.Request.Context(), c.Param("id"), req.Key, req.Value)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) DialogEscalate(c *gin.Context) {
	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}
	turn, err := h.Engine.Dialogs.Escalate(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.adminAction(c, turn.Execution.CustomerID, "dialog escalated", req.Reason)
	c.JSON(http.StatusOK, turn)
}
