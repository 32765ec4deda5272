package httpapi

import (
	"errors"
	"net/http"
	"time"

	"engagement-platform/internal/specialist"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// --- Specialists ---

type pinRequest struct {
	SpecialistID string `json:"specialist_id"`
	// TTL is a Go duration string, e.g. "72h".
	TTL string `json:"ttl"`
}

// PinSpecialist routes the customer's next escalation to one specialist until the pin
// expires. RBAC: owner or super_admin.
func (h Handlers) PinSpecialist(c *gin.Context) {
	if h.Pins == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pins not configured"})
		return
	}
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ttl, err := time.ParseDuration(req.TTL)
	if err != nil || ttl <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ttl must be a positive duration"})
		return
	}
	pin := specialist.Pin{
		ID:           uuid.NewString(),
		CustomerID:   c.Param("id"),
		SpecialistID: req.SpecialistID,
		ExpiresAt:    h.now().Add(ttl),
	}
	if err := h.Pins.PutPin(c.Request.Context(), pin); err != nil {
		if errors.Is(err, specialist.ErrInvalidPin) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		abortWithError(c, err)
		return
	}
	h.adminAction(c, pin.CustomerID, "specialist pinned", pin.SpecialistID)
	c.JSON(http.StatusOK, pin)
}

// EndAssignment releases the specialist's capacity slot.
func (h Handlers) EndAssignment(c *gin.Context) {
	if h.Specialists == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "specialists not configured"})
		return
	}
	a, changed, err := h.Specialists.Unassign(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if changed {
		h.adminAction(c, a.CustomerID, "assignment ended", a.SpecialistID)
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a, "changed": changed})
}

// RecordInteraction notes a specialist touchpoint on an active assignment.
func (h Handlers) RecordInteraction(c *gin.Context) {
	if h.Specialists == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "specialists not configured"})
		return
	}
	a, err := h.Specialists.RecordInteraction(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
