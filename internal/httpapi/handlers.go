package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"engagement-platform/internal/audit"
	"engagement-platform/internal/auth"
	"engagement-platform/internal/customer"
	"engagement-platform/internal/dialog"
	"engagement-platform/internal/orchestrator"
	"engagement-platform/internal/reporting"
	"engagement-platform/internal/signals"
	"engagement-platform/internal/specialist"
	"engagement-platform/internal/timeline"
	"engagement-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Engine      *orchestrator.Orchestrator
	Reports     *reporting.Service
	Audit       *audit.Service
	Specialists *specialist.Service
	Pins        specialist.PinWriter
	Now         func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, customer.ErrNotFound),
		errors.Is(err, timeline.ErrNotFound),
		errors.Is(err, dialog.ErrNotFound),
		errors.Is(err, specialist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, timeline.ErrProgressBusy),
		errors.Is(err, dialog.ErrConflict),
		errors.Is(err, dialog.ErrExecutionClosed):
		return http.StatusConflict
	case errors.Is(err, signals.ErrInvalidEvent),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

// adminAction records an operator-triggered change. Audit failures are logged only.
func (h Handlers) adminAction(c *gin.Context, customerID, message, metadata string) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	p, _ := auth.PrincipalFrom(ctx)
	if err := h.Audit.LogAdminAction(ctx, p.UserID, p.Role, c.ClientIP(), customerID, message, metadata); err != nil {
		logger.FromGin(c).Warn("admin audit failed", "err", err, "message", message)
	}
}

func dayParam(c *gin.Context) (int, bool) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil || day < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "day must be a non-negative integer"})
		return 0, false
	}
	return day, true
}

// Me echoes the caller's identity.
func (h Handlers) Me(c *gin.Context) {
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "role": p.Role})
}

// --- Timelines ---

// Tick processes every active customer on the timeline's day.
// Per-customer failures are reported in the body; the request still succeeds.
func (h Handlers) Tick(c *gin.Context) {
	day, ok := dayParam(c)
	if !ok {
		return
	}
	res, err := h.Engine.Tick(c.Request.Context(), c.Param("id"), day)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AdvanceDueDay moves every active customer on the timeline's day to the next day.
func (h Handlers) AdvanceDueDay(c *gin.Context) {
	day, ok := dayParam(c)
	if !ok {
		return
	}
	res, err := h.Engine.AdvanceDueDay(c.Request.Context(), c.Param("id"), day)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Progress ---

func (h Handlers) AdvanceProgress(c *gin.Context) {
	p, res, err := h.Engine.AdvanceDay(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if res != timeline.Noop {
		h.adminAction(c, p.CustomerID, "progress advanced", string(res))
	}
	c.JSON(http.StatusOK, gin.H{"progress": p, "result": res})
}

func (h Handlers) PauseProgress(c *gin.Context) {
	p, changed, err := h.Engine.Timelines.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if changed {
		h.adminAction(c, p.CustomerID, "progress paused", p.ID)
	}
	c.JSON(http.StatusOK, gin.H{"progress": p, "changed": changed})
}

func (h Handlers) ResumeProgress(c *gin.Context) {
	p, changed, err := h.Engine.Timelines.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if changed {
		h.adminAction(c, p.CustomerID, "progress resumed", p.ID)
	}
	c.JSON(http.StatusOK, gin.H{"progress": p, "changed": changed})
}

// --- Customers ---

type enterStageRequest struct {
	Stage string `json:"stage"`
}

func (h Handlers) EnterStage(c *gin.Context) {
	var req enterStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Stage == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "stage required"})
		return
	}
	res, err := h.Engine.EnterStage(c.Request.Context(), c.Param("id"), req.Stage)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.adminAction(c, res.CustomerID, "stage entered", res.Stage)
	c.JSON(http.StatusOK, res)
}

func (h Handlers) PauseCustomer(c *gin.Context) {
	list, err := h.Engine.PauseCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(list) > 0 {
		h.adminAction(c, c.Param("id"), "customer paused", strconv.Itoa(len(list)))
	}
	c.JSON(http.StatusOK, gin.H{"paused": list})
}

func (h Handlers) ResumeCustomer(c *gin.Context) {
	list, err := h.Engine.ResumeCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(list) > 0 {
		h.adminAction(c, c.Param("id"), "customer resumed", strconv.Itoa(len(list)))
	}
	c.JSON(http.StatusOK, gin.H{"resumed": list})
}

// --- Signals ---

// RecordSignal accepts one engagement event from an external tracker.
// occurred_at defaults to the time of receipt.
func (h Handlers) RecordSignal(c *gin.Context) {
	var ev signals.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now()
	}
	rec, err := h.Engine.RecordSignal(c.Request.Context(), ev)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
