package httpapi

import (
	"net/http"
	"time"

	"engagement-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// --- Reports ---

// rangeQuery reads ?from=&to= as RFC3339. Both empty means all time.
func rangeQuery(c *gin.Context) (reporting.TimeRange, bool) {
	var r reporting.TimeRange
	for _, f := range []struct {
		key string
		dst *time.Time
	}{{"from", &r.From}, {"to", &r.To}} {
		v := c.Query(f.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": f.key + " must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		*f.dst = t
	}
	return r, true
}

func (h Handlers) TimelineReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, ok := rangeQuery(c)
	if !ok {
		return
	}
	sum, err := h.Reports.TimelineSummary(c.Request.Context(), reporting.TimelineSummaryRequest{TimelineID: c.Param("id"), Range: rng})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) ObjectionReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, ok := rangeQuery(c)
	if !ok {
		return
	}
	sum, err := h.Reports.ObjectionSummary(c.Request.Context(), reporting.ObjectionSummaryRequest{Range: rng})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
