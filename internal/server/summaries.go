package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
	rollupdomain "github.com/gridsense/gridwatch/internal/rollup/domain"
)

// ListHourlySummaries returns the hourly summaries for one date.
func (s *Server) ListHourlySummaries(c *gin.Context) {
	deviceID := s.deviceIDFromQuery(c)
	if deviceID == "" {
		AbortWithError(c, readingdomain.ErrInvalidDevice)
		return
	}

	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		AbortWithError(c, rollupdomain.ErrInvalidDate)
		return
	}

	rows, err := s.rollupSvc.ListHourly(c.Request.Context(), deviceID, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"date": date, "summaries": rows})
}

// GetDailySummary returns the daily summary for one date with the circuit
// totals and hourly breakdown decoded.
func (s *Server) GetDailySummary(c *gin.Context) {
	deviceID := s.deviceIDFromQuery(c)
	if deviceID == "" {
		AbortWithError(c, readingdomain.ErrInvalidDevice)
		return
	}

	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		AbortWithError(c, rollupdomain.ErrInvalidDate)
		return
	}

	summary, err := s.rollupSvc.FindDaily(c.Request.Context(), deviceID, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if summary == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	circuits, err := summary.DecodeCircuitTotals()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	breakdown, err := summary.DecodeHourlyBreakdown()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":   summary,
		"circuits":  circuits,
		"breakdown": breakdown,
	})
}
