package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	alertdomain "github.com/gridsense/gridwatch/internal/alert/domain"
	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
)

// ListAlerts returns one (year, month) partition of the alert log, newest
// first. Defaults to the current month.
func (s *Server) ListAlerts(c *gin.Context) {
	deviceID := s.deviceIDFromQuery(c)
	if deviceID == "" {
		AbortWithError(c, readingdomain.ErrInvalidDevice)
		return
	}

	now := time.Now().In(s.cfg.Location())
	year, month := now.Year(), int(now.Month())

	if raw := c.Query("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, newValidationError("year", "invalid_year", "year must be an integer"))
			return
		}
		year = parsed
	}
	if raw := c.Query("month"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 12 {
			AbortWithError(c, alertdomain.ErrInvalidMonth)
			return
		}
		month = parsed
	}

	entries, err := s.alertLog.List(c.Request.Context(), deviceID, year, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"year":    year,
		"month":   month,
		"entries": entries,
	})
}

// GetBudgetStatus reports the current month's spend against the budget.
func (s *Server) GetBudgetStatus(c *gin.Context) {
	deviceID := s.deviceIDFromQuery(c)
	if deviceID == "" {
		AbortWithError(c, readingdomain.ErrInvalidDevice)
		return
	}

	status, err := s.alertSvc.CurrentBudgetStatus(c.Request.Context(), deviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"budget": status})
}

// MarkAlertRead flips the read flag on one alert entry.
func (s *Server) MarkAlertRead(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid alert id"))
		return
	}

	if err := s.alertLog.MarkRead(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
