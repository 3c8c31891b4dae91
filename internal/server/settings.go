package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	settingsdomain "github.com/gridsense/gridwatch/internal/settings/domain"
)

// GetAlertSettings returns the current alert configuration.
func (s *Server) GetAlertSettings(c *gin.Context) {
	settings, err := s.settingsSvc.AlertSettings(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// UpdateAlertSettings replaces the alert configuration. Changing an advisory
// threshold value starts a new advisory epoch.
func (s *Server) UpdateAlertSettings(c *gin.Context) {
	var req settingsdomain.AlertSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	updated, err := s.settingsSvc.UpdateAlertSettings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": updated})
}
