package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	readingdomain "github.com/gridsense/gridwatch/internal/reading/domain"
)

type ingestReadingRequest struct {
	DeviceID   string `json:"device_id"`
	Payload    string `json:"payload"`
	RecordedAt string `json:"recorded_at"`
}

// IngestReading accepts one wire payload. Malformed payloads are rejected;
// the reporting device retries with the next sample anyway.
func (s *Server) IngestReading(c *gin.Context) {
	var req ingestReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if strings.TrimSpace(req.Payload) == "" {
		AbortWithError(c, newValidationError("payload", "required", "payload is required"))
		return
	}

	recordedAt := time.Now().UTC()
	if req.RecordedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.RecordedAt)
		if err != nil {
			AbortWithError(c, newValidationError("recorded_at", "invalid_timestamp", "recorded_at must be RFC 3339"))
			return
		}
		recordedAt = parsed
	}

	record, err := s.readingSvc.Ingest(c.Request.Context(), req.DeviceID, req.Payload, recordedAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"reading": record})
}

// LatestReading returns the most recent raw reading for the device.
func (s *Server) LatestReading(c *gin.Context) {
	deviceID := s.deviceIDFromQuery(c)
	if deviceID == "" {
		AbortWithError(c, readingdomain.ErrInvalidDevice)
		return
	}

	record, err := s.readingSvc.Latest(c.Request.Context(), deviceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if record == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reading": record})
}

func (s *Server) deviceIDFromQuery(c *gin.Context) string {
	deviceID := strings.TrimSpace(c.Query("device_id"))
	if deviceID == "" {
		deviceID = s.cfg.DeviceID
	}
	return deviceID
}
