package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type checkQuotaRequest struct {
	Username         string `json:"username" binding:"required"`
	ResourceType     string `json:"resource_type" binding:"required"`
	RequestedMinutes int64  `json:"requested_minutes"`
}

func (s *Server) CheckQuota(c *gin.Context) {
	var req checkQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	decision, err := s.gateSvc.CanStart(c.Request.Context(), req.Username, req.ResourceType, req.RequestedMinutes)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

type startSessionRequest struct {
	Username         string `json:"username" binding:"required"`
	ResourceType     string `json:"resource_type" binding:"required"`
	RequestedMinutes int64  `json:"requested_minutes"`
}

func (s *Server) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	ctx := c.Request.Context()
	decision, err := s.gateSvc.CanStart(ctx, req.Username, req.ResourceType, req.RequestedMinutes)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"decision": decision})
		return
	}

	session, err := s.sessionSvc.StartSession(ctx, req.Username, req.ResourceType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session, "decision": decision})
}

func (s *Server) EndSession(c *gin.Context) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_session_id", "session id must be an integer"))
		return
	}

	result, err := s.sessionSvc.EndSession(c.Request.Context(), snowflake.ID(id))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ActiveSessions(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		AbortWithError(c, newValidationError("username", "missing_username", "username query parameter is required"))
		return
	}

	sessions, err := s.sessionSvc.ActiveSessions(c.Request.Context(), username)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}
