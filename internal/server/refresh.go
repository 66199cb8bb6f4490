package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	refreshdomain "github.com/smallbiznis/quotameter/internal/refresh/domain"
)

func (s *Server) RunRefresh(c *gin.Context) {
	var req refreshdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	result, err := s.refreshSvc.Run(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
