package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) SchedulerStatus(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.scheduler.Status()})
}

func (s *Server) StartScheduler(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if err := s.scheduler.Start(); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.scheduler.Status()})
}

func (s *Server) StopScheduler(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	s.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"data": s.scheduler.Status()})
}
