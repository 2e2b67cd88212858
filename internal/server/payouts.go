package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/boxoffice/internal/payout/domain"
	"go.uber.org/zap"
)

type runPayoutsRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) RunPayouts(c *gin.Context) {
	var req runPayoutsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mode, err := payoutdomain.ParseMode(req.Mode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Manual runs share the scheduler's guard so they never overlap a tick.
	var result *payoutdomain.BatchResult
	if s.scheduler != nil {
		result, err = s.scheduler.RunNow(c.Request.Context(), mode)
	} else {
		result, err = s.payouts.RunPayouts(c.Request.Context(), mode)
	}
	if err != nil {
		if result != nil {
			s.log.Warn("payout run ended early",
				zap.Int("total_processed", result.TotalProcessed),
				zap.Error(err),
			)
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RequeuePayout(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	group, err := s.ticketSvc.RequeuePayout(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": group})
}
