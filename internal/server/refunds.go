package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/boxoffice/internal/money"
	refunddomain "github.com/smallbiznis/boxoffice/internal/refund/domain"
)

const scopeAll = "all"

type refundRequest struct {
	Reason        string   `json:"reason"`
	Scope         string   `json:"scope"`
	TicketNumbers []string `json:"ticket_numbers"`
}

func (s *Server) RequestRefund(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	scope := money.ScopeTickets(req.TicketNumbers...)
	switch strings.ToLower(strings.TrimSpace(req.Scope)) {
	case scopeAll:
		if len(req.TicketNumbers) > 0 {
			AbortWithError(c, newValidationError("scope", "invalid_scope", "scope all does not take ticket_numbers"))
			return
		}
		scope = money.ScopeAll()
	case "", "tickets":
	default:
		AbortWithError(c, newValidationError("scope", "invalid_scope", "invalid scope"))
		return
	}

	request, err := s.refundSvc.RequestRefund(c.Request.Context(), refunddomain.RequestInput{
		GroupID: id,
		Actor:   actorFrom(c),
		Reason:  req.Reason,
		Scope:   scope,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": request})
}

type refundDecisionRequest struct {
	Action string `json:"action"`
}

func (s *Server) ProcessRefund(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	group, err := s.refundSvc.ProcessRefund(c.Request.Context(), refunddomain.ProcessInput{
		GroupID: id,
		Actor:   actorFrom(c),
		Action:  refunddomain.Action(strings.ToLower(strings.TrimSpace(req.Action))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": group})
}
