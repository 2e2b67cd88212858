package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/boxoffice/internal/authorization"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
)

type lineItemRequest struct {
	TicketNumber string `json:"ticket_number"`
	HolderName   string `json:"holder_name"`
	HolderEmail  string `json:"holder_email"`
}

type createTicketGroupRequest struct {
	EventID     string            `json:"event_id"`
	BuyerID     string            `json:"buyer_id"`
	Quantity    int               `json:"quantity"`
	GrossAmount int64             `json:"gross_amount"`
	Currency    string            `json:"currency"`
	PurchasedAt *time.Time        `json:"purchased_at"`
	LineItems   []lineItemRequest `json:"line_items"`
}

func (s *Server) CreateTicketGroup(c *gin.Context) {
	var req createTicketGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	eventID, err := snowflake.ParseString(strings.TrimSpace(req.EventID))
	if err != nil {
		AbortWithError(c, newValidationError("event_id", "invalid_event_id", "invalid event_id"))
		return
	}

	// Buyers can only purchase for themselves.
	actor := actorFrom(c)
	buyerID := actor.ID
	if actor.Role != authorization.RoleBuyer {
		buyerID, err = snowflake.ParseString(strings.TrimSpace(req.BuyerID))
		if err != nil {
			AbortWithError(c, newValidationError("buyer_id", "invalid_buyer_id", "invalid buyer_id"))
			return
		}
	}

	items := make([]ticketingdomain.LineItemInput, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		items = append(items, ticketingdomain.LineItemInput{
			TicketNumber: item.TicketNumber,
			HolderName:   item.HolderName,
			HolderEmail:  item.HolderEmail,
		})
	}
	var purchasedAt time.Time
	if req.PurchasedAt != nil {
		purchasedAt = *req.PurchasedAt
	}

	group, err := s.ticketSvc.CreateGroup(c.Request.Context(), ticketingdomain.CreateGroupRequest{
		EventID:     eventID,
		BuyerID:     buyerID,
		LineItems:   items,
		Quantity:    req.Quantity,
		GrossAmount: req.GrossAmount,
		Currency:    req.Currency,
		PurchasedAt: purchasedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": group})
}

func (s *Server) GetTicketGroup(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	group, err := s.ticketSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actor := actorFrom(c)
	switch actor.Role {
	case authorization.RoleBuyer:
		if group.BuyerID != actor.ID {
			AbortWithError(c, ErrNotFound)
			return
		}
	case authorization.RoleOrganizer:
		if group.OrganizerID != actor.ID {
			AbortWithError(c, ErrNotFound)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": group})
}

type confirmPaymentRequest struct {
	PaymentReference string `json:"payment_reference"`
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	group, err := s.ticketSvc.ConfirmPayment(c.Request.Context(), id, strings.TrimSpace(req.PaymentReference))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": group})
}

type paymentFailedRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) MarkPaymentFailed(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req paymentFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	group, err := s.ticketSvc.MarkPaymentFailed(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": group})
}
