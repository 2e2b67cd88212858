// Package money holds the pure price, proration and refund arithmetic for ticket groups.
// All amounts are integer minor units; intermediate values stay exact and are rounded
// half-up to the minor unit exactly once.
package money

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/boxoffice/internal/apperror"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
)

var (
	ErrInvalidQuantity = apperror.Validation("invalid_quantity")
	ErrNegativeAmount  = apperror.Validation("negative_amount")
	ErrUnknownTicket   = apperror.Validation("unknown_ticket_number")
	ErrEmptyScope      = apperror.Validation("empty_refund_scope")
)

// DefaultFeeRatio is the platform's share of a sale.
var DefaultFeeRatio = decimal.RequireFromString("0.10")

type Split struct {
	PlatformFee  int64
	OrganizerNet int64
}

// SplitGross divides a gross sale into platform fee and organizer net.
// The fee is rounded half-up and the net takes the remainder, so the parts always sum to gross.
func SplitGross(gross int64, feeRatio decimal.Decimal) (Split, error) {
	if gross < 0 {
		return Split{}, ErrNegativeAmount
	}
	fee := roundMinor(decimal.NewFromInt(gross).Mul(feeRatio))
	return Split{PlatformFee: fee, OrganizerNet: gross - fee}, nil
}

// UnitAmounts are the unrounded per-ticket shares of a group.
type UnitAmounts struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

func PerUnit(g *ticketingdomain.TicketGroup) (UnitAmounts, error) {
	if g == nil || g.Quantity <= 0 {
		return UnitAmounts{}, ErrInvalidQuantity
	}
	qty := decimal.NewFromInt(int64(g.Quantity))
	return UnitAmounts{
		Gross: decimal.NewFromInt(g.GrossAmount).Div(qty),
		Fee:   decimal.NewFromInt(g.PlatformFeeAmount).Div(qty),
		Net:   decimal.NewFromInt(g.OrganizerNetAmount).Div(qty),
	}, nil
}

// ActiveCount is the number of tickets not yet refunded.
func ActiveCount(g *ticketingdomain.TicketGroup) int {
	if g == nil {
		return 0
	}
	active := g.Quantity - g.CompletedRefunds()
	if active < 0 {
		return 0
	}
	return active
}

type Prorated struct {
	ActiveCount int
	GrossActive int64
	FeeActive   int64
	NetActive   int64
}

// Prorate scales the group's amounts to the tickets that are still active.
func Prorate(g *ticketingdomain.TicketGroup) (Prorated, error) {
	if g == nil || g.Quantity <= 0 {
		return Prorated{}, ErrInvalidQuantity
	}
	active := ActiveCount(g)
	return Prorated{
		ActiveCount: active,
		GrossActive: prorate(g.GrossAmount, active, g.Quantity),
		FeeActive:   prorate(g.PlatformFeeAmount, active, g.Quantity),
		NetActive:   prorate(g.OrganizerNetAmount, active, g.Quantity),
	}, nil
}

// Scope selects the tickets a refund targets.
type Scope struct {
	all     bool
	tickets []string
}

func ScopeAll() Scope { return Scope{all: true} }

func ScopeTickets(numbers ...string) Scope {
	seen := make(map[string]struct{}, len(numbers))
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return Scope{tickets: out}
}

func (s Scope) All() bool { return s.all }

func (s Scope) Tickets() []string { return append([]string(nil), s.tickets...) }

// Empty reports a scope that names nothing.
func (s Scope) Empty() bool { return !s.all && len(s.tickets) == 0 }

type Quote struct {
	TicketNumbers   []string
	RefundableCount int
	GrossRefundable int64
	// Fee and net shares of GrossRefundable; they sum to it.
	FeePortion      int64
	NetPortion      int64
	CancellationFee int64
	NetRefund       int64
}

// QuoteRefund prices a refund for the tickets in scope. Only tickets whose refund state is
// none are refundable; others in scope are silently excluded.
func QuoteRefund(g *ticketingdomain.TicketGroup, scope Scope, feePerTicket int64) (Quote, error) {
	if scope.Empty() {
		return Quote{}, ErrEmptyScope
	}
	if feePerTicket < 0 {
		return Quote{}, ErrNegativeAmount
	}
	if g == nil || g.Quantity <= 0 {
		return Quote{}, ErrInvalidQuantity
	}

	var targets []string
	if scope.all {
		for _, item := range g.LineItems {
			if item.RefundState == ticketingdomain.RefundStateNone {
				targets = append(targets, item.TicketNumber)
			}
		}
	} else {
		for _, number := range scope.tickets {
			idx := g.FindLineItem(number)
			if idx < 0 {
				return Quote{}, ErrUnknownTicket
			}
			if g.LineItems[idx].RefundState == ticketingdomain.RefundStateNone {
				targets = append(targets, number)
			}
		}
	}
	sort.Strings(targets)

	count := int64(len(targets))
	gross := prorate(g.GrossAmount, len(targets), g.Quantity)
	fee := prorate(g.PlatformFeeAmount, len(targets), g.Quantity)
	if fee > gross {
		fee = gross
	}
	cancellation := count * feePerTicket
	net := gross - cancellation
	if net < 0 {
		net = 0
	}
	return Quote{
		TicketNumbers:   targets,
		RefundableCount: len(targets),
		GrossRefundable: gross,
		FeePortion:      fee,
		NetPortion:      gross - fee,
		CancellationFee: cancellation,
		NetRefund:       net,
	}, nil
}

// prorate returns amount * count / quantity rounded half-up. The division is
// done as an integer quotient and remainder so no digits are lost before the
// rounding decision.
func prorate(amount int64, count, quantity int) int64 {
	if count == quantity {
		return amount
	}
	den := decimal.NewFromInt(int64(quantity))
	q, r := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(int64(count))).QuoRem(den, 0)
	if r.Abs().Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(den) {
		if r.Sign() < 0 {
			return q.IntPart() - 1
		}
		return q.IntPart() + 1
	}
	return q.IntPart()
}

// roundMinor rounds half away from zero, which is half-up for the non-negative amounts used here.
func roundMinor(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
