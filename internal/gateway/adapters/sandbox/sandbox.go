// Package sandbox is an in-process gateway for local runs and tests. Destinations
// or payment references of the form "<prefix>_fail_<code>" fail with that code.
package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/boxoffice/internal/gateway/domain"
)

const failMarker = "_fail_"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "sandbox"
}

func (f *Factory) NewAdapter(domain.AdapterConfig) (domain.Gateway, error) {
	return New(), nil
}

type Adapter struct {
	mu        sync.Mutex
	refunds   map[string]*domain.RefundResult
	transfers map[string]*domain.TransferResult
	calls     int
}

func New() *Adapter {
	return &Adapter{
		refunds:   map[string]*domain.RefundResult{},
		transfers: map[string]*domain.TransferResult{},
	}
}

func (a *Adapter) Provider() string {
	return "sandbox"
}

func (a *Adapter) CreateRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.AsTimeout(err)
	}
	if strings.TrimSpace(req.PaymentReference) == "" || req.Amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if code, ok := failureCode(req.PaymentReference); ok {
		return nil, domain.NewError(code, "sandbox refund failure")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if existing, ok := a.refunds[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return existing, nil
	}
	result := &domain.RefundResult{
		ID:     "re_sbx_" + ulid.Make().String(),
		Amount: req.Amount,
		Status: "succeeded",
	}
	if req.IdempotencyKey != "" {
		a.refunds[req.IdempotencyKey] = result
	}
	return result, nil
}

func (a *Adapter) CreateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.AsTimeout(err)
	}
	if strings.TrimSpace(req.DestinationAccountID) == "" || req.Amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if code, ok := failureCode(req.DestinationAccountID); ok {
		return nil, domain.NewError(code, "sandbox transfer failure")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if existing, ok := a.transfers[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return existing, nil
	}
	result := &domain.TransferResult{
		ID:          "tr_sbx_" + ulid.Make().String(),
		Amount:      req.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Destination: req.DestinationAccountID,
	}
	if req.IdempotencyKey != "" {
		a.transfers[req.IdempotencyKey] = result
	}
	return result, nil
}

// Transfers returns the number of distinct transfers created.
func (a *Adapter) Transfers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transfers)
}

func failureCode(ref string) (string, bool) {
	idx := strings.Index(ref, failMarker)
	if idx < 0 {
		return "", false
	}
	return ref[idx+len(failMarker):], true
}
