package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/boxoffice/internal/gateway/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{api: client.New(secret, nil)}, nil
}

type Adapter struct {
	api *client.API
}

func (a *Adapter) Provider() string {
	return "stripe"
}

func (a *Adapter) CreateRefund(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	ref := strings.TrimSpace(req.PaymentReference)
	if ref == "" || req.Amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	params := &stripe.RefundParams{Amount: stripe.Int64(req.Amount)}
	if strings.HasPrefix(ref, "ch_") || strings.HasPrefix(ref, "py_") {
		params.Charge = stripe.String(ref)
	} else {
		params.PaymentIntent = stripe.String(ref)
	}
	params.Context = ctx
	applyCommon(&params.Params, req.IdempotencyKey, req.Metadata)

	refund, err := a.api.Refunds.New(params)
	if err != nil {
		return nil, toGatewayError(err)
	}
	return &domain.RefundResult{
		ID:     refund.ID,
		Amount: refund.Amount,
		Status: string(refund.Status),
	}, nil
}

func (a *Adapter) CreateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	destination := strings.TrimSpace(req.DestinationAccountID)
	if destination == "" || req.Amount <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		Destination: stripe.String(destination),
	}
	if group := req.Metadata["ticket_group_id"]; group != "" {
		params.TransferGroup = stripe.String("ticket_group_" + group)
	}
	params.Context = ctx
	applyCommon(&params.Params, req.IdempotencyKey, req.Metadata)

	transfer, err := a.api.Transfers.New(params)
	if err != nil {
		return nil, toGatewayError(err)
	}
	result := &domain.TransferResult{
		ID:       transfer.ID,
		Amount:   transfer.Amount,
		Currency: strings.ToUpper(string(transfer.Currency)),
	}
	if transfer.Destination != nil {
		result.Destination = transfer.Destination.ID
	}
	return result, nil
}

func applyCommon(params *stripe.Params, idempotencyKey string, metadata map[string]string) {
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
}

func toGatewayError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.AsTimeout(err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.Code)
		if code == "" {
			code = string(stripeErr.Type)
		}
		return domain.NewError(code, stripeErr.Msg)
	}
	return domain.NewError("", err.Error())
}
