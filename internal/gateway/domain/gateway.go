package domain

import (
	"context"
)

//go:generate mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

// Gateway moves money through the payment processor.
type Gateway interface {
	Provider() string
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type RefundRequest struct {
	// PaymentReference is the processor's charge or payment intent id.
	PaymentReference string
	Amount           int64
	Currency         string
	IdempotencyKey   string
	Metadata         map[string]string
}

type RefundResult struct {
	ID     string
	Amount int64
	Status string
}

type TransferRequest struct {
	Amount               int64
	Currency             string
	DestinationAccountID string
	IdempotencyKey       string
	Metadata             map[string]string
}

type TransferResult struct {
	ID          string
	Amount      int64
	Currency    string
	Destination string
}

// AdapterConfig is handed to a factory when building a provider adapter.
type AdapterConfig struct {
	SecretKey string
	Options   map[string]string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Gateway, error)
}
