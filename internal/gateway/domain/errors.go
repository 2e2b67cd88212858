package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/boxoffice/internal/apperror"
)

// ErrorKind is the closed set of gateway failure classes.
type ErrorKind string

const (
	ErrorKindInsufficientFunds   ErrorKind = "insufficient_funds"
	ErrorKindInvalidAccount      ErrorKind = "account_invalid"
	ErrorKindUnsupportedCurrency ErrorKind = "currency_not_supported"
	ErrorKindAmountTooSmall      ErrorKind = "amount_too_small"
	ErrorKindAmountTooLarge      ErrorKind = "amount_too_large"
	ErrorKindOther               ErrorKind = "transfer_failed"
)

const CodeTimeout = "timeout"

var (
	ErrProviderNotFound = errors.New("gateway_provider_not_found")
	ErrInvalidConfig    = errors.New("gateway_invalid_config")
	ErrInvalidRequest   = apperror.Validation("gateway_invalid_request")
)

// Error is a classified processor failure.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func NewError(code, message string) *Error {
	return &Error{Kind: Classify(code), Code: strings.TrimSpace(code), Message: strings.TrimSpace(message)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway %s", e.Kind)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == apperror.ErrGateway
}

// Classify maps a raw processor code onto an ErrorKind.
func Classify(code string) ErrorKind {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "insufficient_funds", "balance_insufficient":
		return ErrorKindInsufficientFunds
	case "account_invalid", "invalid_account", "no_account", "account_closed":
		return ErrorKindInvalidAccount
	case "currency_not_supported", "invalid_currency":
		return ErrorKindUnsupportedCurrency
	case "amount_too_small":
		return ErrorKindAmountTooSmall
	case "amount_too_large":
		return ErrorKindAmountTooLarge
	default:
		return ErrorKindOther
	}
}

// KindOf classifies any error returned from a gateway call. Deadlines and
// unclassified transport errors fall into ErrorKindOther.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ErrorKindOther
}

// AsTimeout wraps a context deadline into a classified error.
func AsTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindOther, Code: CodeTimeout, Message: err.Error()}
	}
	return err
}
