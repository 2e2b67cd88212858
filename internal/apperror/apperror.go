package apperror

import "errors"

// Kind groups domain errors into the categories callers branch on.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindAuthorization Kind = "authorization_error"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindGateway       Kind = "gateway_error"
	KindInternal      Kind = "internal_error"
)

var (
	ErrValidation    = errors.New(string(KindValidation))
	ErrAuthorization = errors.New(string(KindAuthorization))
	ErrNotFound      = errors.New(string(KindNotFound))
	ErrStateConflict = errors.New(string(KindStateConflict))
	ErrGateway       = errors.New(string(KindGateway))
)

// Error is a coded domain error that matches its category sentinel with errors.Is.
type Error struct {
	kind Kind
	code string
}

func (e *Error) Error() string { return e.code }

// Code returns the stable snake_case code.
func (e *Error) Code() string { return e.code }

// Kind returns the error category.
func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.kind == KindValidation
	case ErrAuthorization:
		return e.kind == KindAuthorization
	case ErrNotFound:
		return e.kind == KindNotFound
	case ErrStateConflict:
		return e.kind == KindStateConflict
	case ErrGateway:
		return e.kind == KindGateway
	}
	return false
}

func Validation(code string) error    { return &Error{kind: KindValidation, code: code} }
func Authorization(code string) error { return &Error{kind: KindAuthorization, code: code} }
func NotFound(code string) error      { return &Error{kind: KindNotFound, code: code} }
func StateConflict(code string) error { return &Error{kind: KindStateConflict, code: code} }

// KindOf reports the category of err, or KindInternal when it carries none.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrGateway):
		return KindGateway
	default:
		return KindInternal
	}
}

// CodeOf returns the stable code of the first coded error in the chain.
func CodeOf(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if err == nil {
		return ""
	}
	return string(KindInternal)
}
