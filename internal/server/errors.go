package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/boxoffice/internal/apperror"
	gatewaydomain "github.com/smallbiznis/boxoffice/internal/gateway/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = apperror.NotFound("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

type kindResponse struct {
	status  int
	typ     string
	message string
}

var kindResponses = map[apperror.Kind]kindResponse{
	apperror.KindValidation:    {http.StatusBadRequest, "validation_error", "validation error"},
	apperror.KindAuthorization: {http.StatusForbidden, "forbidden", "forbidden"},
	apperror.KindNotFound:      {http.StatusNotFound, "not_found", "not found"},
	apperror.KindStateConflict: {http.StatusConflict, "conflict", "conflict"},
	apperror.KindGateway:       {http.StatusBadGateway, "gateway_error", "payment processor rejected the request"},
}

func mapError(err error) (int, errorPayload) {
	switch {
	case asValidationErrors(err) != nil:
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  asValidationErrors(err).Errors,
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	}

	kind := apperror.KindOf(err)
	resp, ok := kindResponses[kind]
	if !ok {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}

	payload := errorPayload{Type: resp.typ, Code: apperror.CodeOf(err), Message: resp.message}
	switch kind {
	case apperror.KindValidation:
		payload.Errors = []ValidationError{{Field: "request", Code: payload.Code, Message: "invalid value"}}
	case apperror.KindGateway:
		// clients branch on the processor's failure kind, not the wrapped sentinel
		payload.Code = string(gatewaydomain.KindOf(err))
	}
	return resp.status, payload
}

func classifyErrorForLog(err error) (string, string) {
	if asValidationErrors(err) != nil {
		return string(apperror.KindValidation), "invalid_request"
	}
	if errors.Is(err, ErrUnauthorized) {
		return "unauthorized", "unauthorized"
	}
	return string(apperror.KindOf(err)), apperror.CodeOf(err)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
