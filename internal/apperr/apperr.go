// Package apperr holds the engine's error taxonomy. Callers wrap the sentinels
// with fmt.Errorf("...: %w", ...) and classify with errors.Is, Kind or HTTPStatus.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrTableUnavailable    = errors.New("table unavailable")
	ErrDuplicatePayment    = errors.New("duplicate payment")
	ErrConflict            = errors.New("concurrent modification conflict")
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrGateway             = errors.New("gateway error")

	ErrPaymentDeclined    = errors.New("payment declined")
	ErrUnsupportedService = errors.New("unsupported service")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Kind returns a stable snake_case name for err's classification.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrTableUnavailable):
		return "table_unavailable"
	case errors.Is(err, ErrDuplicatePayment):
		return "duplicate_payment"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrIntegrationNotFound):
		return "integration_not_found"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	case errors.Is(err, ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, ErrUnsupportedService):
		return "unsupported_service"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrIntegrationNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTableUnavailable),
		errors.Is(err, ErrDuplicatePayment),
		errors.Is(err, ErrConflict):
		return http.StatusConflict

	case errors.Is(err, ErrUnsupportedService),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest

	case errors.Is(err, ErrPaymentDeclined):
		return http.StatusPaymentRequired

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// Client reports whether err is the caller's fault and must not be retried.
func Client(err error) bool {
	switch HTTPStatus(err) {
	case http.StatusNotFound, http.StatusConflict, http.StatusBadRequest,
		http.StatusPaymentRequired, http.StatusUnauthorized:
		return !errors.Is(err, ErrConflict)
	}
	return false
}
