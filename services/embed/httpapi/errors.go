package httpapi

import (
	"errors"
	"net/http"

	"github.com/vectorforge/embedcore/services/embed/embederr"
)

// statusFor maps the error taxonomy in spec §7 onto HTTP status codes per
// the table in spec §6.
func statusFor(err error) int {
	switch {
	case errors.Is(err, embederr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, embederr.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, embederr.ErrDraining), errors.Is(err, embederr.ErrDegraded):
		return http.StatusServiceUnavailable
	case errors.Is(err, embederr.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newErrorBody(err error, detail []int) errorBody {
	return errorBody{Error: errorDetail{
		Kind:    embederr.Kind(err),
		Message: err.Error(),
		Detail:  detail,
	}}
}
