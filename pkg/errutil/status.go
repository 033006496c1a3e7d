package errutil

import "net/http"

type CoreStatus string

const (
	StatusBadRequest           CoreStatus = "bad_request"
	StatusValidationFailed     CoreStatus = "validation_failed"
	StatusUnauthorized         CoreStatus = "unauthorized"
	StatusForbidden            CoreStatus = "forbidden"
	StatusNotFound             CoreStatus = "not_found"
	StatusConflict             CoreStatus = "conflict"
	StatusUnprocessableEntity  CoreStatus = "unprocessable_entity"
	StatusUnsupportedMediaType CoreStatus = "unsupported_media_type"
	StatusTooManyRequests      CoreStatus = "too_many_requests"
	StatusClientClosedRequest  CoreStatus = "client_closed_request"
	StatusTimeout              CoreStatus = "timeout"
	StatusInternal             CoreStatus = "internal"
	StatusNotImplemented       CoreStatus = "not_implemented"
	StatusBadGateway           CoreStatus = "bad_gateway"
)

var httpStatus = map[CoreStatus]int{
	StatusBadRequest:           http.StatusBadRequest,
	StatusValidationFailed:     http.StatusBadRequest,
	StatusUnauthorized:         http.StatusUnauthorized,
	StatusForbidden:            http.StatusForbidden,
	StatusNotFound:             http.StatusNotFound,
	StatusConflict:             http.StatusConflict,
	StatusUnprocessableEntity:  http.StatusUnprocessableEntity,
	StatusUnsupportedMediaType: http.StatusUnsupportedMediaType,
	StatusTooManyRequests:      http.StatusTooManyRequests,
	StatusClientClosedRequest:  499,
	StatusTimeout:              http.StatusGatewayTimeout,
	StatusInternal:             http.StatusInternalServerError,
	StatusNotImplemented:       http.StatusNotImplemented,
	StatusBadGateway:           http.StatusBadGateway,
}

// HTTPStatus maps the status to a response code; unknown statuses are 500.
func (s CoreStatus) HTTPStatus() int {
	if code, ok := httpStatus[s]; ok {
		return code
	}
	return http.StatusInternalServerError
}
