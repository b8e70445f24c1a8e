package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"claude-gateway/directive"
	"claude-gateway/logger"
	"claude-gateway/types"
)

// Claude error envelope type names.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeAPI            = "api_error"
)

// GatewayError is an error with a fixed HTTP surface: status code plus the
// Claude-shaped envelope body.
type GatewayError struct {
	Status    int
	ErrorType string
	Message   string
}

func (e *GatewayError) Error() string {
	return e.Message
}

func badRequestError(format string, args ...interface{}) *GatewayError {
	return &GatewayError{
		Status:    http.StatusBadRequest,
		ErrorType: errTypeInvalidRequest,
		Message:   fmt.Sprintf(format, args...),
	}
}

func missingAPIKeyError() *GatewayError {
	return &GatewayError{
		Status:    http.StatusUnauthorized,
		ErrorType: errTypeAuthentication,
		Message:   "Missing x-api-key header",
	}
}

// upstreamTransportError covers connect, TLS, and timeout failures before
// any upstream response arrived.
func upstreamTransportError(err error) *GatewayError {
	return &GatewayError{
		Status:    http.StatusBadGateway,
		ErrorType: errTypeAPI,
		Message:   fmt.Sprintf("upstream request failed: %v", err),
	}
}

// upstreamProtocolError covers non-2xx statuses and unparsable upstream
// payloads. The upstream body is passed through so clients can see the
// real rejection reason.
func upstreamProtocolError(status int, body string) *GatewayError {
	return &GatewayError{
		Status:    http.StatusBadGateway,
		ErrorType: errTypeAPI,
		Message:   fmt.Sprintf("upstream returned status %d: %s", status, body),
	}
}

func internalError(format string, args ...interface{}) *GatewayError {
	return &GatewayError{
		Status:    http.StatusInternalServerError,
		ErrorType: errTypeAPI,
		Message:   fmt.Sprintf(format, args...),
	}
}

// asGatewayError normalizes any error into a GatewayError. Validation and
// directive errors keep their 400-class surface; everything unclassified
// is a 500.
func asGatewayError(err error) *GatewayError {
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr
	}
	var validationErr *types.ValidationError
	if errors.As(err, &validationErr) {
		return badRequestError("%s", validationErr.Message)
	}
	var directiveErr *directive.ParseError
	if errors.As(err, &directiveErr) {
		return badRequestError("%s", directiveErr.Error())
	}
	return internalError("%v", err)
}

// writeError sends the Claude-shaped error envelope. Internal errors are
// logged with the request correlation id before anything reaches the wire.
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	gatewayErr := asGatewayError(err)
	if gatewayErr.Status >= http.StatusInternalServerError {
		log.Error("request failed: %s", gatewayErr.Message)
	} else {
		log.Warn("request rejected: %s", gatewayErr.Message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gatewayErr.Status)
	_ = json.NewEncoder(w).Encode(types.ErrorEvent{
		Type: "error",
		Error: types.ErrorDetail{
			Type:    gatewayErr.ErrorType,
			Message: gatewayErr.Message,
		},
	})
}
