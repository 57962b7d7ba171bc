package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// StatusFor maps a relay error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, push.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, push.ErrNoDeviceTokens):
		return http.StatusUnprocessableEntity
	case errors.Is(err, push.ErrProviderInit):
		return http.StatusServiceUnavailable
	case errors.Is(err, push.ErrProviderCall), errors.Is(err, push.ErrSubscriptionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handlerFunc is an endpoint that reports failures by returning them.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap is the single place where errors become HTTP responses. Client errors
// are logged at warn, everything else at error; internal details are not
// leaked for 500s.
func wrap(op string, logger *slog.Logger, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		code := StatusFor(err)
		msg := err.Error()
		if code >= http.StatusInternalServerError {
			logger.Error("Operation failed", "op", op, "status", code, "err", err)
			if code == http.StatusInternalServerError {
				msg = "internal error"
			}
		} else {
			logger.Warn("Operation rejected", "op", op, "status", code, "err", err)
		}
		response.WriteJSONError(w, code, msg)
	}
}
