package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ClassifyTransportError maps a transport-level failure from an outbound HTTP
// call onto the error taxonomy: expired deadlines become timeouts, everything
// else is transient.
func ClassifyTransportError(capability, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTimeout, capability, operation, "request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return Wrap(ErrTimeout, capability, operation, "request timed out", err)
	}
	return Wrap(ErrTransient, capability, operation, "request failed", err)
}

// ClassifyStatus maps a non-2xx response status onto the error taxonomy.
// Auth failures point at configuration, other 4xx responses mean the request
// itself can never succeed, and 5xx responses are worth retrying.
func ClassifyStatus(capability, operation string, status int, body []byte) error {
	detail := fmt.Sprintf("http %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Wrap(ErrConfiguration, capability, operation, detail, nil)
	case status == http.StatusNotFound:
		return Wrap(ErrNotFound, capability, operation, detail, nil)
	case status >= 400 && status < 500:
		return Wrap(ErrValidation, capability, operation, detail, nil)
	default:
		return Wrap(ErrTransient, capability, operation, detail, nil)
	}
}
