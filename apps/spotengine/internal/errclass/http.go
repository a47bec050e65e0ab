package errclass

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned by HTTP clients for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func classifyHTTP(err error) *Error {
	var status *StatusError
	if errors.As(err, &status) {
		return statusKind(SourceHTTP, status.StatusCode, err)
	}
	if transportFailure(err) {
		return wrap(SourceHTTP, KindNetworkTransient, true, err)
	}
	return unknown(SourceHTTP, err)
}

func statusKind(source Source, code int, err error) *Error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return wrap(source, KindNetworkTransient, true, err)
	case code >= 500:
		return wrap(source, KindNetworkTransient, true, err)
	case code == http.StatusNotFound:
		return wrap(source, KindNotFound, false, err)
	case code >= 400:
		return wrap(source, KindValidation, false, err)
	}
	return unknown(source, err)
}
