package openpayments

import (
	"errors"
	"fmt"
	"net/http"
)

// ResponseError is returned when a remote server answers with a non-2xx status.
type ResponseError struct {
	Op     string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("openpayments: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("openpayments: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// StatusOf returns the remote status carried by err, or 0.
func StatusOf(err error) int {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err is a 401/403 answer from a remote server.
func IsUnauthorized(err error) bool {
	status := StatusOf(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
