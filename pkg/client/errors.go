package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrQueryCanceled is returned when the coordinator reports the query as canceled by the user.
var ErrQueryCanceled = errors.New("query canceled")

// ErrQueryFailed reports a request the coordinator did not answer with a page.
type ErrQueryFailed struct {
	StatusCode int
	Reason     error
}

// Error implements the error interface.
func (e *ErrQueryFailed) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("presto request failed: %v", e.Reason)
	}
	return fmt.Sprintf("presto request failed (%d %s): %v",
		e.StatusCode, http.StatusText(e.StatusCode), e.Reason)
}

// Unwrap returns the underlying reason.
func (e *ErrQueryFailed) Unwrap() error {
	return e.Reason
}

func newErrQueryFailedFromResponse(resp *http.Response) *ErrQueryFailed {
	const maxBytes = 8 * 1024
	defer resp.Body.Close()

	qf := &ErrQueryFailed{StatusCode: resp.StatusCode}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		qf.Reason = err
		return qf
	}
	reason := string(b)
	if resp.ContentLength > maxBytes {
		reason += "..."
	}
	qf.Reason = errors.New(reason)
	return qf
}
