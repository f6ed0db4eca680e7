package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Completion failures are reported wrapped in one of these sentinels so the
// reply path can pick a fallback text per class with errors.Is.
var (
	ErrTimeout      = errors.New("llm: completion timed out")
	ErrUnauthorized = errors.New("llm: unauthorized")
	ErrRateLimited  = errors.New("llm: rate limited")
	ErrServerFault  = errors.New("llm: server fault")
	ErrUnknown      = errors.New("llm: unknown failure")
)

// Class is a short label for an error class, used in metrics and journal.
type Class string

const (
	ClassNone         Class = ""
	ClassTimeout      Class = "timeout"
	ClassUnauthorized Class = "unauthorized"
	ClassRateLimited  Class = "rate_limited"
	ClassServerFault  Class = "server_fault"
	ClassUnknown      Class = "unknown"
)

// ClassOf maps an error returned by a Client to its class.
func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrServerFault):
		return ClassServerFault
	default:
		return ClassUnknown
	}
}

// classify wraps a raw provider error into its sentinel class.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if sentinel := statusClass(status); sentinel != nil {
		return errors.Join(sentinel, err)
	}
	return errors.Join(ErrUnknown, err)
}

func statusClass(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status >= 500:
		return ErrServerFault
	default:
		return nil
	}
}
