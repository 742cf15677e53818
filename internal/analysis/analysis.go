// Package analysis turns receipt photos into line items.
//
// Several backends implement Analyzer: a dedicated HTTP receipt service,
// and vision models behind the Anthropic and OpenAI APIs. Failover chains
// them so a flaky provider does not lose a receipt.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/tally/internal/domain"
)

// Image is the input to an analysis.
type Image struct {
	Data     []byte
	MimeType string
	Filename string
}

// Result is what a backend read off a receipt. Total is the amount printed
// on the receipt, which may differ from the sum of Items.
type Result struct {
	Total decimal.Decimal   `json:"total"`
	Items []domain.LineItem `json:"items"`
}

// ItemsTotal returns the sum of the item prices.
func (r *Result) ItemsTotal() decimal.Decimal {
	return domain.SumPrices(r.Items)
}

// Analyzer is the interface all analysis backends implement.
type Analyzer interface {
	// Analyze extracts the receipt contents from img.
	Analyze(ctx context.Context, img Image) (*Result, error)

	// Name returns the provider name (e.g., "service", "anthropic").
	Name() string
}

// ErrorKind classifies analysis failures.
type ErrorKind int

const (
	// ServiceUnavailable covers transport errors, auth problems, rate
	// limits and 5xx responses.
	ServiceUnavailable ErrorKind = iota
	// BadImage means the backend rejected the image itself.
	BadImage
	// Timeout means the analysis deadline passed.
	Timeout
	// Malformed means the backend answered with something unreadable.
	Malformed
)

func (k ErrorKind) String() string {
	switch k {
	case BadImage:
		return "bad_image"
	case Timeout:
		return "timeout"
	case Malformed:
		return "malformed"
	default:
		return "service_unavailable"
	}
}

// Error is returned by analyzers.
type Error struct {
	Kind     ErrorKind
	Provider string
	Code     int // HTTP status code, when there was one
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Code > 0 {
		msg = fmt.Sprintf("%s: %s (%d)", e.Provider, e.Kind, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another provider might succeed where this one
// failed.
func (e *Error) Retryable() bool {
	return e.Kind == ServiceUnavailable || e.Kind == Timeout
}

// KindOf returns the kind of an analysis error. Unknown errors count as
// ServiceUnavailable, except context deadline errors.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return ServiceUnavailable
}

// statusError maps an HTTP status to an *Error.
func statusError(provider string, code int, err error) *Error {
	kind := ServiceUnavailable
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		kind = BadImage
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = Timeout
	}
	return &Error{Kind: kind, Provider: provider, Code: code, Err: err}
}

// transportError wraps a failed request, telling deadlines apart.
func transportError(ctx context.Context, provider string, err error) *Error {
	kind := ServiceUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = Timeout
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Wrap converts err into an *Error, keeping an existing kind.
func Wrap(ctx context.Context, provider string, err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return transportError(ctx, provider, err)
}
