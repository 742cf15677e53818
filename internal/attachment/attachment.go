// Package attachment downloads the binary payload behind an inbound
// attachment reference.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/soyeahso/tally/internal/domain"
)

// Fetcher resolves an attachment reference to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, att domain.Attachment) (*Blob, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, att domain.Attachment) (*Blob, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, att domain.Attachment) (*Blob, error) {
	return f(ctx, att)
}

// Blob is a downloaded attachment held in memory. The owner must call
// Release when done with it; after that Data is nil.
type Blob struct {
	Data     []byte
	MimeType string
	Filename string

	once   sync.Once
	onFree func()
}

// NewBlob wraps data. onRelease, if non-nil, runs once on the first Release.
func NewBlob(data []byte, mimeType string, onRelease func()) *Blob {
	return &Blob{Data: data, MimeType: mimeType, onFree: onRelease}
}

// Len returns the payload size in bytes.
func (b *Blob) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Release drops the payload. It is safe to call more than once and on a
// nil Blob.
func (b *Blob) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		b.Data = nil
		if b.onFree != nil {
			b.onFree()
		}
	})
}

// ErrorKind classifies fetch failures.
type ErrorKind int

const (
	// TransportFailure covers network errors, bad status codes and
	// oversized payloads.
	TransportFailure ErrorKind = iota
	// NotFound means the reference does not resolve to anything.
	NotFound
	// Timeout means the fetch deadline passed.
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout"
	default:
		return "transport_failure"
	}
}

// Error is returned by fetchers.
type Error struct {
	Kind ErrorKind
	Ref  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Ref, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Ref, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a fetch error. Errors that did not come from
// a fetcher count as TransportFailure, except context deadline errors.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return TransportFailure
}

// wrap converts err into an *Error, keeping an existing kind.
func wrap(ctx context.Context, ref string, err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	kind := TransportFailure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = Timeout
	}
	return &Error{Kind: kind, Ref: ref, Err: err}
}

// ref returns a loggable reference for att. Query strings are cut so
// signed URLs and bot tokens do not leak into logs.
func ref(att domain.Attachment) string {
	switch {
	case att.ID != "":
		return att.ID
	case strings.HasPrefix(att.URL, "data:"):
		return "data-url"
	case att.URL != "":
		u, _, _ := strings.Cut(att.URL, "?")
		return u
	}
	return "<empty>"
}

// Wrap converts err from fetching att into an *Error, keeping an existing
// kind.
func Wrap(ctx context.Context, att domain.Attachment, err error) error {
	return wrap(ctx, ref(att), err)
}
