package pipeline

import (
	"context"
	"errors"

	"github.com/firefart/dmarcstore/internal/archive"
	"github.com/firefart/dmarcstore/internal/dmarc"
	"github.com/firefart/dmarcstore/internal/store"
)

// Kind is the failure class of a processed file.
type Kind string

const (
	KindOK          Kind = "ok"
	KindUnsupported Kind = "unsupported"
	KindExtraction  Kind = "extraction"
	KindMalformed   Kind = "malformed"
	KindConflict    Kind = "conflict"
	KindStorage     Kind = "storage"
	KindUnknown     Kind = "error"
)

// Classify maps an error returned by the extractor, the parser or the store
// to its Kind. Unreadable extracted documents count as extraction failures
// and context errors as storage failures.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, archive.ErrUnsupportedFormat):
		return KindUnsupported
	case errors.Is(err, archive.ErrExtraction),
		errors.Is(err, dmarc.ErrRead):
		return KindExtraction
	case errors.Is(err, dmarc.ErrMalformed):
		return KindMalformed
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, store.ErrStorage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindStorage
	default:
		return KindUnknown
	}
}

// Retryable reports whether processing the file again may succeed.
func (k Kind) Retryable() bool {
	return k == KindStorage
}
