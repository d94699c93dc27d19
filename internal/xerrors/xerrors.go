// Package xerrors implements the error taxonomy from the spec's error
// handling design: ConfigurationError, MetadataError, DomainError,
// AggregationError, TransportError, and SinkError, ordered by locality.
// Adapted from the teacher's cmn/cos error helpers (typed sentinel errors,
// an Errs multi-error collector) plus github.com/pkg/errors for wrapping,
// the same dependency the teacher itself pulls in directly.
package xerrors

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Locality, lowest (most local) first, matching spec §7.
type Locality int

const (
	LocConfiguration Locality = iota
	LocMetadata
	LocDomain
	LocAggregation
	LocTransport
	LocSink
)

func (l Locality) String() string {
	switch l {
	case LocConfiguration:
		return "configuration"
	case LocMetadata:
		return "metadata"
	case LocDomain:
		return "domain"
	case LocAggregation:
		return "aggregation"
	case LocTransport:
		return "transport"
	case LocSink:
		return "sink"
	default:
		return "unknown"
	}
}

// TaxonomyError is a locality-tagged, kind-tagged error. Every error this
// module raises across the action pipeline, transport, and domain registry
// wraps into one of these so the Server's failure handler (§7) can switch on
// Locality without type-asserting every concrete error.
type TaxonomyError struct {
	Loc  Locality
	Kind string // e.g. "KeyNotFound", "UnknownDomain", "DuplicatePart"
	msg  string
	Err  error // optional wrapped cause
}

func (e *TaxonomyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Loc, e.Kind, e.msg, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Loc, e.Kind, e.msg)
}

func (e *TaxonomyError) Unwrap() error { return e.Err }

func newErr(loc Locality, kind, format string, a ...any) *TaxonomyError {
	return &TaxonomyError{Loc: loc, Kind: kind, msg: fmt.Sprintf(format, a...)}
}

func wrapErr(loc Locality, kind string, cause error, format string, a ...any) *TaxonomyError {
	return &TaxonomyError{Loc: loc, Kind: kind, msg: fmt.Sprintf(format, a...), Err: errors.WithStack(cause)}
}

// Configuration errors (fatal at startup).
func NewConfigurationError(format string, a ...any) error {
	return newErr(LocConfiguration, "ConfigurationError", format, a...)
}

// Metadata errors.
func NewKeyNotFound(key string) error {
	return newErr(LocMetadata, "KeyNotFound", "key %q not found in metadata", key)
}

func NewTypeMismatch(key, want, got string) error {
	return newErr(LocMetadata, "TypeMismatch", "key %q: want %s, got %s", key, want, got)
}

// Domain errors.
func NewUnknownDomain(name string, peer fmt.Stringer) error {
	return newErr(LocDomain, "UnknownDomain", "no domain %q registered for peer %s", name, peer)
}

func NewMalformedDomain(format string, a ...any) error {
	return newErr(LocDomain, "MalformedDomain", format, a...)
}

func NewDomainMismatch(name string, peer fmt.Stringer) error {
	return newErr(LocDomain, "DomainMismatch", "domain %q re-registered with different payload by %s", name, peer)
}

func NewInconsistentCoverage(name string) error {
	return newErr(LocDomain, "InconsistentCoverage", "domain %q partitions do not tile the global field", name)
}

// Aggregation errors.
func NewDuplicatePart(fieldID string, peer fmt.Stringer) error {
	return newErr(LocAggregation, "DuplicatePart", "field %q: duplicate partial from %s", fieldID, peer)
}

func NewUnexpectedLatePart(fieldID string, peer fmt.Stringer) error {
	return newErr(LocAggregation, "UnexpectedLatePart", "field %q: late partial from %s after emit", fieldID, peer)
}

func NewIncompleteAggregation(fieldID string, got, want int) error {
	return newErr(LocAggregation, "IncompleteAggregation", "field %q: got %d/%d parts at flush", fieldID, got, want)
}

// Transport errors.
func NewPeerUnreachable(cause error, peer fmt.Stringer) error {
	return wrapErr(LocTransport, "PeerUnreachable", cause, "peer %s unreachable", peer)
}

func NewFrameTooLarge(size, max int) error {
	return newErr(LocTransport, "FrameTooLarge", "frame size %d exceeds max %d", size, max)
}

func NewProtocolViolation(format string, a ...any) error {
	return newErr(LocTransport, "ProtocolViolation", format, a...)
}

// Sink errors.
func NewSinkError(cause error, sink string) error {
	return wrapErr(LocSink, "SinkError", cause, "sink %q write failed", sink)
}

// Is reports whether err is a TaxonomyError of the given kind.
func Is(err error, kind string) bool {
	var te *TaxonomyError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

func LocalityOf(err error) (Locality, bool) {
	var te *TaxonomyError
	if errors.As(err, &te) {
		return te.Loc, true
	}
	return 0, false
}

// Errs collects up to maxErrs distinct errors, de-duplicated by message,
// mirroring the teacher's cos.Errs collector used by batched operations.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.errs {
		if existing.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	return fmt.Sprintf("%v (and %d more)", e.errs[0], len(e.errs)-1)
}
