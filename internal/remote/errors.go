package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a remote failure. The kind drives retry policy: the sync
// engine auto-retries transient kinds and surfaces the rest for explicit
// resubmission.
type Kind string

const (
	KindNetwork    Kind = "network"    // unreachable, DNS, connection refused
	KindAuth       Kind = "auth"       // rejected credentials, expired session
	KindValidation Kind = "validation" // payload rejected by the remote schema
	KindConflict   Kind = "conflict"   // uniqueness violation, e.g. duplicate active lock
	KindTimeout    Kind = "timeout"    // no response within the client deadline
	KindServer     Kind = "server"     // 5xx-equivalent
	KindUnknown    Kind = "unknown"
)

// Retryable reports whether failures of this kind are worth retrying with
// the same payload. Auth, validation and conflict failures are not: the
// request itself is suspect and needs user action.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	}
	return false
}

// SuggestedAction returns a short user-facing hint for non-retryable kinds.
func (k Kind) SuggestedAction() string {
	switch k {
	case KindAuth:
		return "sign in again and resubmit"
	case KindValidation:
		return "fix the highlighted fields and resubmit"
	case KindConflict:
		return "refresh and resolve the conflict, then resubmit"
	case KindNetwork, KindTimeout, KindServer:
		return "will retry automatically"
	}
	return "retry manually"
}

// Error is a classified remote failure. The client attaches the operation
// and entity context so the sync engine can convert it straight into a
// tracked sync error.
type Error struct {
	Kind       Kind
	Operation  string
	EntityType string
	EntityID   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Operation, e.Message, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Operation, e.Message, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, or KindUnknown if err is not
// a remote error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// IsConflict reports whether err is a classified conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// classifyStatus maps an HTTP response status to a failure kind.
func classifyStatus(status int, body string) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		// Postgres unique violations surface as 23505 in the error body.
		if strings.Contains(body, "23505") || strings.Contains(body, "duplicate key") {
			return KindConflict
		}
		return KindValidation
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	}
	return KindUnknown
}

// classifyTransport maps a transport-level error to a failure kind.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}
	if errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	// url.Error wraps most transport failures; treat anything that made it
	// here without a response as unreachable.
	return KindNetwork
}
