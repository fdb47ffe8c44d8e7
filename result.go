package tokenauth

import (
	"fmt"

	"github.com/bigtreetc/tokenauth/internal/flows"
)

// FailureKind classifies why an engine operation did not succeed. It is for
// logging and status mapping only and is never echoed to clients.
type FailureKind = flows.FailureKind

const (
	FailureNone                  = flows.FailureNone
	FailureBadCredentials        = flows.FailureBadCredentials
	FailureMalformedRequest      = flows.FailureMalformedRequest
	FailureTokenExpired          = flows.FailureTokenExpired
	FailureTokenInvalidSignature = flows.FailureTokenInvalidSignature
	FailureTokenMalformed        = flows.FailureTokenMalformed
	FailureRefreshMismatch       = flows.FailureRefreshMismatch
	FailureStoreUnavailable      = flows.FailureStoreUnavailable
	FailureRateLimited           = flows.FailureRateLimited
)

// VerifyResult is the outcome of [Engine.Verify]: a principal or a failure.
type VerifyResult struct {
	Failure   FailureKind
	Err       error
	Principal *Principal
}

func (r VerifyResult) OK() bool { return r.Failure == FailureNone }

// LoginResult is the outcome of [Engine.Login].
type LoginResult struct {
	Failure   FailureKind
	Err       error
	Tokens    TokenPair
	Principal *Principal
}

func (r LoginResult) OK() bool { return r.Failure == FailureNone }

// RefreshResult is the outcome of [Engine.Refresh].
type RefreshResult struct {
	Failure   FailureKind
	Err       error
	Tokens    TokenPair
	Principal *Principal
}

func (r RefreshResult) OK() bool { return r.Failure == FailureNone }

// sentinelFor returns the package error a failure kind wraps.
func sentinelFor(kind FailureKind) error {
	switch kind {
	case FailureBadCredentials:
		return ErrBadCredentials
	case FailureMalformedRequest:
		return ErrMalformedRequest
	case FailureRateLimited:
		return ErrLoginRateLimited
	case FailureStoreUnavailable:
		return ErrStoreUnavailable
	default:
		return ErrUnauthorized
	}
}

func wrapFailure(kind FailureKind, err error) error {
	if kind == FailureNone {
		return nil
	}
	sentinel := sentinelFor(kind)
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
