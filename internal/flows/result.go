package flows

// FailureKind classifies why a flow did not succeed. Only the HTTP boundary
// turns it into a status code.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureBadCredentials
	FailureMalformedRequest
	FailureTokenExpired
	FailureTokenInvalidSignature
	FailureTokenMalformed
	FailureRefreshMismatch
	FailureStoreUnavailable
	FailureRateLimited
)

var failureNames = [...]string{
	FailureNone:                  "none",
	FailureBadCredentials:        "bad_credentials",
	FailureMalformedRequest:      "malformed_request",
	FailureTokenExpired:          "token_expired",
	FailureTokenInvalidSignature: "token_invalid_signature",
	FailureTokenMalformed:        "token_malformed",
	FailureRefreshMismatch:       "refresh_mismatch",
	FailureStoreUnavailable:      "store_unavailable",
	FailureRateLimited:           "rate_limited",
}

func (k FailureKind) String() string {
	if k < 0 || int(k) >= len(failureNames) {
		return "unknown"
	}
	return failureNames[k]
}
