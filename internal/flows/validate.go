package flows

import (
	"errors"
	"strings"
	"time"

	"github.com/bigtreetc/tokenauth/jwt"
)

// VerifyResult returns either the verified claims or a classified failure.
type VerifyResult struct {
	Failure FailureKind
	Err     error
	Claims  *jwt.Claims
}

type AccessVerifier interface {
	Verify(tokenStr string) (*jwt.Claims, error)
}

// VerifyDeps captures access-token verification dependencies.
type VerifyDeps struct {
	Tokens  AccessVerifier
	Now     func() time.Time
	Observe func(success bool, elapsed time.Duration)
}

// RunVerify checks an access token. It never touches the session store.
func RunVerify(tokenStr string, deps VerifyDeps) VerifyResult {
	start := deps.Now()
	res := runVerify(tokenStr, deps)
	if deps.Observe != nil {
		deps.Observe(res.Failure == FailureNone, deps.Now().Sub(start))
	}
	return res
}

func runVerify(tokenStr string, deps VerifyDeps) VerifyResult {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return VerifyResult{Failure: FailureTokenMalformed, Err: jwt.ErrTokenMalformed}
	}

	claims, err := deps.Tokens.Verify(tokenStr)
	if err != nil {
		return VerifyResult{Failure: ClassifyTokenError(err), Err: err}
	}

	return VerifyResult{Claims: claims}
}

// ClassifyTokenError maps a jwt package error to a [FailureKind].
func ClassifyTokenError(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, jwt.ErrTokenExpired):
		return FailureTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidSignature):
		return FailureTokenInvalidSignature
	default:
		return FailureTokenMalformed
	}
}
