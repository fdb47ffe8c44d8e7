package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned when the token's exp claim is not after the current time.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalidSignature is returned when the signature or signing method does not verify.
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	// ErrTokenMalformed covers undecodable tokens, missing claims and tokens not yet valid.
	ErrTokenMalformed = errors.New("token malformed")
)

const minSigningKeyBytes = 32

// Algorithm names an HMAC signing method.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

// Config holds the access-token issuance settings.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL  time.Duration
	Algorithm  Algorithm
	SigningKey []byte
	Issuer     string
	Leeway     time.Duration
	// Now overrides the time source. Nil means time.Now.
	Now func() time.Time
}

// Manager signs and verifies access tokens. It never touches storage.
type Manager struct {
	config Config
	method jwt.SigningMethod
	now    func() time.Time
}

// Claims is the access-token claim set.
type Claims struct {
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.SigningKey) < minSigningKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minSigningKeyBytes)
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = HS512
	}

	method, err := methodFor(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{config: cfg, method: method, now: now}, nil
}

func methodFor(alg Algorithm) (jwt.SigningMethod, error) {
	switch Algorithm(strings.ToUpper(string(alg))) {
	case HS256:
		return jwt.SigningMethodHS256, nil
	case HS384:
		return jwt.SigningMethodHS384, nil
	case HS512:
		return jwt.SigningMethodHS512, nil
	default:
		return nil, errors.New("unsupported signing algorithm")
	}
}

// TTL returns the configured access-token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.AccessTTL
}

// Issue signs an access token for username with the configured TTL.
func (m *Manager) Issue(username string, roles []string, sessionID string) (string, *Claims, error) {
	return m.IssueWithTTL(username, roles, sessionID, m.config.AccessTTL)
}

// IssueWithTTL signs an access token with iat = nbf = now and exp = now + ttl.
// Timestamps are truncated to whole seconds so exp - iat equals ttl exactly.
func (m *Manager) IssueWithTTL(username string, roles []string, sessionID string, ttl time.Duration) (string, *Claims, error) {
	if username == "" {
		return "", nil, errors.New("username is required")
	}
	if ttl <= 0 {
		return "", nil, errors.New("invalid TTL")
	}

	now := m.now().Truncate(time.Second)
	if roles == nil {
		roles = []string{}
	}

	claims := &Claims{
		Username:  username,
		Roles:     append([]string(nil), roles...),
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.config.SigningKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks the signature and the temporal claims of tokenStr.
// Errors wrap ErrTokenExpired, ErrTokenInvalidSignature or ErrTokenMalformed.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	return m.parse(tokenStr, jwt.NewParser(options...))
}

// VerifyIgnoringExpiry checks the signature but skips temporal validation.
// It exists so a refresh request can recover identity from an expired access token;
// it must never be used to authorize a request.
func (m *Manager) VerifyIgnoringExpiry(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims, err := m.parse(tokenStr, parser)
	if err != nil {
		return nil, err
	}
	if m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenMalformed)
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, parser *jwt.Parser) (*Claims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.SigningKey, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrTokenMalformed)
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrTokenMalformed)
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
