package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendledger/crypto"
	"lendledger/observability/logging"
)

// AuthConfig configures HMAC bearer token verification.
type AuthConfig struct {
	HMACSecret    string
	Issuer        string
	Audience      string
	IdentityClaim string
	ClockSkew     time.Duration
}

type contextKey string

const contextKeyIdentity contextKey = "ledgerd.identity"

var (
	errSecretMissing = errors.New("auth secret not configured")
	errIssuer        = errors.New("issuer mismatch")
	errAudience      = errors.New("audience mismatch")
	errIdentity      = errors.New("identity claim missing")
)

// Authenticator turns a verified bearer token into the caller identity.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	now    func() time.Time
}

// NewAuthenticator constructs an authenticator. Missing claim names and skew
// fall back to "sub" and two minutes.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.IdentityClaim) == "" {
		cfg.IdentityClaim = "sub"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		now:    time.Now,
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved identity on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := a.Identify(raw)
		if err != nil {
			a.logger.Warn("auth: token rejected",
				logging.MaskField("authorization", raw),
				slog.String("reason", err.Error()))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// Identify verifies the token and returns the identity it names.
func (a *Authenticator) Identify(tokenString string) (crypto.Address, error) {
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return crypto.Address{}, err
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
		return crypto.Address{}, err
	}
	value, ok := claims[a.cfg.IdentityClaim].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return crypto.Address{}, errIdentity
	}
	identity, err := crypto.ParseIdentity(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("identity claim: %w", err)
	}
	return identity, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errSecretMissing
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errIssuer
		}
	}
	if audience == "" {
		return nil
	}
	switch val := claims["aud"].(type) {
	case string:
		if val == audience {
			return nil
		}
	case []interface{}:
		for _, entry := range val {
			if s, ok := entry.(string); ok && s == audience {
				return nil
			}
		}
	}
	return errAudience
}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, identity crypto.Address) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext returns the caller identity stored by the authenticator.
func IdentityFromContext(ctx context.Context) (crypto.Address, bool) {
	identity, ok := ctx.Value(contextKeyIdentity).(crypto.Address)
	if !ok || identity.IsZero() {
		return crypto.Address{}, false
	}
	return identity, true
}

// IssueToken signs an HMAC token naming identity. It backs the CLI's
// development tokens and tests.
func IssueToken(secret string, identity crypto.Address, issuer, audience string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errSecretMissing
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": identity.String(),
		"iat": now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
