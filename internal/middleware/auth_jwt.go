package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims. The subject is the owner id.
type Claims struct {
	Locale string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

type ownerKey struct{}

// SignJWT issues an HS256 token for ownerID. A zero ttl means no expiry.
func SignJWT(secret, ownerID, locale string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", errors.New("owner id is required")
	}
	now := time.Now()
	claims := Claims{
		Locale: locale,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  ownerID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyJWT validates signature, algorithm and expiry.
func VerifyJWT(secret, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized)
				return
			}
			claims, err := VerifyJWT(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				LoggerFromContext(r.Context()).Debug().Err(err).Msg("rejected bearer token")
				WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ownerKey{}, claims.Subject)
			if claims.Locale != "" && r.Header.Get("X-Locale") == "" {
				ctx = context.WithValue(ctx, LocaleKey, matchLocale(claims.Locale))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func OwnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}

func ContextWithOwnerID(ctx context.Context, ownerID string) context.Context {
	if strings.TrimSpace(ownerID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, ownerID)
}
