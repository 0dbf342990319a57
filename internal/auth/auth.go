// Package auth provides bearer-token authentication resolving each
// caller to a storage bucket.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vwake01/ai-dial-core/internal/metrics"
)

type contextKey string

const bucketContextKey contextKey = "bucket"

// Claims holds JWT token claims. Bucket is the caller's storage
// namespace; when absent it is derived from the subject.
type Claims struct {
	Bucket string `json:"bucket"`
	jwt.RegisteredClaims
}

// Auth validates bearer JWTs and API keys.
type Auth struct {
	secret     []byte
	apiKeyHash []byte
}

// New creates an Auth handler. Either secret may be empty to disable
// that scheme.
func New(jwtSecret, apiKeyHash string) *Auth {
	return &Auth{
		secret:     []byte(jwtSecret),
		apiKeyHash: []byte(apiKeyHash),
	}
}

// Middleware returns HTTP middleware that authenticates the request and
// stores the caller's bucket in the context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, err := a.authenticate(r)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, err.Error())
			return
		}

		metrics.RecordAuthAttempt(true)
		ctx := context.WithValue(r.Context(), bucketContextKey, bucket)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetBucket extracts the caller's bucket from the request context.
func GetBucket(ctx context.Context) string {
	bucket, _ := ctx.Value(bucketContextKey).(string)
	return bucket
}

func (a *Auth) authenticate(r *http.Request) (string, error) {
	if key := r.Header.Get("Api-Key"); key != "" {
		return a.checkAPIKey(key)
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return a.checkJWT(strings.TrimPrefix(header, "Bearer "))
	}

	return "", fmt.Errorf("missing authentication token")
}

func (a *Auth) checkJWT(tokenStr string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("bearer authentication is not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	bucket := claims.Bucket
	if bucket == "" {
		bucket = encodeBucket(claims.Subject)
	}
	if bucket == "" {
		return "", fmt.Errorf("token has no bucket or subject")
	}
	return bucket, nil
}

func (a *Auth) checkAPIKey(key string) (string, error) {
	if len(a.apiKeyHash) == 0 {
		return "", fmt.Errorf("api key authentication is not configured")
	}
	if err := bcrypt.CompareHashAndPassword(a.apiKeyHash, []byte(key)); err != nil {
		return "", fmt.Errorf("invalid api key")
	}
	return encodeBucket(key), nil
}

// encodeBucket derives a stable bucket name from a caller identity.
func encodeBucket(identity string) string {
	if identity == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])[:16]
}

func sendAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
