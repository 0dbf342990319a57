package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func signToken(t *testing.T, secret, bucket string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Bucket: bucket,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runMiddleware(a *Auth, req *http.Request) (*httptest.ResponseRecorder, string) {
	var bucket string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket = GetBucket(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, bucket
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	a := New("secret", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec, _ := runMiddleware(a, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareAcceptsJWT(t *testing.T) {
	a := New("secret", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "bucket-1"))

	rec, bucket := runMiddleware(a, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if bucket != "bucket-1" {
		t.Errorf("bucket = %q, want bucket-1", bucket)
	}
}

func TestMiddlewareDerivesBucketFromSubject(t *testing.T) {
	a := New("secret", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", ""))

	rec, bucket := runMiddleware(a, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if bucket == "" {
		t.Error("bucket should be derived from the token subject")
	}
}

func TestMiddlewareRejectsBadSignature(t *testing.T) {
	a := New("secret", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "bucket-1"))

	rec, _ := runMiddleware(a, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("the-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	a := New("", string(hash))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Api-Key", "the-key")
	rec, bucket := runMiddleware(a, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if bucket == "" {
		t.Error("api key caller should get a derived bucket")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Api-Key", "wrong-key")
	rec, _ = runMiddleware(a, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
