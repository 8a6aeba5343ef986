package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to parse error body: %v", err)
	}
	return resp.Error.Code
}

func TestMiddleware_ValidTokenAttachesOperator(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	operatorID := uuid.New()

	token, err := auth.GenerateAccessToken(operatorID, "operator@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	var got uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetOperatorID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got != operatorID {
		t.Errorf("Expected operator %s in context, got %s", operatorID, got)
	}
}

func TestMiddleware_RejectsBadCredentials(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	otherSecret := NewJWTAuth("other-secret")
	foreignToken, err := otherSecret.GenerateAccessToken(uuid.New(), "operator@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc123"},
		{"garbled token", "Bearer not-a-jwt"},
		{"wrong signing key", "Bearer " + foreignToken},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("Handler must not run for rejected credentials")
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			auth.Middleware(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("Expected 401, got %d", rec.Code)
			}
			if code := errorCode(t, rec.Body.Bytes()); code != "UNAUTHORIZED" {
				t.Errorf("Expected UNAUTHORIZED, got %q", code)
			}
		})
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	claims := jwt.MapClaims{
		"operator_id": uuid.New().String(),
		"exp":         time.Now().Add(-time.Minute).Unix(),
		"iat":         time.Now().Add(-16 * time.Minute).Unix(),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(auth.Secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()
	auth.Middleware(http.NotFoundHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "TOKEN_EXPIRED" {
		t.Errorf("Expected TOKEN_EXPIRED, got %q", code)
	}
}

func TestParseToken_RoundTrip(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	operatorID := uuid.New()

	token, err := auth.GenerateAccessToken(operatorID, "operator@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	parsed, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if parsed != operatorID {
		t.Errorf("Expected %s, got %s", operatorID, parsed)
	}
}

func TestParseToken_MissingOperatorClaim(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	claims := jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(auth.Secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	if _, err := auth.ParseToken(token); err == nil {
		t.Error("Expected error for token without operator_id claim")
	}
}

func TestGetOperatorID_AbsentContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetOperatorID(req.Context()); got != uuid.Nil {
		t.Errorf("Expected uuid.Nil outside the middleware, got %s", got)
	}
}
