package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/relay/pkg/proxy/types"
)

// ============ TokenValidator Tests ============

func TestTokenValidator_Validate(t *testing.T) {
	v := NewTokenValidator("s3cret")

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "match", token: "s3cret"},
		{name: "empty", token: "", wantErr: ErrMissingToken},
		{name: "wrong", token: "s3cre", wantErr: ErrInvalidToken},
		{name: "case sensitive", token: "S3CRET", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%q) = %v, want %v", tt.token, err, tt.wantErr)
			}
		})
	}
}

func TestTokenValidator_SetToken(t *testing.T) {
	v := NewTokenValidator("old")
	v.SetToken("new")

	if err := v.Validate("old"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("old token error = %v, want ErrInvalidToken", err)
	}
	if err := v.Validate("new"); err != nil {
		t.Errorf("new token error = %v", err)
	}

	v.SetToken("")
	if err := v.Validate("new"); !errors.Is(err, ErrNoTokenConfigured) {
		t.Errorf("error = %v, want ErrNoTokenConfigured", err)
	}
}

// ============ Middleware Tests ============

func TestMiddleware_Handle(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewMiddleware(NewTokenValidator("s3cret"), nil).Handle(next)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{name: "valid bearer", header: "Bearer s3cret", wantStatus: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer s3cret", wantStatus: http.StatusNoContent},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized, wantCode: types.CodeMissingCredential},
		{name: "wrong scheme", header: "Basic s3cret", wantStatus: http.StatusUnauthorized, wantCode: types.CodeMissingCredential},
		{name: "wrong token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantCode: types.CodeInvalidCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusUnauthorized {
				return
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
			var body types.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Type != types.ErrorTypeAuthentication || body.Error.Code != tt.wantCode {
				t.Errorf("error = %+v", body.Error)
			}
		})
	}
}

func TestMiddleware_CustomSource(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := NewMiddleware(NewTokenValidator("s3cret"), []TokenSource{{Header: "X-Admin-Token"}}).Handle(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
