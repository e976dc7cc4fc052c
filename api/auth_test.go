package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"tasksetu-api/domain"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  "user-123",
		"name": "Asha Rao",
		"aud":  "api://tasksetu",
		"iss":  "https://issuer/",
		"exp":  time.Now().Add(5 * time.Minute).Unix(),
		"nbf":  time.Now().Add(-time.Minute).Unix(),
		"iat":  time.Now().Add(-time.Minute).Unix(),
	}
}

func testAuth() *Auth {
	auth := NewTestAuth(testSecret)
	auth.Audience = "api://tasksetu"
	auth.Issuer = "https://issuer/"
	return auth
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "ok", raw: "Bearer header.payload.signature", want: "header.payload.signature"},
		{name: "padded", raw: "  Bearer a.b.c ", want: "a.b.c"},
		{name: "missing", raw: "", wantErr: errMissingAuthorization},
		{name: "basic", raw: "Basic dXNlcjpwYXNz", wantErr: errBadAuthorization},
		{name: "empty token", raw: "Bearer ", wantErr: errBadAuthorization},
		{name: "many periods", raw: "Bearer " + strings.Repeat(".", 1000), wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.raw)
			if err != tt.wantErr {
				t.Fatalf("bearerToken(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestAuthHeaderFallsBackToQueryToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/t1/activity/stream?token=a.b.c", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if got := authHeader(c); got != "Bearer a.b.c" {
		t.Fatalf("unexpected header %q", got)
	}

	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	if got := authHeader(c); got != "Bearer x.y.z" {
		t.Fatalf("header should win over query, got %q", got)
	}
}

func TestPrincipalFromBearerHS256(t *testing.T) {
	claims := validClaims()
	claims["permissions"] = []any{"tasks:read", PermissionAdmin}
	claims["scope"] = "openid profile"
	signed := signToken(t, claims)

	p, err := testAuth().PrincipalFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if p.UserID != "user-123" || p.Name != "Asha Rao" {
		t.Fatalf("unexpected principal %#v", p)
	}
	for _, want := range []string{"tasks:read", PermissionAdmin, "openid", "profile"} {
		if !p.Has(want) {
			t.Fatalf("expected permission %q in %v", want, p.Permissions)
		}
	}
	if !p.Actor().CanEdit {
		t.Fatalf("admin principal should be able to edit")
	}
}

func TestPrincipalFromTokenRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-5 * time.Minute).Unix() }},
		{name: "not yet valid", mutate: func(c jwt.MapClaims) { c["nbf"] = time.Now().Add(5 * time.Minute).Unix() }},
		{name: "issued in the future", mutate: func(c jwt.MapClaims) { c["iat"] = time.Now().Add(5 * time.Minute).Unix() }},
		{name: "audience", mutate: func(c jwt.MapClaims) { c["aud"] = "api://other" }},
		{name: "issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil/" }},
		{name: "no subject", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			if _, err := testAuth().PrincipalFromToken(signToken(t, claims)); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestPrincipalFromTokenWrongSecret(t *testing.T) {
	signed := signToken(t, validClaims())
	auth := NewTestAuth([]byte("other-secret"))
	if _, err := auth.PrincipalFromToken(signed); err == nil {
		t.Fatalf("expected signature check to fail")
	}
}

func TestCanEdit(t *testing.T) {
	task := domain.Task{ID: "t1", CreatedBy: "creator", AssigneeID: "asha"}
	tests := []struct {
		actor domain.Actor
		want  bool
	}{
		{domain.Actor{ID: "creator"}, true},
		{domain.Actor{ID: "asha"}, true},
		{domain.Actor{ID: "ben"}, false},
		{domain.Actor{}, false},
	}
	for _, tt := range tests {
		if got := CanEdit(task, tt.actor); got != tt.want {
			t.Fatalf("CanEdit(%q) = %v, want %v", tt.actor.ID, got, tt.want)
		}
	}
	if CanEdit(domain.Task{ID: "t2"}, domain.Actor{}) {
		t.Fatalf("empty actor must not match an unassigned task")
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	signed, err := SignTestToken(testSecret, "asha", "Asha", []string{PermissionAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := NewTestAuth(testSecret).PrincipalFromToken(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != "asha" || p.Name != "Asha" || !p.Has(PermissionAdmin) {
		t.Fatalf("unexpected principal %#v", p)
	}

	if _, err := SignTestToken(nil, "asha", "", nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := SignTestToken(testSecret, "", "", nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty user")
	}
}
