package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSigningKey = []byte("test-delegation-signing-key-32bytes!")

// ---------------------------------------------------------------------------
// LocalIssuer
// ---------------------------------------------------------------------------

func TestLocalIssuer_MintAndVerify(t *testing.T) {
	iss, err := NewLocalIssuer(testSigningKey, "eqmd-bot", "bot-client", "eqmd-directory")
	if err != nil {
		t.Fatalf("NewLocalIssuer: %v", err)
	}
	iss.now = func() time.Time { return testNow }

	tok, err := iss.Mint(context.Background(), MintRequest{
		Scopes:   NewCapabilitySet(PatientSearch, PatientRead),
		Lifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if tok.ID == "" {
		t.Error("expected a token id")
	}
	if tok.Audience != "eqmd-directory" {
		t.Errorf("expected audience eqmd-directory, got %q", tok.Audience)
	}

	parsed, err := iss.Verify(tok.Bearer(), testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if parsed.ID != tok.ID || parsed.Scopes != tok.Scopes {
		t.Errorf("round trip mismatch: %+v vs %+v", parsed, tok)
	}

	if _, err := iss.Verify(tok.Bearer(), testNow.Add(5*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired at expiry, got %v", err)
	}
}

func TestLocalIssuer_RejectsShortKey(t *testing.T) {
	if _, err := NewLocalIssuer([]byte("short"), "a", "b", "c"); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestLocalIssuer_VerifyWrongKey(t *testing.T) {
	iss, _ := NewLocalIssuer(testSigningKey, "eqmd-bot", "bot-client", "eqmd-directory")
	other, _ := NewLocalIssuer([]byte("another-signing-key-of-32-bytes!!!"), "eqmd-bot", "bot-client", "eqmd-directory")

	tok, err := iss.Mint(context.Background(), MintRequest{Scopes: NewCapabilitySet(PatientSearch), Lifetime: time.Minute})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := other.Verify(tok.Bearer(), time.Now()); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

// ---------------------------------------------------------------------------
// ClientCredentialsIssuer
// ---------------------------------------------------------------------------

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func newIdPServer(t *testing.T, key *rsa.PrivateKey, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *ClientCredentialsIssuer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	iss, err := NewClientCredentialsIssuer(ClientCredentialsConfig{
		TokenURL:   srv.URL + "/o/token/",
		ClientID:   "eqmd-bot",
		KeyID:      "bot-key-1",
		PrivateKey: key,
	})
	if err != nil {
		t.Fatalf("NewClientCredentialsIssuer: %v", err)
	}
	return srv, iss
}

func TestClientCredentialsIssuer_Success(t *testing.T) {
	key := generateTestKey(t)
	var gotAssertion, gotScope, gotGrant string

	_, iss := newIdPServer(t, key, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotGrant = r.PostForm.Get("grant_type")
		gotScope = r.PostForm.Get("scope")
		gotAssertion = r.PostForm.Get("client_assertion")

		access, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &DelegatedClaims{
			Scope: "patient:search",
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "idp-jti-1",
				Issuer:    "https://idp.example",
				Audience:  jwt.ClaimStrings{"eqmd-directory"},
				IssuedAt:  jwt.NewNumericDate(testNow),
				ExpiresAt: jwt.NewNumericDate(testNow.Add(10 * time.Minute)),
			},
		}).SignedString([]byte("idp-secret"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   600,
			"scope":        "patient:search",
		})
	})

	tok, err := iss.Mint(context.Background(), MintRequest{Scopes: NewCapabilitySet(PatientSearch), Lifetime: 5 * time.Minute})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if gotGrant != "client_credentials" {
		t.Errorf("expected client_credentials grant, got %q", gotGrant)
	}
	if gotScope != "patient:search" {
		t.Errorf("expected scope patient:search, got %q", gotScope)
	}
	if tok.ID != "idp-jti-1" {
		t.Errorf("expected id from jti, got %q", tok.ID)
	}
	if !tok.ExpiresAt.Equal(testNow.Add(10 * time.Minute)) {
		t.Errorf("unexpected expiry %s", tok.ExpiresAt)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(gotAssertion, claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS384"}))
	if err != nil {
		t.Fatalf("client assertion did not verify: %v", err)
	}
	if claims.Issuer != "eqmd-bot" || claims.Subject != "eqmd-bot" {
		t.Errorf("assertion iss/sub must be the client id, got %q/%q", claims.Issuer, claims.Subject)
	}
	if parsed.Header["kid"] != "bot-key-1" {
		t.Errorf("expected kid header, got %v", parsed.Header["kid"])
	}
}

func TestClientCredentialsIssuer_OpaqueToken(t *testing.T) {
	_, iss := newIdPServer(t, generateTestKey(t), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"opaque-abc","token_type":"Bearer","expires_in":300}`))
	})
	iss.now = func() time.Time { return testNow }

	tok, err := iss.Mint(context.Background(), MintRequest{Scopes: NewCapabilitySet(PatientRead), Lifetime: 5 * time.Minute})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if tok.Bearer() != "opaque-abc" {
		t.Errorf("unexpected bearer")
	}
	if !tok.Scopes.Has(PatientRead) {
		t.Errorf("expected requested scope to carry over, got %s", tok.Scopes)
	}
	if !tok.ExpiresAt.Equal(testNow.Add(300 * time.Second)) {
		t.Errorf("unexpected expiry %s", tok.ExpiresAt)
	}
}

func TestClientCredentialsIssuer_InvalidScope(t *testing.T) {
	_, iss := newIdPServer(t, generateTestKey(t), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_scope","error_description":"patient:read not allowed"}`))
	})

	_, err := iss.Mint(context.Background(), MintRequest{Scopes: NewCapabilitySet(PatientRead), Lifetime: time.Minute})
	if !errors.Is(err, ErrScopeViolation) {
		t.Fatalf("expected ErrScopeViolation, got %v", err)
	}
}

func TestClientCredentialsIssuer_ServerErrorIsUnavailable(t *testing.T) {
	_, iss := newIdPServer(t, generateTestKey(t), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := iss.Mint(context.Background(), MintRequest{Scopes: NewCapabilitySet(PatientSearch), Lifetime: time.Minute})
	if !errors.Is(err, ErrIssuerUnavailable) {
		t.Fatalf("expected ErrIssuerUnavailable, got %v", err)
	}
}

func TestClientCredentialsIssuer_UnreachableIsUnavailable(t *testing.T) {
	srv, iss := newIdPServer(t, generateTestKey(t), func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := iss.Mint(context.Background(), MintRequest{Scopes: NewCapabilitySet(PatientSearch), Lifetime: time.Minute})
	if !errors.Is(err, ErrIssuerUnavailable) {
		t.Fatalf("expected ErrIssuerUnavailable, got %v", err)
	}
}

func TestClientCredentialsIssuer_UnknownGrantedScope(t *testing.T) {
	_, iss := newIdPServer(t, generateTestKey(t), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"opaque","expires_in":60,"scope":"patient:search admin:all"}`))
	})

	_, err := iss.Mint(context.Background(), MintRequest{Scopes: NewCapabilitySet(PatientSearch), Lifetime: time.Minute})
	if !errors.Is(err, ErrScopeViolation) {
		t.Fatalf("expected ErrScopeViolation, got %v", err)
	}
}
