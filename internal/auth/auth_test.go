package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHeaderResolver(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := (HeaderResolver{}).Resolve(r); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err=%v want ErrNoCredentials", err)
	}
	id, err := HeaderResolver{Fallback: "mockUser123"}.Resolve(r)
	if err != nil || id != "mockUser123" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	r.Header.Set(PlayerHeader, " alice ")
	id, _ = HeaderResolver{Fallback: "mockUser123"}.Resolve(r)
	if id != "alice" {
		t.Fatalf("id=%q want alice", id)
	}
}

func TestJWTResolver(t *testing.T) {
	j := NewJWTResolver("test-secret")
	token, err := j.Issue("player-42", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	id, err := j.Resolve(r)
	if err != nil || id != "player-42" {
		t.Fatalf("id=%q err=%v", id, err)
	}

	other := NewJWTResolver("other-secret")
	if _, err := other.Resolve(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v want ErrInvalidToken", err)
	}

	expired, _ := j.Issue("player-42", -time.Minute)
	r.Header.Set("Authorization", "Bearer "+expired)
	if _, err := j.Resolve(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err=%v want ErrInvalidToken", err)
	}
}

func TestChainFallsThrough(t *testing.T) {
	j := NewJWTResolver("test-secret")
	chain := Chain{j, HeaderResolver{Fallback: "dev"}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := chain.Resolve(r)
	if err != nil || id != "dev" {
		t.Fatalf("id=%q err=%v", id, err)
	}

	r.Header.Set("Authorization", "Bearer garbage")
	if _, err := chain.Resolve(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("a bad token must not fall through, err=%v", err)
	}
}

func TestSupabaseResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" || r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"sb-user","email":"a@b.c"}`))
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL+"/", "anon")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer good")
	id, err := c.Resolve(r)
	if err != nil || id != "sb-user" {
		t.Fatalf("id=%q err=%v", id, err)
	}

	r.Header.Set("Authorization", "Bearer bad")
	if _, err := c.Resolve(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v want ErrInvalidToken", err)
	}
}

func TestNewResolverRejectsHeaderWhenTokensConfigured(t *testing.T) {
	res := NewResolver(Options{JWTSecret: "test-secret", DevPlayerID: "mockUser123"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(PlayerHeader, "victim")
	if id, err := res.Resolve(r); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("header-only request resolved to %q err=%v", id, err)
	}
	if id, err := res.Resolve(httptest.NewRequest(http.MethodGet, "/", nil)); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("bare request resolved to %q err=%v", id, err)
	}

	token, err := NewJWTResolver("test-secret").Issue("player-7", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	if id, err := res.Resolve(r); err != nil || id != "player-7" {
		t.Fatalf("id=%q err=%v", id, err)
	}
}

func TestNewResolverModes(t *testing.T) {
	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	withHeader := httptest.NewRequest(http.MethodGet, "/", nil)
	withHeader.Header.Set(PlayerHeader, "ann")

	headerOnly := NewResolver(Options{})
	if id, err := headerOnly.Resolve(withHeader); err != nil || id != "ann" {
		t.Fatalf("header mode id=%q err=%v", id, err)
	}
	if _, err := headerOnly.Resolve(bare); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("header mode without dev player err=%v", err)
	}

	trusted := NewResolver(Options{JWTSecret: "test-secret", TrustHeader: true, DevPlayerID: "dev"})
	if id, err := trusted.Resolve(withHeader); err != nil || id != "ann" {
		t.Fatalf("trusted header id=%q err=%v", id, err)
	}
	if id, err := trusted.Resolve(bare); err != nil || id != "dev" {
		t.Fatalf("trusted dev fallback id=%q err=%v", id, err)
	}
}
