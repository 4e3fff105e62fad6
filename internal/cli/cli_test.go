package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsTokenAndIdempotencyKey(t *testing.T) {
	var gotAuth, gotIdem, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", " tok ")
	out, err := c.GrantCoins(context.Background(), "ana", "purchase", "25", "top up", "k-1")
	if err != nil {
		t.Fatalf("grant coins: %v", err)
	}
	if gotAuth != "Bearer tok" || gotIdem != "k-1" || gotPath != "/v1/admin/users/ana/coins" {
		t.Fatalf("unexpected request: auth=%q idem=%q path=%q", gotAuth, gotIdem, gotPath)
	}
	if gotBody["amount"] != "25" || gotBody["type"] != "purchase" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
	if out["id"] != float64(7) {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"contest 3 is upcoming, expected active: invalid contest state"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok").EndContest(context.Background(), 3)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "contest 3 is upcoming, expected active: invalid contest state" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prev := HomeDir
	HomeDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { HomeDir = prev })

	if _, err := LoadCredentials(); err == nil {
		t.Fatalf("expected error without credentials")
	}
	if err := SaveCredentials(Credentials{APIBaseURL: "http://arena:8080", AdminToken: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadCredentials()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.APIBaseURL != "http://arena:8080" || got.AdminToken != "tok" {
		t.Fatalf("unexpected credentials: %+v", got)
	}
	if err := ClearCredentials(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadCredentials(); err == nil {
		t.Fatalf("expected error after clear")
	}
}
