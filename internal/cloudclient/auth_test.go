package cloudclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/devicecache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/tokencache"
)

func newTestClient(t *testing.T, server *httptest.Server) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	tc, err := tokencache.New(filepath.Join(dir, "tokens"), tokencache.DefaultSafetyMargin)
	if err != nil {
		t.Fatalf("tokencache.New() error: %v", err)
	}
	dc, err := devicecache.New(filepath.Join(dir, "devices"), devicecache.DefaultTTL)
	if err != nil {
		t.Fatalf("devicecache.New() error: %v", err)
	}

	cfg := Config{AuthBaseURL: server.URL, ClientSecret: "s3cr3t"}
	acct := Account{Email: "user@example.com", Password: "hunter2", Enabled: true}
	c := New(cfg, acct, tc, dc, nil)
	return c, dir
}

func issueJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	enc := base64.RawURLEncoding.EncodeToString
	header := enc([]byte(`{"alg":"none","typ":"JWT"}`))
	claims := enc([]byte(`{"exp":` + strconv.FormatInt(exp.Unix(), 10) + `}`))
	return header + "." + claims + "."
}

func TestAuthenticateThreeStagesOverHTTP(t *testing.T) {
	jwt := issueJWT(t, time.Now().Add(72*time.Hour))
	calls := map[string]int{}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/anonymous", func(w http.ResponseWriter, r *http.Request) {
		calls["anonymous"]++
		json.NewEncoder(w).Encode(authResponse{Token: "anon-token"})
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		calls["login"]++
		json.NewEncoder(w).Encode(authResponse{Token: "login-token"})
	})
	mux.HandleFunc("/auth/mqtt", func(w http.ResponseWriter, r *http.Request) {
		calls["mqtt"]++
		json.NewEncoder(w).Encode(authResponse{Token: jwt})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, _ := newTestClient(t, server)
	if err := c.authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate() error: %v", err)
	}
	if c.tok.anonymous != "anon-token" || c.tok.login != "login-token" || c.tok.mqtt != jwt {
		t.Fatalf("tokens not populated: %+v", c.tok)
	}
	if calls["anonymous"] != 1 || calls["login"] != 1 || calls["mqtt"] != 1 {
		t.Fatalf("unexpected call counts: %+v", calls)
	}

	// A second client for the same account and cache dir should hit
	// the cache for all three stages and make zero network calls.
	c2 := New(c.cfg, c.account, c.tokenCache, c.deviceCache, nil)
	if err := c2.authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate() (cached) error: %v", err)
	}
	if calls["anonymous"] != 1 || calls["login"] != 1 || calls["mqtt"] != 1 {
		t.Fatalf("expected no additional network calls on cache hit, got: %+v", calls)
	}
}

func TestAuthFailureOpensCircuitAfterThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server)
	for i := 0; i < 5; i++ {
		_ = c.authenticate(context.Background())
	}
	if !c.breaker.IsOpen() {
		t.Fatal("breaker.IsOpen() = false after 5 consecutive auth failures, want true")
	}
}

func TestDeviceDiscoveryPaginatesAndCaches(t *testing.T) {
	page := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/device/list", func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			json.NewEncoder(w).Encode(deviceListResponse{
				Devices: []deviceEntry{{ID: "AABBCCDDEEFF", Name: "one"}},
				HasMore: true, Cursor: "next",
			})
			return
		}
		json.NewEncoder(w).Encode(deviceListResponse{
			Devices: []deviceEntry{{ID: "112233445566", Name: "two"}},
			HasMore: false,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, _ := newTestClient(t, server)
	c.tok.login = "login-token"
	devices, err := c.discoverDevices(context.Background())
	if err != nil {
		t.Fatalf("discoverDevices() error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}
	if page != 2 {
		t.Fatalf("page = %d, want 2 (paginated)", page)
	}

	// Second discovery call should hit the device cache, not the server.
	devices2, err := c.discoverDevices(context.Background())
	if err != nil {
		t.Fatalf("discoverDevices() (cached) error: %v", err)
	}
	if len(devices2) != 2 || page != 2 {
		t.Fatalf("expected cache hit, got devices=%d page=%d", len(devices2), page)
	}
}
