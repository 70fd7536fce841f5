package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bch-mcp-server/config"
	"bch-mcp-server/mcp"
)

func testApp(t *testing.T, opts ...func(*config.Config)) *app {
	t.Helper()
	cfg := config.Default()
	cfg.ElectrumURL = ""
	cfg.RateLimitRPS = 0
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := build(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		a.sessions.CloseAll()
		a.store.Close()
	})
	return a
}

func TestHandlerRoutes(t *testing.T) {
	srv := httptest.NewServer(testApp(t).handler())
	defer srv.Close()

	for _, path := range []string{"/health", "/metrics", "/openapi.json", "/mcp/tools", "/.well-known/mcp.json", "/docs/overview"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestAuditEndpointAccess(t *testing.T) {
	get := func(t *testing.T, url, auth string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("unmounted without token", func(t *testing.T) {
		srv := httptest.NewServer(testApp(t).handler())
		defer srv.Close()
		if got := get(t, srv.URL+"/audit", ""); got != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", got)
		}
	})

	t.Run("bearer required", func(t *testing.T) {
		srv := httptest.NewServer(testApp(t, func(c *config.Config) { c.AuditToken = "audit-secret" }).handler())
		defer srv.Close()
		if got := get(t, srv.URL+"/audit", ""); got != http.StatusUnauthorized {
			t.Fatalf("anonymous status = %d, want 401", got)
		}
		if got := get(t, srv.URL+"/audit", "Bearer wrong"); got != http.StatusUnauthorized {
			t.Fatalf("wrong token status = %d, want 401", got)
		}
		if got := get(t, srv.URL+"/audit", "Bearer audit-secret"); got != http.StatusOK {
			t.Fatalf("authorized status = %d, want 200", got)
		}
	})
}

func TestToolCallIsAudited(t *testing.T) {
	a := testApp(t)
	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"validate_address","arguments":{"address":"not-an-address"}}}`
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(mcp.SessionHeader) == "" {
		t.Fatal("no session header on handshake")
	}

	entries, err := a.store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var sawCall bool
	for _, e := range entries {
		if e.Tool == "validate_address" {
			sawCall = true
			if e.Session == "" || e.Session == resp.Header.Get(mcp.SessionHeader) {
				t.Fatalf("audit session = %q, want a digest", e.Session)
			}
		}
	}
	if !sawCall {
		t.Fatalf("tool call not audited: %+v", entries)
	}
}

func TestToolsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var tools []map[string]any
	if err := json.Unmarshal(out.Bytes(), &tools); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tools) == 0 {
		t.Fatal("empty catalogue")
	}
	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool["name"].(string)] = true
	}
	for _, want := range []string{"create_wallet", "get_balance", "escrow_create", "get_session_info"} {
		if !names[want] {
			t.Fatalf("catalogue missing %s", want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("output = %q", out.String())
	}
}
