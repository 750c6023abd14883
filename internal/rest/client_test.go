package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseBaseURL_DefaultsAndNormalizes(t *testing.T) {
	if _, err := parseBaseURL(""); err == nil {
		t.Fatalf("parseBaseURL(\"\") returned nil error, want error")
	}

	u, err := parseBaseURL("abc.example.co")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Scheme != "https" || u.Host != "abc.example.co" {
		t.Fatalf("url = %q, want https://abc.example.co", u.String())
	}

	u, err = parseBaseURL("http://example.com:1234/supabase/?x=1#frag")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Path != "/supabase" || u.RawQuery != "" || u.Fragment != "" {
		t.Fatalf("url not normalized: %q", u.String())
	}

	u, err = parseBaseURL("wss://abc.example.co")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Scheme != "https" {
		t.Fatalf("scheme = %q, want https", u.Scheme)
	}
}

func TestClient_FetchRowsKeepsBasePath(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL+"/supabase/", "anon")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.FetchRows(context.Background(), Query{Table: "jobs"}); err != nil {
		t.Fatalf("FetchRows returned error: %v", err)
	}
	if gotPath != "/supabase/rest/v1/jobs" {
		t.Fatalf("path = %q, want /supabase/rest/v1/jobs", gotPath)
	}
}

func TestClient_FetchRowsEncodesQuery(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotQuery url.Values
	var gotAPIKey, gotAuth, gotUserAgent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "title": "Plumber"}, {"id": 2, "title": "Painter"}})
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, "anon")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	rows, err := c.FetchRows(ctx, Query{
		Table:   "jobs",
		Select:  "id,title",
		Order:   "created_at.desc",
		Limit:   25,
		Filters: map[string]string{"status": "eq.open", "empty": "  "},
	})
	if err != nil {
		t.Fatalf("FetchRows returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("FetchRows rows = %d, want 2", len(rows))
	}
	if gotPath != "/rest/v1/jobs" {
		t.Fatalf("path = %q, want /rest/v1/jobs", gotPath)
	}
	if gotQuery.Get("select") != "id,title" ||
		gotQuery.Get("order") != "created_at.desc" ||
		gotQuery.Get("limit") != "25" ||
		gotQuery.Get("status") != "eq.open" ||
		gotQuery.Has("empty") {
		t.Fatalf("query = %v, want params encoded", gotQuery)
	}
	if gotAPIKey != "anon" || gotAuth != "Bearer anon" {
		t.Fatalf("auth headers = %q / %q, want anon key", gotAPIKey, gotAuth)
	}
	if !strings.HasPrefix(gotUserAgent, "feedwatch/") {
		t.Fatalf("User-Agent = %q, want feedwatch/*", gotUserAgent)
	}
}

func TestClient_FetchRowsDefaultsSelect(t *testing.T) {
	t.Parallel()

	var gotSelect string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSelect = r.URL.Query().Get("select")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	rows, err := c.FetchRows(context.Background(), Query{Table: "applications"})
	if err != nil {
		t.Fatalf("FetchRows returned error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
	if gotSelect != "*" {
		t.Fatalf("select = %q, want *", gotSelect)
	}
}

func TestClient_FetchRowsRequiresTable(t *testing.T) {
	c, err := NewClient("127.0.0.1:1", "")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.FetchRows(context.Background(), Query{}); err == nil {
		t.Fatalf("FetchRows returned nil error, want error")
	}
}

func TestClient_HTTPErrorAndDecodeError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/jobs":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{not-json"))
		case "/rest/v1/applications":
			http.Error(w, `{"message":"permission denied"}`, http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, "anon")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = c.FetchRows(context.Background(), Query{Table: "jobs"})
	if err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("FetchRows(jobs) error = %v, want decode response error", err)
	}

	_, err = c.FetchRows(context.Background(), Query{Table: "applications"})
	if err == nil || !strings.Contains(err.Error(), "returned status 401") || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("FetchRows(applications) error = %v, want status 401 with body", err)
	}
}
