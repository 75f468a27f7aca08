package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReadURLExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Hello World</h1><p>This is a test.</p></body></html>`))
	}))
	defer server.Close()

	r := NewReadURL(5 * time.Second)
	result, err := r.Execute(context.Background(), args(t, map[string]string{"url": server.URL}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "# Hello World") {
		t.Errorf("expected markdown heading, got %q", result)
	}
	if !strings.Contains(result, "This is a test") {
		t.Errorf("expected paragraph, got %q", result)
	}
}

func TestReadURLPlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("<b>not html</b>"))
	}))
	defer server.Close()

	result, err := NewReadURL(time.Second).Execute(context.Background(), args(t, map[string]string{"url": server.URL}))
	if err != nil {
		t.Fatal(err)
	}
	if result != "<b>not html</b>" {
		t.Errorf("plain text should pass through, got %q", result)
	}
}

func TestReadURLRejects(t *testing.T) {
	r := NewReadURL(time.Second)
	for _, u := range []string{"", "file:///etc/passwd", "ftp://example.com"} {
		if _, err := r.Execute(context.Background(), args(t, map[string]string{"url": u})); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestReadURLTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewReadURL(50*time.Millisecond).Execute(context.Background(), args(t, map[string]string{"url": server.URL}))
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestReadURLTruncation(t *testing.T) {
	long := strings.Repeat("x", 60000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	}))
	defer server.Close()

	result, err := NewReadURL(time.Second).Execute(context.Background(), args(t, map[string]string{"url": server.URL}))
	if err != nil {
		t.Fatal(err)
	}
	if len(result) > maxReadURLChars+100 {
		t.Errorf("expected truncation, got length %d", len(result))
	}
}

func TestWebSearchExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "test-key" {
			t.Error("missing API key header")
		}
		if r.URL.Query().Get("q") != "golang testing" {
			t.Errorf("unexpected query: %s", r.URL.Query().Get("q"))
		}
		if r.URL.Query().Get("count") != "2" {
			t.Errorf("unexpected count: %s", r.URL.Query().Get("count"))
		}
		var resp braveResponse
		resp.Web.Results = []braveResult{
			{Title: "Go Testing", URL: "https://go.dev/testing", Description: "How to test in Go"},
			{Title: "Go Docs", URL: "https://go.dev/doc", Description: "Go documentation"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	b := NewWebSearch("test-key", time.Second)
	b.baseURL = server.URL

	result, err := b.Execute(context.Background(), args(t, map[string]any{"query": "golang testing", "count": 2}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "1. Go Testing") || !strings.Contains(result, "https://go.dev/doc") {
		t.Errorf("unexpected result %q", result)
	}
}

func TestWebSearchNoResultsAndErrors(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	b := NewWebSearch("k", time.Second)
	b.baseURL = server.URL

	result, err := b.Execute(context.Background(), args(t, map[string]string{"query": "xyz"}))
	if err != nil || !strings.Contains(result, "No results") {
		t.Errorf("got %q, %v", result, err)
	}

	status = http.StatusTooManyRequests
	if _, err := b.Execute(context.Background(), args(t, map[string]string{"query": "xyz"})); err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got %v", err)
	}
	if _, err := b.Execute(context.Background(), args(t, map[string]string{})); err == nil {
		t.Error("expected error for missing query")
	}
}
