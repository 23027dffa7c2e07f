package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(ts *httptest.Server) *Client {
	return &Client{
		baseURL:    ts.URL,
		httpClient: ts.Client(),
	}
}

func TestClient_Get_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q, want application/json", r.Header.Get("Accept"))
		}
		w.Write([]byte(`[{"name":"writer"}]`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get(context.Background(), "/agents")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != `[{"name":"writer"}]` {
		t.Errorf("body = %q", string(body))
	}
}

func TestClient_Get_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"database locked"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(context.Background(), "/agents")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Get should return *TransportError for 500, got %v", err)
	}
	if te.Kind != KindStatus || te.StatusCode != 500 {
		t.Errorf("kind=%s status=%d, want status/500", te.Kind, te.StatusCode)
	}
	if !strings.Contains(err.Error(), "database locked") {
		t.Errorf("error should carry the body: %v", err)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(url, time.Second)
	_, err := c.Get(context.Background(), "/health")
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindConnection {
		t.Fatalf("Get to closed server = %v, want connection error", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 20*time.Millisecond)
	_, err := c.Get(context.Background(), "/agents")
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindTimeout {
		t.Fatalf("slow Get = %v, want timeout error", err)
	}
}

func TestClient_Post(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"name":"writer"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, status, err := c.Post(context.Background(), "/agents", map[string]string{"name": "writer"})
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	if status != 201 {
		t.Errorf("status = %d, want 201", status)
	}
	if string(body) != `{"name":"writer"}` {
		t.Errorf("body = %q", string(body))
	}
}

func TestClient_Post_Conflict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"exists"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, status, err := c.Post(context.Background(), "/agents", map[string]string{"name": "writer"})
	if err == nil {
		t.Fatal("Post should return error for 409")
	}
	if status != 409 || string(body) != `{"detail":"exists"}` {
		t.Errorf("status=%d body=%q, want 409 with body", status, string(body))
	}
}

func TestClient_Delete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if err := c.Delete(context.Background(), "/agents/writer"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestClient_Delete_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	err := c.Delete(context.Background(), "/agents/ghost")
	if err == nil {
		t.Fatal("Delete(404) should return an error")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
}

func TestClient_TrimsBaseURL(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", time.Second)
	if c.BaseURL() != ts.URL {
		t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), ts.URL)
	}
	if _, err := c.Get(context.Background(), "/health"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/health" {
		t.Errorf("path = %q, want /health", gotPath)
	}
}

func TestEscapeID(t *testing.T) {
	tests := map[string]string{
		"writer":       "writer",
		"team a":       "team%20a",
		"a/b":          "a%2Fb",
		"42":           "42",
		"résumé-agent": "r%C3%A9sum%C3%A9-agent",
	}
	for in, want := range tests {
		if got := EscapeID(in); got != want {
			t.Errorf("EscapeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if IsNotFound(errors.New("plain")) {
		t.Error("plain error is not a 404")
	}
	if IsNotFound(&TransportError{Kind: KindStatus, StatusCode: 500}) {
		t.Error("500 is not a 404")
	}
	if !IsNotFound(&TransportError{Kind: KindStatus, StatusCode: 404}) {
		t.Error("404 should be reported")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		expect string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"empty", "", 5, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.input, tc.maxLen)
			if got != tc.expect {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expect)
			}
		})
	}
}
