package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestEnsureUser_AlreadyExists(t *testing.T) {
	var created bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Api-Key key" {
			t.Fatalf("auth header=%q", got)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/ada":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/users":
			created = true
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	if err := c.EnsureUser(context.Background(), "ada"); err != nil {
		t.Fatalf("err=%v", err)
	}
	if created {
		t.Fatal("existing user should not be recreated")
	}
}

func TestEnsureUser_CreatesMissing(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/ada":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/users":
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	if err := c.EnsureUser(context.Background(), "ada"); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := body["user_id"]; got != "ada" {
		t.Fatalf("user_id=%v", got)
	}
}

func TestEnsureUser_ConcurrentCreate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	if err := c.EnsureUser(context.Background(), "ada"); err != nil {
		t.Fatalf("conflict on create should not be an error, got %v", err)
	}
}

func TestAddSessionMessages_Batches(t *testing.T) {
	var mu sync.Mutex
	var batches []int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/s_1/memory" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		var payload struct {
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		mu.Lock()
		batches = append(batches, len(payload.Messages))
		mu.Unlock()
	}))
	defer ts.Close()

	msgs := make([]Message, 70)
	for i := range msgs {
		msgs[i] = Message{RoleType: "user", Content: "hi"}
	}

	c := NewClient("key", ts.URL, ts.Client())
	if err := c.AddSessionMessages(context.Background(), "s_1", msgs); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(batches) != 3 || batches[0] != 30 || batches[1] != 30 || batches[2] != 10 {
		t.Fatalf("batches=%v", batches)
	}
}

func TestAddSessionMessages_Empty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty transcript")
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	if err := c.AddSessionMessages(context.Background(), "s_1", nil); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestSearchEdges(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graph/search" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload["scope"] != "edges" {
			t.Fatalf("scope=%v", payload["scope"])
		}
		if payload["limit"] != float64(5) {
			t.Fatalf("limit=%v", payload["limit"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"edges":[{"fact":"Ada likes tea","created_at":"2025-01-02T03:04:05Z"}]}`))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	edges, err := c.SearchEdges(context.Background(), "ada", "tea", 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(edges) != 1 || edges[0].Fact != "Ada likes tea" {
		t.Fatalf("edges=%+v", edges)
	}
}

func TestSearchEdges_UnknownUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	edges, err := c.SearchEdges(context.Background(), "ghost", "anything", 5)
	if err != nil {
		t.Fatalf("unknown user should not be an error, got %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("edges=%+v", edges)
	}
}

func TestSearchEdges_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	if _, err := c.SearchEdges(context.Background(), "ada", "tea", 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientNotConfigured(t *testing.T) {
	c := NewClient("", "", nil)
	if c.Configured() {
		t.Fatal("blank key should not be configured")
	}
	if err := c.EnsureUser(context.Background(), "ada"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.SearchEdges(context.Background(), "ada", "tea", 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestFactLines(t *testing.T) {
	lines := FactLines([]Edge{
		{Fact: "Ada likes tea"},
		{Fact: "   "},
		{Fact: "Ada lives in Berlin"},
	})
	if len(lines) != 2 {
		t.Fatalf("lines=%v", lines)
	}
	if lines[0] != "Relevant past information: Ada likes tea" {
		t.Fatalf("lines[0]=%q", lines[0])
	}
}
