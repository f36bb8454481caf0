package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

func TestCall_Basic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/items" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(nil)
	resp, err := c.Call(context.Background(), map[string]any{"base_url": srv.URL}, adapter.Request{
		Method: http.MethodGet,
		Path:   "/v1/items",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("body = %s", resp.Body)
	}
	if resp.Headers["X-Test"] != "yes" {
		t.Errorf("headers = %v", resp.Headers)
	}
}

func TestCall_BearerAuthFromEnv(t *testing.T) {
	t.Setenv("API_TOKEN", "sekret")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := NewClient(nil)
	_, err := c.Call(context.Background(), map[string]any{
		"base_url": srv.URL,
		"auth_env": "API_TOKEN",
	}, adapter.Request{Path: "/"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotAuth != "Bearer sekret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestCall_MissingAuthEnv(t *testing.T) {
	c := NewClient(nil)
	_, err := c.Call(context.Background(), map[string]any{
		"base_url": "http://localhost:1",
		"auth_env": "DEFINITELY_NOT_SET_VAR",
	}, adapter.Request{Path: "/"})
	if !errors.Is(err, adapter.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestCall_TransportErrorIsUnavailable(t *testing.T) {
	c := NewClient(nil)
	_, err := c.Call(context.Background(), map[string]any{
		"base_url": "http://127.0.0.1:1",
	}, adapter.Request{Path: "/"})
	if !errors.Is(err, adapter.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCall_BodyForwarded(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c := NewClient(nil)
	_, err := c.Call(context.Background(), map[string]any{"base_url": srv.URL}, adapter.Request{
		Method:  http.MethodPost,
		Path:    "/submit",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"x":1}`),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(gotBody) != `{"x":1}` {
		t.Errorf("body = %s", gotBody)
	}
}
