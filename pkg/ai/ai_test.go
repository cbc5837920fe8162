package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateBreakdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var in struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode prompt: %v", err)
		}
		if in.Prompt != "water plants" {
			t.Errorf("prompt = %q", in.Prompt)
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "1. get can\n2. water"})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL)
	got, err := g.GenerateBreakdown(context.Background(), "water plants")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "1. get can\n2. water" {
		t.Errorf("result = %q", got)
	}
}

func TestGenerateBreakdownNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL)
	if _, err := g.GenerateBreakdown(context.Background(), "x"); err == nil {
		t.Fatal("502 did not error")
	}
}

func TestGenerateBreakdownUnreachable(t *testing.T) {
	g := NewHTTPGenerator("http://127.0.0.1:1/generate")
	if _, err := g.GenerateBreakdown(context.Background(), "x"); err == nil {
		t.Fatal("unreachable endpoint did not error")
	}
}
