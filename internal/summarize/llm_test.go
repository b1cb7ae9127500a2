package summarize

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLLM_ParsesBullets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		resp := chatResponse{Choices: []chatChoice{{Message: chatMessage{
			Content: "- Template approved by vote\n- Draft circulates Friday\nignored line",
		}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	l := NewLLM("test-key", "gpt-4o-mini", 200, &HeuristicSummarizer{})
	l.endpoint = srv.URL

	s := l.Summarize("The template was approved. See https://example.org/t")

	want := []string{"Template approved by vote", "Draft circulates Friday"}
	if len(s.Bullets) != len(want) {
		t.Fatalf("bullets = %v, want %v", s.Bullets, want)
	}
	for i := range want {
		if s.Bullets[i] != want[i] {
			t.Errorf("bullet %d = %q, want %q", i, s.Bullets[i], want[i])
		}
	}
	if len(s.Links) != 1 || s.Links[0] != "https://example.org/t" {
		t.Errorf("links = %v, want the extracted URL", s.Links)
	}
}

func TestLLM_FallsBackOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	l := NewLLM("test-key", "gpt-4o-mini", 200, &HeuristicSummarizer{})
	l.endpoint = srv.URL

	s := l.Summarize("The motion was approved. Further text follows.")

	if len(s.Bullets) == 0 {
		t.Fatal("fallback should still produce bullets")
	}
	if !strings.Contains(s.Bullets[0], "The motion was approved.") {
		t.Errorf("fallback bullet = %q", s.Bullets[0])
	}
}

func TestLLM_FallsBackOnEmptyBullets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := chatResponse{Choices: []chatChoice{{Message: chatMessage{Content: "no bullet format here"}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	l := NewLLM("test-key", "gpt-4o-mini", 200, &HeuristicSummarizer{})
	l.endpoint = srv.URL

	s := l.Summarize("Some meeting text.")
	if len(s.Bullets) == 0 {
		t.Error("unusable LLM output should fall back, not return nothing")
	}
}

func TestParseBullets(t *testing.T) {
	got := parseBullets("- one\n-two\n  - three\nplain\n")
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bullet %d = %q, want %q", i, got[i], want[i])
		}
	}
}
