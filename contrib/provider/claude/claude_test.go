package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteJoinsTextBlocks(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected /v1/messages, got %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[{"type":"text","text":"[\"Dune\","},{"type":"text","text":"\"Frank Herbert\"]"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`)
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "k", BaseURL: srv.URL, System: "json only"})
	out, err := p.Complete(context.Background(), "terms?")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `["Dune","Frank Herbert"]` {
		t.Errorf("Expected joined text, got %q", out)
	}
	if body["max_tokens"] != float64(1024) {
		t.Errorf("Expected default max_tokens 1024, got %v", body["max_tokens"])
	}
}
