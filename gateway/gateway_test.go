package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
)

func sseServer(t *testing.T, status int, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collectAll(t *testing.T, g *Gateway, req *Request) ([]*Delta, error) {
	t.Helper()
	var out []*Delta
	for d, err := range g.OpenStream(context.Background(), req) {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func userTurn(text string) []*message.Message {
	return []*message.Message{message.NewMessage(message.RoleUser, text)}
}

func TestOpenRouterStreamNormalizesDeltas(t *testing.T) {
	body := strings.Join([]string{
		": OPENROUTER PROCESSING",
		"",
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		"",
		`data: {"choices":[{"delta":{"reasoning":"thinking..."}}]}`,
		"",
		`data: {not json`,
		"",
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":", world"}}]}`,
		"",
		"data: [DONE]",
		"",
		`data: {"choices":[{"delta":{"content":"after done"}}]}`,
		"",
	}, "\n")

	var gotAuth, gotTitle string
	var gotBody map[string]any
	srv := sseServer(t, http.StatusOK, body, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	})

	g := New(WithLogger(logging.Discard()), WithBackend(NewOpenRouter("key",
		WithOpenRouterBaseURL(srv.URL), WithOpenRouterLogger(logging.Discard()))))

	deltas, err := collectAll(t, g, &Request{Model: "deepseek/deepseek-r1-0528:free", Messages: userTurn("hi"), System: "be brief"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if gotAuth != "Bearer key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotTitle != "Shard" {
		t.Errorf("Expected X-Title Shard, got %q", gotTitle)
	}
	if gotBody["stream"] != true || gotBody["include_reasoning"] != true {
		t.Errorf("Expected stream and include_reasoning, got %v", gotBody)
	}

	if len(deltas) != 4 {
		t.Fatalf("Expected 4 deltas, got %d: %+v", len(deltas), deltas)
	}
	if deltas[0].Reasoning != "thinking..." || deltas[1].Text != "Hello" || deltas[2].Text != ", world" {
		t.Errorf("Unexpected delta order: %+v %+v %+v", deltas[0], deltas[1], deltas[2])
	}
	finals := 0
	for _, d := range deltas {
		if d.Final {
			finals++
		}
	}
	if finals != 1 || !deltas[3].Final {
		t.Errorf("Expected exactly one final delta at the end, got %d", finals)
	}
}

func TestStreamOnlyMalformedIsUpstreamError(t *testing.T) {
	srv := sseServer(t, http.StatusOK, "data: {oops\n\ndata: nope\n\n", nil)
	g := New(WithLogger(logging.Discard()), WithBackend(NewOpenRouter("k",
		WithOpenRouterBaseURL(srv.URL), WithOpenRouterLogger(logging.Discard()))))

	_, err := collectAll(t, g, &Request{Model: "deepseek/deepseek-chat-v3-0324:free", Messages: userTurn("hi")})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if !errors.Is(err, shardErrors.ErrUpstream) || !errors.Is(err, shardErrors.ErrMalformedChunk) {
		t.Errorf("Expected ErrUpstream and ErrMalformedChunk in chain, got %v", err)
	}
}

func TestStreamEmptyBodyIsUpstreamError(t *testing.T) {
	srv := sseServer(t, http.StatusOK, "", nil)
	g := New(WithLogger(logging.Discard()), WithBackend(NewOpenRouter("k",
		WithOpenRouterBaseURL(srv.URL), WithOpenRouterLogger(logging.Discard()))))

	_, err := collectAll(t, g, &Request{Model: "deepseek/deepseek-chat-v3-0324:free", Messages: userTurn("hi")})
	if !errors.Is(err, shardErrors.ErrUpstream) {
		t.Errorf("Expected ErrUpstream, got %v", err)
	}
}

func TestStatusErrorCarriesBodyMessage(t *testing.T) {
	srv := sseServer(t, http.StatusTooManyRequests, `{"error":{"message":"Rate limit exceeded","code":429}}`, nil)
	g := New(WithLogger(logging.Discard()), WithBackend(NewOpenRouter("k",
		WithOpenRouterBaseURL(srv.URL), WithOpenRouterLogger(logging.Discard()))))

	_, err := collectAll(t, g, &Request{Model: "deepseek/deepseek-chat-v3-0324:free", Messages: userTurn("hi")})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusTooManyRequests || upstream.Message != "Rate limit exceeded" {
		t.Errorf("Expected 429 with body message, got %d %q", upstream.Status, upstream.Message)
	}
}

func TestMidStreamErrorAbortsStream(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"par"}}]}` + "\n\n" +
		`data: {"error":{"message":"provider overloaded"}}` + "\n\n"
	srv := sseServer(t, http.StatusOK, body, nil)
	g := New(WithLogger(logging.Discard()), WithBackend(NewOpenRouter("k",
		WithOpenRouterBaseURL(srv.URL), WithOpenRouterLogger(logging.Discard()))))

	deltas, err := collectAll(t, g, &Request{Model: "deepseek/deepseek-chat-v3-0324:free", Messages: userTurn("hi")})
	if err == nil || !strings.Contains(err.Error(), "provider overloaded") {
		t.Fatalf("Expected provider error, got %v", err)
	}
	if len(deltas) != 1 || deltas[0].Final {
		t.Errorf("Expected one non-final delta before the error, got %+v", deltas)
	}
}

func TestNetworkFailureIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := New(WithLogger(logging.Discard()), WithBackend(NewGemini("k",
		WithGeminiBaseURL(url), WithGeminiLogger(logging.Discard()))))
	_, err := collectAll(t, g, &Request{Model: "gemini-2.0-flash", Messages: userTurn("hi")})
	if !errors.Is(err, shardErrors.ErrUpstream) {
		t.Errorf("Expected ErrUpstream, got %v", err)
	}
}

func TestGeminiThoughtsAndThinkingConfig(t *testing.T) {
	chunk := func(parts string) string { return fmt.Sprintf(`data: {"candidates":[{"content":{"parts":%s}}]}`+"\r\n\r\n", parts) }
	body := chunk(`[{"text":"pondering","thought":true}]`) +
		chunk(`[{"text":"Frank Herbert"}]`) +
		`data: {"usageMetadata":{"totalTokenCount":12}}` + "\r\n\r\n"

	var path string
	var gotBody map[string]any
	srv := sseServer(t, http.StatusOK, body, func(r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	})
	g := New(WithLogger(logging.Discard()), WithBackend(NewGemini("k",
		WithGeminiBaseURL(srv.URL), WithGeminiLogger(logging.Discard()))))

	msgs := []*message.Message{
		message.NewMessage(message.RoleUser, "who wrote Dune?"),
		message.NewMessage(message.RoleAssistant, "let me check"),
		message.NewMessage(message.RoleUser, "well?"),
	}
	text, reasoning, err := Collect(g.OpenStream(context.Background(), &Request{
		Model:    "gemini-2.5-flash-preview-05-20#thinking-enabled",
		Messages: msgs,
		Image:    &message.Image{Data: []byte{0x89, 0x50}, MIMEType: "image/png"},
	}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if text != "Frank Herbert" || reasoning != "pondering" {
		t.Errorf("Expected text/reasoning split, got %q / %q", text, reasoning)
	}
	if path != "/models/gemini-2.5-flash-preview-05-20:streamGenerateContent" {
		t.Errorf("Expected base model in path, got %s", path)
	}

	cfg := gotBody["generationConfig"].(map[string]any)["thinkingConfig"].(map[string]any)
	if cfg["includeThoughts"] != true {
		t.Errorf("Expected includeThoughts, got %v", cfg)
	}
	contents := gotBody["contents"].([]any)
	if role := contents[1].(map[string]any)["role"]; role != "model" {
		t.Errorf("Expected assistant mapped to model, got %v", role)
	}
	lastParts := contents[2].(map[string]any)["parts"].([]any)
	if len(lastParts) != 2 {
		t.Errorf("Expected image attached to last user turn, got %v", lastParts)
	}
}

func TestGeminiNonThinkingSendsZeroBudget(t *testing.T) {
	g := NewGemini("k", WithGeminiLogger(logging.Discard()))
	wire, base := g.buildRequest(&Request{Model: "gemini-2.5-flash-preview-05-20", Messages: userTurn("hi")})
	if base != "gemini-2.5-flash-preview-05-20" {
		t.Errorf("Expected unchanged base, got %s", base)
	}
	if wire.GenerationConfig == nil || wire.GenerationConfig.ThinkingConfig.ThinkingBudget == nil ||
		*wire.GenerationConfig.ThinkingConfig.ThinkingBudget != 0 {
		t.Errorf("Expected thinking budget 0, got %+v", wire.GenerationConfig)
	}

	wire, _ = g.buildRequest(&Request{Model: "gemini-2.0-flash", Messages: userTurn("hi")})
	if wire.GenerationConfig != nil {
		t.Errorf("Expected no thinking config for 2.0, got %+v", wire.GenerationConfig)
	}
}

func TestUnsupportedModel(t *testing.T) {
	g := New(WithLogger(logging.Discard()), WithBackend(NewGemini("k")))
	_, err := collectAll(t, g, &Request{Model: "mystery-model", Messages: userTurn("hi")})
	if !errors.Is(err, shardErrors.ErrUnsupportedModel) || !errors.Is(err, shardErrors.ErrUpstream) {
		t.Errorf("Expected unsupported model upstream error, got %v", err)
	}
}

func TestResolveFallsBackToOpenRouter(t *testing.T) {
	g := New(WithLogger(logging.Discard()), WithBackend(NewGemini("k")), WithBackend(NewOpenRouter("k")))
	tests := []struct {
		model   string
		backend string
	}{
		{"gemini-2.0-flash", BackendGemini},
		{"gemini-2.5-flash-preview-05-20#thinking-enabled", BackendGemini},
		{"deepseek/deepseek-chat-v3-0324:free", BackendOpenRouter},
		{"google/gemini-2.0-flash-001", BackendOpenRouter},
		{"mystery-model", BackendOpenRouter},
	}
	for _, tt := range tests {
		b, err := g.Resolve(tt.model)
		if err != nil {
			t.Errorf("Resolve(%q): unexpected error %v", tt.model, err)
			continue
		}
		if b.Name() != tt.backend {
			t.Errorf("Resolve(%q): expected %s, got %s", tt.model, tt.backend, b.Name())
		}
	}
	if _, err := g.Resolve("  "); !errors.Is(err, shardErrors.ErrUnsupportedModel) {
		t.Errorf("Expected blank model to be unsupported, got %v", err)
	}
}

func TestConsumerBreakStopsEarly(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"a"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"b"}}]}` + "\n\n"
	srv := sseServer(t, http.StatusOK, body, nil)
	g := New(WithLogger(logging.Discard()), WithBackend(NewOpenRouter("k",
		WithOpenRouterBaseURL(srv.URL), WithOpenRouterLogger(logging.Discard()))))

	n := 0
	for range g.OpenStream(context.Background(), &Request{Model: "x/y", Messages: userTurn("hi")}) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("Expected to stop after one delta, got %d", n)
	}
}

func TestCatalog(t *testing.T) {
	m, ok := LookupModel(DefaultModel)
	if !ok || m.Backend != BackendGemini || !m.Reasoning {
		t.Errorf("Expected default model in catalog as gemini reasoning model, got %+v", m)
	}
	if len(ModelIDs()) != len(Catalog) {
		t.Errorf("Expected %d ids, got %d", len(Catalog), len(ModelIDs()))
	}
}
