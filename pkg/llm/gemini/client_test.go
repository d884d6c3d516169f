package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/hatsuka/pkg/llm"
)

func testConfig(baseURL string) llm.Config {
	return llm.Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Roles: map[llm.Role]llm.RoleConfig{
			llm.RolePlanner:   {Model: "test-model", Temperature: 0.1, MaxOutputTokens: 100},
			llm.RoleFinalizer: {Model: "final-model", Temperature: 0.7, MaxOutputTokens: 100},
		},
		Retry: llm.RetryPolicy{MaxAttempts: 1},
	}
}

func TestCompleteParsesTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"candidates": [{"content": {"parts": [{"text": "hello "}, {"text": "world"}], "role": "model"}}],
			"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 2, "totalTokenCount": 7}
		}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	resp, err := c.Complete(context.Background(), llm.Request{
		Role:     llm.RolePlanner,
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteNormalizesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"candidates": [{"content": {"parts": [
				{"functionCall": {"name": "web_search", "args": {"query": "news"}}}
			], "role": "model"}}]
		}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	resp, err := c.Complete(context.Background(), llm.Request{
		Role:     llm.RolePlanner,
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
		Tools:    []llm.ToolDecl{{Name: "web_search", Description: "d"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "web_search" || tc.Arguments["query"] != "news" {
		t.Errorf("tool call not normalized: %+v", tc)
	}
	if tc.TaskID == "" {
		t.Error("task id must be assigned")
	}
}

func TestCompleteSendsRoleConfig(t *testing.T) {
	var got geminiRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"candidates": [{"content": {"parts": [{"text": "ok"}], "role": "model"}}]}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), llm.Request{
		Role:     llm.RoleFinalizer,
		System:   "be nice",
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if path != "/models/final-model:generateContent" {
		t.Errorf("wrong model path: %s", path)
	}
	if got.GenerationConfig.Temperature != 0.7 || got.GenerationConfig.MaxOutputTokens != 100 {
		t.Errorf("generation config: %+v", got.GenerationConfig)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be nice" {
		t.Error("system instruction missing")
	}
}

func TestCompleteClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `quota exceeded`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), llm.Request{
		Role:     llm.RolePlanner,
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if llm.KindOf(err) != llm.KindRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \"one \"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \"two\"}]}}]}\n\n")
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	stream, err := c.Stream(context.Background(), llm.Request{
		Role:     llm.RoleFinalizer,
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var text string
	var sawFinal bool
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		text += chunk.Content
		if chunk.Final {
			sawFinal = true
		}
	}
	if text != "one two" {
		t.Errorf("streamed text = %q", text)
	}
	if !sawFinal {
		t.Error("missing final chunk")
	}
}

func TestStreamErrorIsExplicit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\": [{\"content\": {\"parts\": [{\"text\": \"partial\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\": {\"code\": 500, \"message\": \"backend exploded\"}}\n\n")
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	stream, err := c.Stream(context.Background(), llm.Request{
		Role:     llm.RoleFinalizer,
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var last llm.Chunk
	for chunk := range stream {
		last = chunk
	}
	if last.Err == nil {
		t.Fatal("mid-stream failure must surface as an error chunk, not silence")
	}
}

func TestSearchGroundingExcludesFunctions(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"candidates": [{"content": {"parts": [{"text": "ok"}]},
			"groundingMetadata": {"groundingChunks": [{"web": {"uri": "https://a.example", "title": "A"}}]}}]}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	resp, err := c.Complete(context.Background(), llm.Request{
		Role:         llm.RolePlanner,
		Messages:     []llm.Message{{Role: "user", Content: "hi"}},
		Tools:        []llm.ToolDecl{{Name: "ignored"}},
		EnableSearch: true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(got.Tools) != 1 || got.Tools[0].GoogleSearch == nil || got.Tools[0].FunctionDeclarations != nil {
		t.Errorf("search request must carry only google_search: %+v", got.Tools)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].URL != "https://a.example" {
		t.Errorf("grounding sources not harvested: %+v", resp.Sources)
	}
}

func TestClassifyStatus(t *testing.T) {
	if llm.KindOf(classifyStatus(500, nil)) != llm.KindTransientNetwork {
		t.Error("5xx must be transient")
	}
	if llm.KindOf(classifyStatus(429, nil)) != llm.KindRateLimited {
		t.Error("429 must be rate limited")
	}
	if llm.KindOf(classifyStatus(400, []byte("input token count exceeds limit"))) != llm.KindContextOverflow {
		t.Error("token-limit 400 must be context overflow")
	}
	if llm.KindOf(classifyStatus(403, []byte("forbidden"))) != llm.KindProviderError {
		t.Error("other statuses default to provider error")
	}
}
