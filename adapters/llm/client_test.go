package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIClientParsesReplyAndUsage(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"message": {"content": "I guess the mornings are the hardest."}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 18, "total_tokens": 138}
		}`))
	}))
	defer server.Close()

	client := &OpenAIClient{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}

	result, err := client.ChatCompletion(context.Background(), []Message{
		{Role: "system", Content: "You are a client in counseling."},
		{Role: "user", Content: "How have you been sleeping?"},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini in request, got %v", gotBody["model"])
	}
	if result.Content != "I guess the mornings are the hardest." {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.Usage == nil {
		t.Fatal("expected usage to be parsed")
	}
	if result.Usage.TotalTokens != 138 {
		t.Errorf("expected 138 total tokens, got %d", result.Usage.TotalTokens)
	}
	if result.Usage.Model != "gpt-4o-mini-2024-07-18" {
		t.Errorf("expected resolved model from response, got %q", result.Usage.Model)
	}
}

func TestOpenAIClientToleratesMissingUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "Okay."}}]}`))
	}))
	defer server.Close()

	client := &OpenAIClient{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini", Timeout: 5 * time.Second}
	result, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if result.Usage != nil {
		t.Errorf("expected nil usage when provider omits it, got %+v", result.Usage)
	}
}

func TestOpenAIClientSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limit"}}`))
	}))
	defer server.Close()

	client := &OpenAIClient{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini", Timeout: 5 * time.Second}
	_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error on HTTP 429")
	}
}

func TestOpenAIClientRejectsEmptyInput(t *testing.T) {
	client := &OpenAIClient{APIKey: "k", BaseURL: "http://localhost:1", Model: "gpt-4o-mini"}
	if _, err := client.ChatCompletion(context.Background(), nil); err == nil {
		t.Error("expected error for empty message list")
	}

	noModel := &OpenAIClient{APIKey: "k", BaseURL: "http://localhost:1"}
	if _, err := noModel.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Error("expected error for missing model")
	}
}
