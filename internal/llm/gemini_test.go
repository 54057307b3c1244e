package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertGeminiMessages(t *testing.T) {
	systemInstruction, contents := convertGeminiMessages([]Message{
		{Role: "system", Content: "follow policy"},
		{Role: "user", Content: "hello", Images: []Image{{Data: []byte{1, 2}, MediaType: "image/jpeg"}}},
		{Role: "assistant", Content: "hi there"},
		{Role: "user", Content: "how are you"},
	})

	if systemInstruction == nil {
		t.Fatalf("expected system instruction, got nil")
	}
	if len(systemInstruction.Parts) != 1 || systemInstruction.Parts[0].Text != "follow policy" {
		t.Fatalf("unexpected system instruction: %#v", systemInstruction)
	}

	if len(contents) != 3 {
		t.Fatalf("expected 3 conversation messages, got %d", len(contents))
	}
	first := contents[0]
	if first.Role != "user" || len(first.Parts) != 2 {
		t.Fatalf("unexpected first message: %#v", first)
	}
	if first.Parts[0].InlineData == nil || first.Parts[0].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("expected inline image first, got %#v", first.Parts[0])
	}
	if first.Parts[1].Text != "hello" {
		t.Fatalf("expected text after image, got %#v", first.Parts[1])
	}
	if contents[1].Role != "model" || contents[1].Parts[0].Text != "hi there" {
		t.Fatalf("unexpected second message: %#v", contents[1])
	}
	if contents[2].Role != "user" || contents[2].Parts[0].Text != "how are you" {
		t.Fatalf("unexpected third message: %#v", contents[2])
	}
}

func TestGeminiRequiresUserMessage(t *testing.T) {
	client := &geminiClient{model: "gemini-test"}
	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "system", Content: "x"}}})
	if err == nil || !strings.Contains(err.Error(), "no user message") {
		t.Fatalf("expected missing user message error, got %v", err)
	}
}

func TestGemini_Complete_EmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"parts": []map[string]any{
							{"text": ""},
						},
						"role": "model",
					},
					"finishReason": "STOP",
				},
			},
		})
	}))
	defer server.Close()

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Messages: []Message{
		{Role: "user", Content: "hello"},
	}})
	if err == nil {
		t.Fatal("expected error for empty result, got nil")
	}
	if !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected 'empty response' in error, got %q", err.Error())
	}
}
