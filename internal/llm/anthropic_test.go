package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func anthropicMessage(texts ...string) map[string]any {
	content := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-3-5-sonnet-20240620",
		"content":       content,
		"stop_reason":   "end_turn",
		"stop_sequence": "",
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": len(texts)},
	}
}

func TestAnthropicCompleteSeparatesSystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")

		var req struct {
			Model  string `json:"model"`
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
			Messages []struct {
				Role    string `json:"role"`
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Model != "claude-3-5-sonnet-20240620" {
			t.Fatalf("unexpected model %q", req.Model)
		}
		if len(req.System) != 1 || req.System[0].Text != "be concise" {
			t.Fatalf("expected system prompt in top-level system field, got %#v", req.System)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 chat messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "user" || req.Messages[1].Role != "assistant" {
			t.Fatalf("unexpected chat roles: %#v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(anthropicMessage(" hello ", "world"))
	}))
	defer server.Close()

	client, err := newAnthropicClient("test-key", "claude-3-5-sonnet-20240620", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), Request{Messages: []Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected combined trimmed text, got %q", got)
	}
}

func TestAnthropicCompleteSendsImageBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var req struct {
			Messages []struct {
				Content []struct {
					Type   string `json:"type"`
					Text   string `json:"text"`
					Source struct {
						Type      string `json:"type"`
						MediaType string `json:"media_type"`
						Data      string `json:"data"`
					} `json:"source"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		blocks := req.Messages[0].Content
		if len(blocks) != 3 {
			t.Fatalf("expected two images and one text block, got %#v", blocks)
		}
		if blocks[0].Type != "image" || blocks[0].Source.Type != "base64" || blocks[0].Source.MediaType != "image/jpeg" {
			t.Fatalf("unexpected image block: %#v", blocks[0])
		}
		if blocks[1].Source.Data != "Ag==" {
			t.Fatalf("expected second page data, got %q", blocks[1].Source.Data)
		}
		if blocks[2].Type != "text" || blocks[2].Text != "summarize" {
			t.Fatalf("unexpected text block: %#v", blocks[2])
		}

		_ = json.NewEncoder(w).Encode(anthropicMessage("ok"))
	}))
	defer server.Close()

	client, err := newAnthropicClient("test-key", "claude-3-5-sonnet-20240620", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Messages: []Message{{
		Role:    "user",
		Content: "summarize",
		Images: []Image{
			{Data: []byte{1}, MediaType: "image/jpeg"},
			{Data: []byte{2}, MediaType: "image/jpeg"},
		},
	}}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}

func TestAnthropic_Complete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(anthropicMessage())
	}))
	defer server.Close()

	client, err := newAnthropicClient("test-key", "claude-3-5-sonnet-20240620", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hello"}}})
	if err == nil {
		t.Fatal("expected error for empty content, got nil")
	}
	if !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected 'empty response' in error, got %q", err.Error())
	}
}

func TestAnthropic_MaxTokens(t *testing.T) {
	for _, tt := range []struct {
		name      string
		requested int
		want      int64
	}{
		{name: "default", requested: 0, want: defaultMaxTokens},
		{name: "explicit", requested: 1000, want: 1000},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var captured int64
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				var req struct {
					MaxTokens int64 `json:"max_tokens"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Fatalf("decode request: %v", err)
				}
				captured = req.MaxTokens
				_ = json.NewEncoder(w).Encode(anthropicMessage("ok"))
			}))
			defer server.Close()

			client, err := newAnthropicClient("test-key", "claude-3-5-sonnet-20240620", &clientOptions{baseURL: server.URL})
			if err != nil {
				t.Fatalf("newAnthropicClient failed: %v", err)
			}

			_, err = client.Complete(context.Background(), Request{
				Messages:  []Message{{Role: "user", Content: "hello"}},
				MaxTokens: tt.requested,
			})
			if err != nil {
				t.Fatalf("Complete failed: %v", err)
			}
			if captured != tt.want {
				t.Fatalf("expected max_tokens %d, got %d", tt.want, captured)
			}
		})
	}
}
