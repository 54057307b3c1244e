package summary

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/llm"
)

type Inferrer interface {
	Infer(ctx context.Context, req gateway.InferenceRequest) ([]byte, error)
}

// GatewayBackend sends requests to the gateway's inference endpoint.
type GatewayBackend struct {
	gw Inferrer
}

func NewGatewayBackend(gw Inferrer) *GatewayBackend {
	return &GatewayBackend{gw: gw}
}

func (b *GatewayBackend) Complete(ctx context.Context, req Request) (string, error) {
	images := make([]gateway.InferenceImage, len(req.Images))
	for i, img := range req.Images {
		images[i] = gateway.InferenceImage{
			Data:      base64.StdEncoding.EncodeToString(img.Data),
			MediaType: img.MediaType,
		}
	}

	body, err := b.gw.Infer(ctx, gateway.InferenceRequest{
		SystemInstructions: req.Instructions,
		Prompt:             req.PromptPrefix,
		Images:             images,
		MaxTokens:          req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return ParseEnvelope(body)
}

// ParseEnvelope extracts the model text from an inference response:
// "result" holds a JSON document as a string, and the text is at
// content.0.text inside it.
func ParseEnvelope(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: response is not json", ErrMalformedAIResponse)
	}
	result := gjson.GetBytes(body, "result")
	if result.Type != gjson.String {
		return "", fmt.Errorf("%w: result is not a string", ErrMalformedAIResponse)
	}
	inner := result.String()
	if !gjson.Valid(inner) {
		return "", fmt.Errorf("%w: result is not json", ErrMalformedAIResponse)
	}
	text := gjson.Get(inner, "content.0.text")
	if text.Type != gjson.String {
		return "", fmt.Errorf("%w: no content text", ErrMalformedAIResponse)
	}
	return text.String(), nil
}

type ClientFactory func(provider, model string) (llm.Client, error)

// ProviderFactory builds direct provider clients with keys from cfg.
func ProviderFactory(cfg config.Config) ClientFactory {
	return func(provider, model string) (llm.Client, error) {
		return llm.NewClient(provider, cfg.ProviderAPIKey(provider), model)
	}
}

// LLMBackend calls a hosted model provider directly. Models are written as
// provider/model_name.
type LLMBackend struct {
	factory ClientFactory
	model   string
}

func NewLLMBackend(factory ClientFactory, model string) *LLMBackend {
	return &LLMBackend{factory: factory, model: model}
}

func (b *LLMBackend) Complete(ctx context.Context, req Request) (string, error) {
	modelStr := req.Model
	if modelStr == "" {
		modelStr = b.model
	}
	provider, model, err := llm.ParseModel(modelStr)
	if err != nil {
		return "", err
	}
	client, err := b.factory(provider, model)
	if err != nil {
		return "", fmt.Errorf("create llm client: %w", err)
	}

	var messages []llm.Message
	if req.Instructions != "" {
		messages = append(messages, llm.Message{Role: "system", Content: req.Instructions})
	}
	user := llm.Message{Role: "user", Content: req.PromptPrefix}
	for _, img := range req.Images {
		user.Images = append(user.Images, llm.Image{Data: img.Data, MediaType: img.MediaType})
	}
	messages = append(messages, user)

	return client.Complete(ctx, llm.Request{Messages: messages, MaxTokens: req.MaxTokens})
}

// NewBackend picks the inference backend named by the summarization config.
func NewBackend(cfg config.Config, gw Inferrer) (Backend, error) {
	switch cfg.Summarization.Backend {
	case "", config.BackendGateway:
		return NewGatewayBackend(gw), nil
	case config.BackendDirect:
		return NewLLMBackend(ProviderFactory(cfg), cfg.Summarization.Model), nil
	default:
		return nil, fmt.Errorf("unknown summarization backend %q", cfg.Summarization.Backend)
	}
}
