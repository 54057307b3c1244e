package gateway

import (
	"context"
	"fmt"
	"net/http"
)

type InferenceImage struct {
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
}

// InferenceRequest is the payload of the inference endpoint. Image data is base64.
type InferenceRequest struct {
	SystemInstructions string           `json:"system_instructions"`
	Prompt             string           `json:"prompt"`
	Images             []InferenceImage `json:"images"`
	MaxTokens          int              `json:"max_tokens"`
}

// Infer posts to the inference endpoint and returns the raw response
// envelope. Parsing the envelope belongs to the summarization layer.
func (c *Client) Infer(ctx context.Context, req InferenceRequest) ([]byte, error) {
	if req.Images == nil {
		req.Images = []InferenceImage{}
	}

	data, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: c.opts.Endpoints.Inference,
		body:     req,
		timeout:  c.opts.InferenceTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return data, nil
}
