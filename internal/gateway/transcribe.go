package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

type transcribeResponse struct {
	Transcript *string `json:"transcript"`
	UploadURL  string  `json:"upload_url"`
}

// Transcribe asks the gateway to transcribe a stored recording and blocks
// until the server-side job finishes. The call is not idempotent; callers
// deduplicate concurrent requests for the same file.
func (c *Client) Transcribe(ctx context.Context, patientID, fileName string) (string, error) {
	data, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: c.opts.Endpoints.Transcribe,
		body:     map[string]any{"patientID": patientID, "fileName": fileName},
		timeout:  c.opts.TranscribeTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", fileName, err)
	}
	return transcriptText(data, c.opts.Endpoints.Transcribe)
}

// TranscribeUpload runs the two-phase variant: negotiate an upload URL, PUT
// the recording there, then request the transcript.
func (c *Client) TranscribeUpload(ctx context.Context, patientID string, recording []byte) (string, error) {
	data, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: c.opts.Endpoints.Transcribe,
		body:     map[string]any{"patientID": patientID, "uploaded": false},
	})
	if err != nil {
		return "", fmt.Errorf("negotiate transcription upload: %w", err)
	}
	negotiated, err := decode[transcribeResponse](data, c.opts.Endpoints.Transcribe)
	if err != nil {
		return "", err
	}
	if negotiated.UploadURL == "" {
		return "", fmt.Errorf("%w: transcribe response missing upload_url", ErrMalformedResponse)
	}

	if err := c.put(ctx, negotiated.UploadURL, recording, "video/mp4"); err != nil {
		return "", err
	}

	data, err = c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: c.opts.Endpoints.Transcribe,
		body:     map[string]any{"patientID": patientID, "uploaded": true},
		timeout:  c.opts.TranscribeTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe uploaded recording: %w", err)
	}
	return transcriptText(data, c.opts.Endpoints.Transcribe)
}

func (c *Client) put(ctx context.Context, rawURL string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.TranscribeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: upload recording: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return statusError(resp, "upload recording")
}

func transcriptText(data []byte, endpoint string) (string, error) {
	resp, err := decode[transcribeResponse](data, endpoint)
	if err != nil {
		return "", err
	}
	if resp.Transcript == nil {
		return "", fmt.Errorf("%w: transcribe response missing transcript", ErrMalformedResponse)
	}
	return *resp.Transcript, nil
}
