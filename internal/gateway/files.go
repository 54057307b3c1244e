package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type filesResponse struct {
	Exists *bool       `json:"exists"`
	URL    string      `json:"url"`
	Files  []fileEntry `json:"files"`
}

// ListArtifacts lists the files of a patient folder matching pattern, which
// is a suffix glob such as "*.pdf", "*" or an exact file name.
func (c *Client) ListArtifacts(ctx context.Context, patientID, pattern string) (Listing, error) {
	if pattern == "" {
		pattern = PatternAll
	}

	data, err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: c.opts.Endpoints.Files,
		query:    url.Values{"patientId": {patientID}, "fileName": {pattern}},
	})
	if errors.Is(err, ErrNotFound) {
		return notFound(), nil
	}
	if err != nil {
		return Listing{}, fmt.Errorf("list artifacts for %s: %w", patientID, err)
	}

	resp, err := decode[filesResponse](data, c.opts.Endpoints.Files)
	if err != nil {
		return Listing{}, err
	}
	if resp.Exists == nil {
		return Listing{}, fmt.Errorf("%w: files response missing exists flag", ErrMalformedResponse)
	}
	if !*resp.Exists {
		return notFound(), nil
	}

	artifacts := make([]Artifact, 0, len(resp.Files))
	for _, entry := range resp.Files {
		if strings.TrimSpace(entry.FileName) == "" {
			continue
		}
		a := entry.artifact(patientID)
		if a.FileName == "" || strings.HasSuffix(a.FileName, "/") {
			continue
		}
		artifacts = append(artifacts, a)
	}

	// Exact-name lookups may answer with a bare url instead of a file list.
	if len(artifacts) == 0 && resp.URL != "" && !strings.Contains(pattern, "*") {
		artifacts = append(artifacts, Artifact{FileName: pattern, URL: resp.URL, Kind: KindOf(pattern)})
	}

	return found(artifacts), nil
}

// UploadRequest describes one upload. An empty FileName asks the gateway to
// create the patient folder (no Data) or to pick a timestamped name.
type UploadRequest struct {
	PatientID   string
	FileName    string
	Data        []byte
	ContentType string
	Overwrite   bool
}

type uploadBody struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName,omitempty"`
	File        string `json:"file,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Overwrite   *bool  `json:"overwrite,omitempty"`
}

// Upload stores a file in the patient folder. Without Overwrite an existing
// file of the same name is never replaced: the call fails with ErrAlreadyExists.
func (c *Client) Upload(ctx context.Context, req UploadRequest) error {
	if strings.TrimSpace(req.PatientID) == "" {
		return fmt.Errorf("%w: patient id is required", ErrRejected)
	}

	if req.FileName != "" && !req.Overwrite {
		listing, err := c.ListArtifacts(ctx, req.PatientID, req.FileName)
		if err != nil {
			return fmt.Errorf("check existing %s: %w", req.FileName, err)
		}
		for _, a := range listing.Artifacts {
			if a.FileName == req.FileName {
				return fmt.Errorf("upload %s: %w", req.FileName, ErrAlreadyExists)
			}
		}
	}

	body := uploadBody{ID: req.PatientID, FileName: req.FileName}
	if len(req.Data) > 0 {
		body.File = base64.StdEncoding.EncodeToString(req.Data)
		body.ContentType = req.ContentType
		if body.ContentType == "" {
			body.ContentType = ContentTypeFor(req.FileName)
		}
		overwrite := req.Overwrite
		body.Overwrite = &overwrite
	}

	if _, err := c.do(ctx, call{method: http.MethodPost, endpoint: c.opts.Endpoints.Upload, body: body}); err != nil {
		if req.FileName == "" {
			return fmt.Errorf("upload to %s: %w", req.PatientID, err)
		}
		return fmt.Errorf("upload %s: %w", req.FileName, err)
	}
	return nil
}

// CreateFolder creates the patient folder. It is idempotent.
func (c *Client) CreateFolder(ctx context.Context, patientID string) error {
	err := c.Upload(ctx, UploadRequest{PatientID: patientID})
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

// DeleteArtifact deletes one file, or the whole patient folder when fileName
// is empty. Callers must gate whole-folder deletes behind user confirmation.
func (c *Client) DeleteArtifact(ctx context.Context, patientID, fileName string) error {
	if strings.TrimSpace(patientID) == "" {
		return fmt.Errorf("%w: patient id is required", ErrRejected)
	}

	_, err := c.do(ctx, call{
		method:   http.MethodDelete,
		endpoint: c.opts.Endpoints.Delete,
		query:    url.Values{"patientId": {patientID}, "fileName": {fileName}},
	})
	if err != nil {
		target := patientID
		if fileName != "" {
			target = fileName
		}
		return fmt.Errorf("delete %s: %w", target, err)
	}
	return nil
}

// Fetch downloads an artifact from its presigned URL. The API key is not sent.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch artifact: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp, "fetch artifact"); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %v", ErrNetwork, err)
	}
	if int64(len(data)) > c.opts.MaxDownloadBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.opts.MaxDownloadBytes)
	}
	return data, nil
}
