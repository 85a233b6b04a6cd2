package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ResultName is the name given to merged images.
const ResultName = "receipt.png"

// ErrMissingContentType is returned when a successful response does not say
// what it contains.
var ErrMissingContentType = errors.New("response has no Content-Type header")

// Submitter sends a merge request and returns the merged image.
type Submitter interface {
	Submit(ctx context.Context, p Payload) (Image, error)
}

// ServerError is a non-2xx response from the receipts server.
type ServerError struct {
	Status  int
	Type    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("server responded %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server responded %d (%s): %s", e.Status, e.Type, e.Message)
}

// HTTPSubmitter posts payloads to a receipts server.
type HTTPSubmitter struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSubmitter(baseURL string) *HTTPSubmitter {
	return &HTTPSubmitter{BaseURL: baseURL, Client: http.DefaultClient}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, p Payload) (Image, error) {
	body, contentType, err := p.Encode()
	if err != nil {
		return Image{}, err
	}

	url := strings.TrimRight(s.BaseURL, "/") + "/receipts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return Image{}, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Image{}, decodeServerError(resp)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		return Image{}, ErrMissingContentType
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return NewImage(ResultName, mimeType, uint64(len(data)), data), nil
}

func decodeServerError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	serverErr := &ServerError{Status: resp.StatusCode}

	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Message == "" {
		serverErr.Message = http.StatusText(resp.StatusCode)
		return serverErr
	}
	serverErr.Type = envelope.Error.Type
	serverErr.Message = envelope.Error.Message
	return serverErr
}
