package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/greenprompt/registry/pkg/api"
	"github.com/greenprompt/registry/pkg/types"
)

// Client talks to a running registry's HTTP API. It backs the CLI
// subcommands.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the registry at addr (host:port or URL).
func NewClient(addr string) *Client {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts a measurement submission and returns the created requests.
func (c *Client) Submit(measurementID int64, llms []types.LLMConfig) (*api.RequestResponse, error) {
	payload := api.RequestPayload{LLMs: llms, MeasurementID: measurementID}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.baseURL+"/promptingservice/request", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var response api.RequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("malformed registry reply: %w", err)
	}
	return &response, nil
}

// GetRequest fetches the status of one request.
func (c *Client) GetRequest(requestID string) (*api.RequestStatusResponse, error) {
	resp, err := c.http.Get(c.baseURL + "/promptingservice/request/" + requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var response api.RequestStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("malformed registry reply: %w", err)
	}
	return &response, nil
}

// Release frees the wrapper bound to a request.
func (c *Client) Release(requestID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/promptingservice/request/"+requestID, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		if body.CorrelationID != "" {
			return fmt.Errorf("registry answered HTTP %d: %s (correlation id %s)", resp.StatusCode, body.Error, body.CorrelationID)
		}
		return fmt.Errorf("registry answered HTTP %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("registry answered HTTP %d", resp.StatusCode)
}
