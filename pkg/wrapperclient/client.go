package wrapperclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// wrapperPort is the fixed HTTP port of the wrapper service.
	wrapperPort = 8000

	// commandTimeout bounds deploy and shutdown, both of which block until
	// the remote host finishes loading or unloading a model.
	commandTimeout = 300 * time.Second
	statusTimeout  = 10 * time.Second
)

// Client is the production Adapter: deploy/shutdown/get_status over HTTP,
// install/restart over SSH.
type Client struct {
	address     string
	baseURL     string
	commandHTTP *http.Client // deploy, shutdown
	statusHTTP  *http.Client
	provisioner *Provisioner
	logger      zerolog.Logger
}

// NewClient creates an adapter for one wrapper host. The credentials are
// only used for the SSH provisioning path.
func NewClient(address, username, password string) *Client {
	return &Client{
		address: address,
		baseURL: fmt.Sprintf("http://%s:%d", address, wrapperPort),
		commandHTTP: &http.Client{
			Timeout: commandTimeout,
		},
		statusHTTP: &http.Client{
			Timeout: statusTimeout,
		},
		provisioner: NewProvisioner(address, username, password),
		logger:      log.WithWrapper(address),
	}
}

// NewAdapter is the Factory for production clients.
func NewAdapter(address, username, password string) Adapter {
	return NewClient(address, username, password)
}

// Address returns the host this client talks to.
func (c *Client) Address() string {
	return c.address
}

// Deploy posts the configuration to the wrapper and waits for it to report
// readiness. The wrapper answers only after the model is loaded, so this
// call can take minutes.
func (c *Client) Deploy(ctx context.Context, config string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deploy", strings.NewReader(config))
	if err != nil {
		return fmt.Errorf("failed to create deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.commandHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("deploy %s: %w: %v", c.address, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deploy %s: HTTP %d: %w", c.address, resp.StatusCode, ErrRejected)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("deploy %s: malformed reply: %w", c.address, ErrRejected)
	}
	if body.Status != "ready" {
		return fmt.Errorf("deploy %s: wrapper answered %q: %w", c.address, body.Status, ErrRejected)
	}

	c.logger.Info().Msg("Model deployed")
	return nil
}

// Stop asks the wrapper to unload its current model.
func (c *Client) Stop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shutdown", nil)
	if err != nil {
		return fmt.Errorf("failed to create shutdown request: %w", err)
	}

	resp, err := c.commandHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("stop %s: %w: %v", c.address, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stop %s: HTTP %d: %w", c.address, resp.StatusCode, ErrRejected)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("stop %s: malformed reply: %w", c.address, ErrRejected)
	}
	if body.Status != "stopped" {
		return fmt.Errorf("stop %s: wrapper answered %q: %w", c.address, body.Status, ErrRejected)
	}

	c.logger.Info().Msg("Model stopped")
	return nil
}

// Status fetches the wrapper's self-assessed status.
func (c *Client) Status(ctx context.Context) (types.WrapperStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_status", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.statusHTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("status %s: %w: %v", c.address, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %s: HTTP %d: %w", c.address, resp.StatusCode, ErrRejected)
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("status %s: malformed reply: %w", c.address, ErrRejected)
	}

	status := types.WrapperStatus(body.Message)
	if !status.Valid() {
		return "", fmt.Errorf("status %s: unknown status %q: %w", c.address, body.Message, ErrRejected)
	}
	return status, nil
}

// Install provisions the wrapper service on a bare host over SSH.
func (c *Client) Install(ctx context.Context) error {
	c.logger.Info().Msg("Installing wrapper service")
	return c.provisioner.Install(ctx)
}

// Restart restarts the wrapper service over SSH.
func (c *Client) Restart(ctx context.Context) error {
	c.logger.Info().Msg("Restarting wrapper service")
	return c.provisioner.Restart(ctx)
}
