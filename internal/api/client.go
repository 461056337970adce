package api

import (
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// APIError is a failure answer from the control surface, carrying the wire
// class so callers can map it to an exit code.
type APIError struct {
	Class      string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return e.Message
}

// Client talks to a running daemon's control surface.
type Client struct {
	http *resty.Client
}

// NewClient creates a control-surface client for the given base URL.
func NewClient(baseURL string) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Content-Type", "application/json")
	client.SetDisableWarn(true)
	return &Client{http: client}
}

// Resty exposes the underlying client so tests can intercept it.
func (c *Client) Resty() *resty.Client {
	return c.http
}

func (c *Client) decodeFailure(resp *resty.Response) error {
	var apiErr ErrorResponse
	if err := json.Unmarshal(resp.Body(), &apiErr); err != nil || apiErr.Error == "" {
		return &APIError{
			Class:      ClassRuntime,
			Message:    fmt.Sprintf("server returned status %d: %s", resp.StatusCode(), resp.String()),
			StatusCode: resp.StatusCode(),
		}
	}
	return &APIError{Class: apiErr.Class, Message: apiErr.Error, StatusCode: resp.StatusCode()}
}

// Status fetches the orchestrator status.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.http.R().Get("/status")
	if err != nil {
		return nil, fmt.Errorf("cannot reach daemon: %v", err)
	}
	if resp.StatusCode() != 200 {
		return nil, c.decodeFailure(resp)
	}
	var status StatusResponse
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, fmt.Errorf("cannot parse status response: %v", err)
	}
	return &status, nil
}

func (c *Client) post(path string) error {
	resp, err := c.http.R().Post(path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon: %v", err)
	}
	if resp.StatusCode() != 200 {
		return c.decodeFailure(resp)
	}
	return nil
}

// Deploy triggers a full build-and-roll cycle and waits for it to finish.
func (c *Client) Deploy() error {
	return c.post("/deploy")
}

// AbortDeploy requests the active rolling restart to halt between steps.
func (c *Client) AbortDeploy() error {
	return c.post("/deploy/abort")
}

// RestartWorker cycles a single worker instance.
func (c *Client) RestartWorker(index int) error {
	return c.post(fmt.Sprintf("/workers/%d/restart", index))
}

// Start brings the worker pool up.
func (c *Client) Start() error {
	return c.post("/start")
}

// Stop drains and terminates the whole pool.
func (c *Client) Stop() error {
	return c.post("/stop")
}
