package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/task"
)

// DefaultTimeout bounds every remote call. A timeout is treated as a
// transient failure.
const DefaultTimeout = 10 * time.Second

// HTTPClient talks to the reference backend (internal/api) or anything
// speaking the same JSON CRUD surface.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client for the given base URL, e.g.
// "https://api.example.com".
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		base: base,
		http: &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *HTTPClient) CreateTask(ctx context.Context, accountID string, t *task.Task) (*task.Task, error) {
	var out task.Task
	if err := c.do(ctx, accountID, http.MethodPost, "/api/tasks", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateTask(ctx context.Context, accountID string, t *task.Task) (*task.Task, error) {
	var out task.Task
	path := "/api/tasks/" + t.RemoteID
	if err := c.do(ctx, accountID, http.MethodPut, path, t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteTask(ctx context.Context, accountID, remoteID string, version int64) error {
	path := fmt.Sprintf("/api/tasks/%s?version=%d", remoteID, version)
	return c.do(ctx, accountID, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) ListTasks(ctx context.Context, accountID string) ([]task.Task, error) {
	var out []task.Task
	if err := c.do(ctx, accountID, http.MethodGet, "/api/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateSample(ctx context.Context, accountID string, s *brainstate.Sample) (*brainstate.Sample, error) {
	var out brainstate.Sample
	if err := c.do(ctx, accountID, http.MethodPost, "/api/brainstates", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, accountID, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return Permanent(0, "encode request: "+err.Error())
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return Permanent(0, "build request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-ID", accountID)

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures and timeouts are all retryable.
		return Transient(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorBody(resp.Body)
		if retryableStatus(resp.StatusCode) {
			return &Error{Class: ClassTransient, Status: resp.StatusCode, Msg: msg}
		}
		return Permanent(resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Transient("decode response", err)
		}
	}
	return nil
}

// retryableStatus: server-side trouble and throttling retry; everything else
// in 4xx is a real rejection.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func readErrorBody(r io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&e); err != nil || e.Error == "" {
		return "request rejected"
	}
	return e.Error
}
