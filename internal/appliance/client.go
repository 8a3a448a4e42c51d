package appliance

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vpnsentry/pkg/models"
)

// ErrNotReady indicates the search task has not finished processing yet.
// It is distinct from a failed or unreachable task.
var ErrNotReady = errors.New("appliance task still processing")

// Config configures the appliance client.
type Config struct {
	Host      string // base URL, e.g. https://appliance.example.com
	Port      int
	ADOM      string
	APIToken  string
	VerifySSL bool
	Timeout   time.Duration
}

// Query describes one asynchronous log search.
type Query struct {
	LogType string
	Start   time.Time
	End     time.Time
	Filter  string
}

// Client issues asynchronous log searches against the appliance's JSON-RPC
// log view API: submit returns a task id, results are fetched later by id.
type Client struct {
	endpoint string
	adom     string
	token    string
	client   *http.Client
}

const timeLayout = "2006-01-02T15:04:05"

type rpcRequest struct {
	ID      int           `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// NewClient creates an appliance client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("appliance host is empty")
	}
	if cfg.ADOM == "" {
		cfg.ADOM = "root"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	base := strings.TrimRight(cfg.Host, "/")
	if cfg.Port > 0 {
		base = fmt.Sprintf("%s:%d", base, cfg.Port)
	}

	transport := &http.Transport{}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		endpoint: base + "/jsonrpc",
		adom:     cfg.ADOM,
		token:    strings.TrimSpace(cfg.APIToken),
		client:   &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// SubmitQuery starts a log search task and returns its task id.
func (c *Client) SubmitQuery(ctx context.Context, q Query) (int64, error) {
	req := rpcRequest{
		ID:      1,
		JSONRPC: "2.0",
		Method:  "add",
		Params: []interface{}{map[string]interface{}{
			"apiver":     3,
			"url":        fmt.Sprintf("/logview/adom/%s/logsearch", c.adom),
			"logtype":    q.LogType,
			"time-order": "desc",
			"time-range": map[string]string{
				"start": q.Start.Format(timeLayout),
				"end":   q.End.Format(timeLayout),
			},
			"filter": q.Filter,
		}},
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return 0, err
	}

	result := firstResult(resp)
	if result == nil {
		return 0, fmt.Errorf("no result in submit response")
	}
	tid := models.RawRecord(result).Int("tid")
	if tid == 0 {
		return 0, fmt.Errorf("no task id in submit response")
	}
	return tid, nil
}

// TaskProgress returns the completion percentage of a search task.
func (c *Client) TaskProgress(ctx context.Context, tid int64) (int, error) {
	req := rpcRequest{
		ID:      1,
		JSONRPC: "2.0",
		Method:  "get",
		Params: []interface{}{map[string]interface{}{
			"url": fmt.Sprintf("/logview/adom/%s/task/%d", c.adom, tid),
		}},
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return 0, err
	}

	result := firstResult(resp)
	if result == nil {
		return 0, fmt.Errorf("no result in task status response")
	}
	return int(models.RawRecord(result).Int("percentage", "progress-percent")), nil
}

// WaitForTask blocks until the task reports completion, polling with bounded
// exponential backoff after an initial settle delay. Returns ErrNotReady if
// maxWait elapses while the task is still processing.
func (c *Client) WaitForTask(ctx context.Context, tid int64, settle, maxWait time.Duration) error {
	if maxWait <= 0 {
		maxWait = 2 * time.Minute
	}
	deadline := time.Now().Add(maxWait)

	if settle > 0 {
		if err := sleepCtx(ctx, settle); err != nil {
			return err
		}
	}

	backoff := 1 * time.Second
	for {
		pct, err := c.TaskProgress(ctx, tid)
		if err == nil && pct >= 100 {
			return nil
		}
		// Status errors are treated as transient until the deadline.
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("task %d status: %w", tid, err)
			}
			return ErrNotReady
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > 15*time.Second {
			backoff = 15 * time.Second
		}
	}
}

// FetchResults downloads one page of results for a completed task.
func (c *Client) FetchResults(ctx context.Context, tid int64, limit, offset int) (map[string]interface{}, error) {
	req := rpcRequest{
		ID:      2,
		JSONRPC: "2.0",
		Method:  "get",
		Params: []interface{}{map[string]interface{}{
			"apiver": 3,
			"url":    fmt.Sprintf("/logview/adom/%s/logsearch/%d", c.adom, tid),
			"data":   map[string]int{"limit": limit, "offset": offset},
		}},
	}
	return c.post(ctx, req)
}

func (c *Client) post(ctx context.Context, rpc rpcRequest) (map[string]interface{}, error) {
	body, err := json.Marshal(rpc)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("appliance request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("appliance request failed with status %s: %s", resp.Status, strings.TrimSpace(string(data[:min(len(data), 512)])))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed, nil
}

// firstResult normalizes the result member, which arrives either as a single
// object or a one-element list depending on the call.
func firstResult(resp map[string]interface{}) map[string]interface{} {
	v, ok := resp["result"]
	if !ok {
		return nil
	}
	switch res := v.(type) {
	case map[string]interface{}:
		return res
	case []interface{}:
		if len(res) > 0 {
			if m, ok := res[0].(map[string]interface{}); ok {
				return m
			}
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
