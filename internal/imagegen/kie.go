package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/photoremix/pkg/logger"
)

// KIEClient drives the asynchronous KIE jobs API: create a task, poll it, then
// download the first result URL.
type KIEClient struct {
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
	log          *slog.Logger
	pollInterval time.Duration
	maxPolls     int
}

func NewKIEClient(apiKey, baseURL, model string, httpClient *http.Client, log *slog.Logger) *KIEClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &KIEClient{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        model,
		httpClient:   httpClient,
		log:          log,
		pollInterval: 2 * time.Second,
		maxPolls:     60,
	}
}

func (c *KIEClient) Transform(ctx context.Context, req Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: KIE_API_KEY is not set", ErrConfiguration)
	}
	if req.SourceURL == "" {
		return nil, fmt.Errorf("kie needs a source url")
	}

	payload := map[string]any{
		"model": c.model,
		"input": map[string]any{
			"prompt":        req.Instruction,
			"image_urls":    []string{req.SourceURL},
			"output_format": "png",
		},
	}

	taskID, err := c.createTask(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	resultURL, err := c.pollTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, resultURL)
}

func (c *KIEClient) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *KIEClient) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	c.log.Info("creating KIE task", "url", fullURL, "model", c.model)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	rawBody, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		c.log.Error("KIE create task failed", "status", status, "url", fullURL, "body", truncateBody(rawBody))
		return "", statusError("kie", status, rawBody)
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	switch {
	case createResp.Code == http.StatusUnauthorized || createResp.Code == http.StatusForbidden:
		return "", fmt.Errorf("%w: create task rejected: code=%d msg=%s", ErrConfiguration, createResp.Code, createResp.Msg)
	case createResp.Code != http.StatusOK:
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	case createResp.Data.TaskID == "":
		return "", fmt.Errorf("empty taskId in response")
	}

	c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

func (c *KIEClient) pollTaskStatus(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < c.maxPolls; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		rawBody, status, err := c.do(req)
		if err != nil {
			return "", err
		}
		if status >= 300 {
			c.log.Error("KIE poll task status failed", "status", status, "url", fullURL, "body", truncateBody(rawBody))
			return "", statusError("kie", status, rawBody)
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return "", fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}
		if statusResp.Code != http.StatusOK {
			return "", fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch statusResp.Data.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return "", fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return "", fmt.Errorf("no resultUrls in result")
			}
			c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			return result.ResultURLs[0], nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			return "", fmt.Errorf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxPolls)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}

		default:
			return "", fmt.Errorf("unknown task state: %s", statusResp.Data.State)
		}
	}

	return "", fmt.Errorf("task timeout after %d attempts", c.maxPolls)
}

func (c *KIEClient) download(ctx context.Context, resultURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	data, status, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("download result: %w", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("download result: status=%d", status)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download result: empty body")
	}
	return &Result{Data: data, MimeType: http.DetectContentType(data)}, nil
}

func (c *KIEClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}
