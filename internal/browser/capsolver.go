package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultCapsolverURL = "https://api.capsolver.com"

// CapsolverClient talks to the external token service for Turnstile-class
// challenges.
type CapsolverClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	pollInterval time.Duration
	pollBudget   time.Duration
}

// NewCapsolverClient creates a client. baseURL empty means the public API.
func NewCapsolverClient(baseURL, apiKey string) *CapsolverClient {
	if baseURL == "" {
		baseURL = defaultCapsolverURL
	}
	return &CapsolverClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		pollBudget:   60 * time.Second,
	}
}

type capsolverTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createTaskRequest struct {
	ClientKey string        `json:"clientKey"`
	Task      capsolverTask `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		Token string `json:"token"`
	} `json:"solution"`
}

// SolveTurnstile submits a Turnstile task and polls until a token is ready
// or the budget runs out.
func (c *CapsolverClient) SolveTurnstile(ctx context.Context, pageURL, sitekey string) (string, error) {
	var created createTaskResponse
	err := c.post(ctx, "/createTask", createTaskRequest{
		ClientKey: c.apiKey,
		Task: capsolverTask{
			Type:       "AntiTurnstileTaskProxyLess",
			WebsiteURL: pageURL,
			WebsiteKey: sitekey,
		},
	}, &created)
	if err != nil {
		return "", fmt.Errorf("capsolver create task: %w", err)
	}
	if created.ErrorID != 0 {
		return "", fmt.Errorf("capsolver create task: %s", created.ErrorDescription)
	}

	deadline := time.Now().Add(c.pollBudget)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var result taskResultResponse
		if err := c.post(ctx, "/getTaskResult", taskResultRequest{
			ClientKey: c.apiKey,
			TaskID:    created.TaskID,
		}, &result); err != nil {
			return "", fmt.Errorf("capsolver poll: %w", err)
		}
		if result.ErrorID != 0 {
			return "", fmt.Errorf("capsolver task failed: %s", result.ErrorDescription)
		}
		if result.Status == "ready" {
			if result.Solution.Token == "" {
				return "", fmt.Errorf("capsolver returned empty token")
			}
			return result.Solution.Token, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("capsolver poll budget exhausted")
		}
	}
}

func (c *CapsolverClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
